package sink

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPClientSink wraps one connected TCP client as a Sink. Each client has an
// independent write deadline: a slow client only costs itself,
// never the others.
type TCPClientSink struct {
	conn net.Conn
	timeout time.Duration

	mu sync.Mutex
	closed bool
}

func newTCPClientSink(conn net.Conn, timeout time.Duration) *TCPClientSink {
	return &TCPClientSink{conn: conn, timeout: timeout}
}

func (t *TCPClientSink) Kind() Kind { return KindTCP }

func (t *TCPClientSink) WriteAll(chunk []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(chunk)
	return err
}

func (t *TCPClientSink) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// TCPListener accepts new TCP connections and attaches each as a sink on the
// Bus. There is no framing, no handshake: a client receives raw MPEG-TS bytes
// from the point it connects onward, with no catch-up.
type TCPListener struct {
	ln net.Listener
	bus *Bus
	timeout time.Duration
	log *slog.Logger
}

// ListenTCP binds addr and returns a TCPListener. Call Serve to begin
// accepting clients; Close stops accepting and closes the listener socket
// (already-attached client sinks are left to the Bus to manage).
func ListenTCP(addr string, bus *Bus, clientTimeout time.Duration, log *slog.Logger) (*TCPListener, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	bus.SetExpectTCPListener(true)
	return &TCPListener{ln: ln, bus: bus, timeout: clientTimeout, log: log.With("component", "tcp_listener")}, nil
}

func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Serve blocks accepting connections until ctx is cancelled or the listener
// is closed.
func (l *TCPListener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		sink := newTCPClientSink(conn, l.timeout)
		id := l.bus.Attach(sink)
		l.log.Info("tcp client connected", "remote", conn.RemoteAddr(), "sink_id", id)
	}
}

func (l *TCPListener) Close() error {
	l.bus.SetExpectTCPListener(false)
	return l.ln.Close()
}
