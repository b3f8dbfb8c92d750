// Package session implements the Loop Controller: it owns the
// SegmentQueue and Output Bus, starts the Refresher and Worker, and
// translates their stop conditions into a single top-level exit code.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamline-hls/twitch-hls-client/internal/errs"
	"github.com/streamline-hls/twitch-hls-client/internal/fetch"
	"github.com/streamline-hls/twitch-hls-client/internal/queue"
	"github.com/streamline-hls/twitch-hls-client/internal/refresher"
	"github.com/streamline-hls/twitch-hls-client/internal/sink"
	"github.com/streamline-hls/twitch-hls-client/internal/worker"
)

// Options is the core's configuration surface.
type Options struct {
	LowLatency       bool
	HTTPRetries      int
	HTTPTimeout      time.Duration
	TCPClientTimeout time.Duration
	NoKill           bool
	RecordOverwrite  bool
	Headers          map[string]string
}

// Session bootstraps and runs one watch/record session end to end.
type Session struct {
	client fetch.Client
	log    *slog.Logger
}

func New(client fetch.Client, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{client: client, log: log.With("component", "session")}
}

// Start begins a session against variantURL with the given initial sinks
// already attached, returning immediately with a SessionHandle. The actual
// work runs on background goroutines.
func (s *Session) Start(variantURL string, initialSinks []sink.Sink, opts Options) *SessionHandle {
	ctx, cancel := context.WithCancel(context.Background())

	bus := sink.New(sink.Options{WriteTimeout: opts.TCPClientTimeout}, s.log)

	h := &SessionHandle{
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    bus,
	}
	h.setState(Bootstrapping)

	for _, sk := range initialSinks {
		bus.Attach(sk)
	}

	go h.run(ctx, s, variantURL, opts)
	return h
}

// SessionHandle is the exposed lifecycle surface: Wait() and Stop().
type SessionHandle struct {
	cancel context.CancelFunc
	bus    *sink.Bus

	mu    sync.Mutex
	state State

	once       sync.Once
	done       chan struct{}
	exitReason ExitReason

	lastDeliveredMu sync.Mutex
	queueForStatus  *queue.SegmentQueue
}

func (h *SessionHandle) setState(st State) {
	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
}

// State implements adminapi.StatusProvider.
func (h *SessionHandle) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.String()
}

// ActiveSinks implements adminapi.StatusProvider.
func (h *SessionHandle) ActiveSinks() int {
	return h.bus.ActiveCount()
}

// LastDeliveredSequence implements adminapi.StatusProvider.
func (h *SessionHandle) LastDeliveredSequence() (uint64, bool) {
	h.lastDeliveredMu.Lock()
	defer h.lastDeliveredMu.Unlock()
	if h.queueForStatus == nil {
		return 0, false
	}
	return h.queueForStatus.LastDelivered()
}

// Wait blocks until the session finishes and returns why. Safe to call from
// multiple goroutines; all callers observe the same ExitReason.
func (h *SessionHandle) Wait() ExitReason {
	<-h.done
	return h.exitReason
}

// Stop requests a graceful shutdown.
func (h *SessionHandle) Stop() {
	h.cancel()
}

// AttachSink lets the surrounding program hand the bus a new sink at
// runtime — e.g. a TCP listener attaching a newly connected client.
func (h *SessionHandle) AttachSink(sk sink.Sink) uint64 {
	return h.bus.Attach(sk)
}

// Bus exposes the underlying Output Bus so a TCP listener can attach newly
// connected clients directly, without routing every connection through the
// Loop Controller.
func (h *SessionHandle) Bus() *sink.Bus {
	return h.bus
}

func (h *SessionHandle) finish(reason ExitReason) {
	h.once.Do(func() {
		h.exitReason = reason
		if reason == ExitStreamEnded || reason == ExitInterrupted {
			h.setState(Done)
		} else {
			h.setState(Failed)
		}
		close(h.done)
	})
}

// run is the Loop Controller's body: Bootstrapping -> Streaming -> Ending/Done
// or -> Failed.
func (h *SessionHandle) run(ctx context.Context, s *Session, variantURL string, opts Options) {
	defer h.bus.CloseAll()

	q := queue.New()
	h.lastDeliveredMu.Lock()
	h.queueForStatus = q
	h.lastDeliveredMu.Unlock()
	defer q.Stop()

	refreshOpts := refresher.Options{
		LowLatency:  opts.LowLatency,
		HTTPRetries: opts.HTTPRetries,
		HTTPTimeout: opts.HTTPTimeout,
		Headers:     opts.Headers,
	}
	r := refresher.New(s.client, q, variantURL, refreshOpts, s.log)

	initial, err := r.Bootstrap(ctx)
	if err != nil {
		s.log.Error("bootstrap failed", "err", err)
		h.finish(classifyFatal(err))
		return
	}
	h.setState(Streaming)

	w := worker.New(s.client, q, h.bus, worker.Options{
		LowLatency:  opts.LowLatency,
		HTTPRetries: opts.HTTPRetries,
		Headers:     opts.Headers,
	}, s.log)
	w.SetTargetDuration(r.TargetDuration())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go h.watchBusEvents(runCtx, r, w)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(func() error {
		return w.Run(gctx, initial)
	})

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case <-ctx.Done():
		cancelRun()
		<-waitErr
		h.finish(ExitInterrupted)
	case err := <-waitErr:
		if err != nil {
			h.finish(classifyFatal(err))
			return
		}
		if q.StreamEnded() {
			h.setState(Ending)
			h.finish(ExitStreamEnded)
			return
		}
		h.finish(ExitInterrupted)
	}
}

// watchBusEvents implements the Paused <-> Streaming transition: when the
// bus has no sinks but a TCP listener remains active,
// the Worker is paused and the Refresher slows down to keep the playlist
// warm; on the next sink attach both resume.
func (h *SessionHandle) watchBusEvents(ctx context.Context, r *refresher.Refresher, w *worker.Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.bus.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case sink.EventPaused:
				h.setState(Paused)
				w.SetPaused(true)
				r.SetPaused(true)
			case sink.EventResumed:
				h.setState(Streaming)
				w.SetPaused(false)
				r.SetPaused(false)
			case sink.EventAllOutputsClosed:
				h.finish(ExitSinkFailure)
				h.cancel()
			}
		}
	}
}

func classifyFatal(err error) ExitReason {
	e, ok := errs.As(err)
	if !ok {
		return ExitFatalError
	}
	switch e.Kind {
	case errs.KindSinkWriteFailed, errs.KindAllOutputsClosed:
		return ExitSinkFailure
	case errs.KindInterrupted:
		return ExitInterrupted
	default:
		return ExitFatalError
	}
}
