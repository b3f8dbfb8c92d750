// Package sink implements the Output Bus: fan-out of the
// MPEG-TS byte stream to a player process pipe, a record file, and/or a set
// of TCP clients, with per-sink backpressure and failure isolation.
package sink

import "time"

// Kind distinguishes the three sink roles the bus supports. The bus treats
// the player sink specially: its closure (unlike a TCP client's) signals
// AllOutputsClosed unless another sink remains.
type Kind int

const (
	KindPlayer Kind = iota
	KindRecord
	KindTCP
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindRecord:
		return "record"
	case KindTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Sink is the capability every output exposes: "any object supporting
// write_all(bytes) → Ok | Err(retriable?) and close()". Implementations must
// not block WriteAll indefinitely; the Bus enforces its own timeout around
// every call, but a sink with its own internal deadline (e.g. a TCP write
// deadline) fails faster and more precisely.
type Sink interface {
	Kind() Kind
	WriteAll(chunk []byte) error
	Close() error
}

// defaultQueueDepth holds a small, fixed number of pending chunks.
const defaultQueueDepth = 4

// EventKind enumerates the signals the Bus raises to the Loop Controller.
type EventKind int

const (
	// EventPaused fires when every sink is gone but a TCP listener is
	// still expected to accept new clients.
	EventPaused EventKind = iota
	// EventResumed fires when a sink attaches while the bus was paused.
	EventResumed
	// EventAllOutputsClosed fires when every sink is gone and none are
	// expected (no TCP listener configured to accept new ones).
	EventAllOutputsClosed
)

func (e EventKind) String() string {
	switch e {
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventAllOutputsClosed:
		return "all_outputs_closed"
	default:
		return "unknown"
	}
}

// Event is delivered on Bus.Events() whenever the active-sink set transitions
// between empty and non-empty.
type Event struct {
	Kind EventKind
}

// Options configures the per-sink write timeout used by the Bus.
type Options struct {
	WriteTimeout time.Duration
	QueueDepth int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	return o
}
