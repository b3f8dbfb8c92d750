package sink

import (
	"log/slog"
	"sync"
	"time"
)

// entry pairs a Sink with its bounded per-sink queue and drain goroutine.
// The queue exists so one slow sink cannot block Write from reaching the
// others from seeing new chunks.
type entry struct {
	id    uint64
	sink  Sink
	queue chan []byte
	done  chan struct{}
}

// Bus is the Output Bus: it owns the active sink set and fans every write
// out to each of them independently. Grounded on the fan-out shape of a
// broadcaster that pushes chunks to many subscribed listener channels, one
// goroutine per listener, dropping (here: evicting) a listener that can't
// keep up.
type Bus struct {
	opts Options
	log  *slog.Logger

	mu                sync.RWMutex
	entries           map[uint64]*entry
	nextID            uint64
	expectTCPListener bool
	paused            bool

	events chan Event
}

func New(opts Options, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		opts:    opts.withDefaults(),
		log:     log.With("component", "output_bus"),
		entries: make(map[uint64]*entry),
		events:  make(chan Event, 8),
	}
}

// Events returns the channel the Loop Controller watches for Paused,
// Resumed, and AllOutputsClosed transitions.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// SetExpectTCPListener tells the bus whether a TCP listener is active and
// may hand it new sinks later. With it true, losing every sink is "Paused"
// rather than fatal.
func (b *Bus) SetExpectTCPListener(expect bool) {
	b.mu.Lock()
	b.expectTCPListener = expect
	b.mu.Unlock()
}

// Attach adds a sink to the active set and starts its drain goroutine.
func (b *Bus) Attach(s Sink) uint64 {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	e := &entry{
		id:    id,
		sink:  s,
		queue: make(chan []byte, b.opts.QueueDepth),
		done:  make(chan struct{}),
	}
	b.entries[id] = e
	wasPaused := b.paused
	b.paused = false
	b.mu.Unlock()

	go b.drain(e)

	if wasPaused {
		b.emit(Event{Kind: EventResumed})
	}
	return id
}

// Detach removes a sink by id, closing it. Safe to call more than once.
func (b *Bus) Detach(id uint64) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.entries, id)
	empty := len(b.entries) == 0
	expectTCP := b.expectTCPListener
	var transition *Event
	if empty {
		if expectTCP {
			b.paused = true
			transition = &Event{Kind: EventPaused}
		} else {
			transition = &Event{Kind: EventAllOutputsClosed}
		}
	}
	b.mu.Unlock()

	close(e.done)
	if err := e.sink.Close(); err != nil {
		b.log.Warn("sink close failed", "kind", e.sink.Kind(), "err", err)
	}
	if transition != nil {
		b.emit(*transition)
	}
}

// Write fans chunk out to every attached sink. Each sink gets its own bounded
// queue slot within opts.WriteTimeout; a sink that can't accept the chunk in
// time is detached. Write itself never blocks longer than the timeout,
// regardless of how many sinks are attached, since all sends race in
// parallel.
func (b *Bus) Write(chunk []byte) {
	b.mu.RLock()
	targets := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		targets = append(targets, e)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, e := range targets {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			select {
			case e.queue <- chunk:
			case <-e.done:
			case <-time.After(b.opts.WriteTimeout):
				b.log.Warn("sink slow, detaching", "kind", e.sink.Kind())
				b.Detach(e.id)
			}
		}(e)
	}
	wg.Wait()
}

// ActiveCount reports how many sinks are currently attached.
func (b *Bus) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// CloseAll flushes and closes every attached sink, for shutdown.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Detach(id)
	}
}

func (b *Bus) drain(e *entry) {
	for {
		select {
		case <-e.done:
			return
		case chunk := <-e.queue:
			if err := e.sink.WriteAll(chunk); err != nil {
				b.log.Warn("sink write failed, detaching", "kind", e.sink.Kind(), "err", err)
				b.Detach(e.id)
				return
			}
		}
	}
}

func (b *Bus) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		// Events channel is deep enough that the Loop Controller should
		// never be this far behind; drop rather than block the bus.
	}
}
