// Package queue implements the in-memory model of "what to fetch next": a
// monotonically advancing cursor over segments merged in from successive
// playlist snapshots. It is the one piece of state shared between the
// Refresher (writer) and the Worker (reader), guarded by a single mutex with
// an associated condition variable.
package queue

import (
	"sync"

	"github.com/streamline-hls/twitch-hls-client/internal/playlist"
)

// SegmentQueue is owned by the Loop Controller and accessed by the
// Refresher (Merge) and the Worker (Pop/Wait).
type SegmentQueue struct {
	mu sync.Mutex
	cond *sync.Cond

	lastDelivered uint64
	haveLastDelivered bool
	pending []playlist.Segment
	seenPrefetchSeqs map[uint64]struct{}
	playlistGeneration uint64
	streamEnded bool
	stopped bool
}

func New() *SegmentQueue {
	q := &SegmentQueue{
		seenPrefetchSeqs: make(map[uint64]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Merge folds a new MediaPlaylist snapshot into the pending backlog:
// discard anything at or behind the last delivered sequence, append the
// remainder in order, and never re-queue a prefetch sequence already seen
// (Twitch re-advertises the same prefetch with a different query string
// across refreshes — the first URL observed wins).
func (q *SegmentQueue) Merge(mp *playlist.MediaPlaylist) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.streamEnded {
		return
	}

	for _, seg := range mp.Segments {
		if q.haveLastDelivered && seg.Sequence <= q.lastDelivered {
			continue
		}
		if seg.Kind.IsPrefetch() {
			if _, seen := q.seenPrefetchSeqs[seg.Sequence]; seen {
				continue
			}
			q.seenPrefetchSeqs[seg.Sequence] = struct{}{}
		}
		if q.containsSequence(seg.Sequence) {
			continue
		}
		q.pending = append(q.pending, seg)
	}

	if mp.Ended {
		q.streamEnded = true
	}

	q.playlistGeneration++
	q.cond.Broadcast()
}

func (q *SegmentQueue) containsSequence(seq uint64) bool {
	for _, s := range q.pending {
		if s.Sequence == seq {
			return true
		}
	}
	return false
}

// Wait blocks until the queue has a head segment, the stream has ended with
// an empty queue, or Stop has been called. It never spins: a caller that
// observes (Segment{}, false, false) should treat the queue as stopped.
func (q *SegmentQueue) Wait() (seg playlist.Segment, ok bool, ended bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.stopped {
			return playlist.Segment{}, false, false
		}
		if len(q.pending) > 0 {
			return q.pending[0], true, false
		}
		if q.streamEnded {
			return playlist.Segment{}, false, true
		}
		q.cond.Wait()
	}
}

// Pop removes and returns the head segment, advancing lastDelivered before
// the caller begins fetching it — this is what makes a concurrent Merge
// correctly skip a segment already claimed.
func (q *SegmentQueue) Pop() (playlist.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return playlist.Segment{}, false
	}
	seg := q.pending[0]
	q.pending = q.pending[1:]
	q.lastDelivered = seg.Sequence
	q.haveLastDelivered = true
	return seg, true
}

// LastDelivered returns the highest sequence the worker has popped so far.
func (q *SegmentQueue) LastDelivered() (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastDelivered, q.haveLastDelivered
}

// Len reports how many segments are pending.
func (q *SegmentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// StreamEnded reports whether #EXT-X-ENDLIST has been observed. Sticky once
// true.
func (q *SegmentQueue) StreamEnded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.streamEnded
}

// Generation returns the playlist_generation counter, bumped on every
// successful Merge.
func (q *SegmentQueue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playlistGeneration
}

// Stop wakes any blocked Wait call and makes future Wait calls return
// immediately with ok=false, ended=false.
func (q *SegmentQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// SeedLastDelivered sets the cursor without enqueuing anything — used by the
// worker's startup catch-up policy to jump straight to the
// latest prefetch or latest segment without replaying everything before it.
func (q *SegmentQueue) SeedLastDelivered(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.haveLastDelivered || seq > q.lastDelivered {
		q.lastDelivered = seq
		q.haveLastDelivered = true
	}
	n := 0
	for _, s := range q.pending {
		if s.Sequence > seq {
			q.pending[n] = s
			n++
		}
	}
	q.pending = q.pending[:n]
}
