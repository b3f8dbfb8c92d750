package queue

import (
	"testing"
	"time"

	"github.com/streamline-hls/twitch-hls-client/internal/playlist"
)

func seg(seq uint64, kind playlist.Kind) playlist.Segment {
	return playlist.Segment{Sequence: seq, URL: "https://example.net/x.ts", Kind: kind}
}

func TestMerge_AppendsInOrderAndDedupes(t *testing.T) {
	q := New()
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{
		seg(100, playlist.Normal), seg(101, playlist.Normal),
	}})
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	// Re-merging the same snapshot is a no-op.
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{
		seg(100, playlist.Normal), seg(101, playlist.Normal),
	}})
	if q.Len() != 2 {
		t.Fatalf("after re-merge, Len() = %d, want 2", q.Len())
	}
}

func TestPop_AdvancesLastDeliveredBeforeCallerFetches(t *testing.T) {
	q := New()
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{seg(5, playlist.Normal)}})

	got, ok := q.Pop()
	if !ok || got.Sequence != 5 {
		t.Fatalf("Pop() = %+v, %v, want sequence 5", got, ok)
	}
	last, have := q.LastDelivered()
	if !have || last != 5 {
		t.Fatalf("LastDelivered() = %d, %v, want 5, true", last, have)
	}

	// A concurrent Merge delivering sequence 5 again must be discarded.
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{seg(5, playlist.Normal), seg(6, playlist.Normal)}})
	if q.Len() != 1 {
		t.Fatalf("Len() after skip-already-delivered = %d, want 1", q.Len())
	}
}

func TestPrefetch_FirstURLWinsOnRepeatedSequence(t *testing.T) {
	q := New()
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{
		{Sequence: 10, URL: "https://example.net/first", Kind: playlist.PrefetchNext},
	}})
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{
		{Sequence: 10, URL: "https://example.net/second", Kind: playlist.PrefetchNext},
	}})

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (prefetch must not be re-queued)", q.Len())
	}
	got, _ := q.Pop()
	if got.URL != "https://example.net/first" {
		t.Fatalf("URL = %q, want first-observed URL", got.URL)
	}
}

func TestStreamEnded_IsSticky(t *testing.T) {
	q := New()
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{seg(1, playlist.Normal)}, Ended: true})
	if !q.StreamEnded() {
		t.Fatalf("expected StreamEnded()=true")
	}

	// A refresher must not run again once stream_ended, but if it
	// erroneously did, the merge must be rejected rather than resurrect
	// the queue.
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{seg(2, playlist.Normal)}})
	if q.Len() != 1 {
		t.Fatalf("Len() after post-end merge = %d, want 1 (merge must be ignored)", q.Len())
	}
}

func TestWait_ReturnsEndedWhenQueueDrainsAfterStreamEnd(t *testing.T) {
	q := New()
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{seg(1, playlist.Normal)}, Ended: true})

	if _, ok, ended := q.Wait(); !ok || ended {
		t.Fatalf("expected a pending head segment before ended, got ok=%v ended=%v", ok, ended)
	}
	q.Pop()

	_, ok, ended := q.Wait()
	if ok || !ended {
		t.Fatalf("expected ended=true once pending drains, got ok=%v ended=%v", ok, ended)
	}
}

func TestWait_UnblocksOnStop(t *testing.T) {
	q := New()
	done := make(chan struct{})
	go func() {
		_, ok, ended := q.Wait()
		if ok || ended {
			t.Errorf("expected Wait to return ok=false ended=false on Stop, got ok=%v ended=%v", ok, ended)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Stop")
	}
}

func TestSeedLastDelivered_DropsOlderPendingAndAdvancesCursor(t *testing.T) {
	q := New()
	q.Merge(&playlist.MediaPlaylist{Segments: []playlist.Segment{
		seg(100, playlist.Normal), seg(101, playlist.Normal), seg(102, playlist.Normal),
	}})

	q.SeedLastDelivered(101)
	if q.Len() != 1 {
		t.Fatalf("Len() after seed = %d, want 1", q.Len())
	}
	last, have := q.LastDelivered()
	if !have || last != 101 {
		t.Fatalf("LastDelivered() = %d, %v, want 101, true", last, have)
	}
}
