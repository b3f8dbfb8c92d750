// Package worker implements the segment worker: it pulls the
// next segment off the SegmentQueue, opens a streaming HTTP body, and pipes
// the bytes to the Output Bus in fixed-size chunks without ever buffering a
// whole segment in memory.
package worker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/streamline-hls/twitch-hls-client/internal/errs"
	"github.com/streamline-hls/twitch-hls-client/internal/fetch"
	"github.com/streamline-hls/twitch-hls-client/internal/playlist"
	"github.com/streamline-hls/twitch-hls-client/internal/queue"
)

// chunkSize keeps each write to the Output Bus small and frequent.
const chunkSize = 32 * 1024

// BusWriter is the slice of the Output Bus the Worker depends on. Kept
// narrow so tests can substitute a recorder without pulling in the sink
// package's TCP/player machinery.
type BusWriter interface {
	Write(chunk []byte)
}

// Options configures retry budget and the low-latency startup catch-up
// policy, threaded down from the Session's configuration surface.
type Options struct {
	LowLatency  bool
	HTTPRetries int
	Headers     map[string]string
}

// Worker is the single logical segment fetcher. It holds no state beyond its
// own run loop and a pause flag set by the Loop Controller when the bus has
// no sinks.
type Worker struct {
	client fetch.Client
	queue  *queue.SegmentQueue
	bus    BusWriter
	opts   Options
	log    *slog.Logger

	targetDuration time.Duration
	pauseCh        chan bool
}

func New(client fetch.Client, q *queue.SegmentQueue, bus BusWriter, opts Options, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		client:         client,
		queue:          q,
		bus:            bus,
		opts:           opts,
		log:            log.With("component", "worker"),
		targetDuration: 2 * time.Second,
		pauseCh:        make(chan bool, 1),
	}
}

// SetTargetDuration updates the retry-wait ceiling once the first playlist
// has been parsed: retries never wait longer than target_duration.
func (w *Worker) SetTargetDuration(d time.Duration) {
	if d > 0 {
		w.targetDuration = d
	}
}

// SetPaused tells the Worker to stop popping new segments while the Output
// Bus has no sinks attached.
func (w *Worker) SetPaused(paused bool) {
	select {
	case <-w.pauseCh:
	default:
	}
	w.pauseCh <- paused
}

// Run performs the startup catch-up, then delivers segments sequentially
// until the queue reports stopped or ended. It returns nil on a clean finish
// and a *errs.Error for a fatal bus failure.
func (w *Worker) Run(ctx context.Context, initial *playlist.MediaPlaylist) error {
	w.applyStartupCatchUp(initial)

	paused := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-w.pauseCh:
			paused = p
			continue
		default:
		}

		if paused {
			select {
			case <-ctx.Done():
				return nil
			case p := <-w.pauseCh:
				paused = p
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		_, ok, ended := w.queue.Wait()
		if !ok && !ended {
			return nil // queue stopped
		}
		if ended {
			w.log.Info("stream ended, worker exiting")
			return nil
		}

		popped, ok := w.queue.Pop()
		if !ok {
			continue
		}

		if err := w.deliver(ctx, popped); err != nil {
			if e, ok := errs.As(err); ok && e.Kind == errs.KindSinkWriteFailed {
				return err
			}
			w.log.Warn("segment delivery failed, continuing", "sequence", popped.Sequence, "err", err)
		}
	}
}

// applyStartupCatchUp jumps to the latest prefetch in low-latency mode, else
// the last segment in the initial playlist, so the worker does not replay an
// entire buffer of already-stale segments on startup.
func (w *Worker) applyStartupCatchUp(initial *playlist.MediaPlaylist) {
	if initial == nil {
		return
	}

	var entry playlist.Segment
	var have bool
	if w.opts.LowLatency {
		entry, have = initial.LatestPrefetch()
	}
	if !have {
		entry, have = initial.Last()
	}
	if !have {
		return
	}

	// Seed the cursor to just before the chosen entry so the first Pop
	// returns it rather than skipping past it.
	if entry.Sequence > 0 {
		w.queue.SeedLastDelivered(entry.Sequence - 1)
	}
}

// deliver opens the segment stream and pipes it through the Output Bus in
// fixed-size chunks, applying the open/retry policy below.
func (w *Worker) deliver(ctx context.Context, seg playlist.Segment) error {
	src, err := w.openWithRetry(ctx, seg)
	if err != nil {
		e, ok := errs.As(err)
		if ok && (e.Kind == errs.KindHTTPStatus4xxPrefetch || e.Kind == errs.KindHTTPStatus4xxNormal) {
			w.log.Warn("segment not available after retries, skipping", "sequence", seg.Sequence, "kind", seg.Kind)
			return nil
		}
		return err
	}
	if src == nil {
		return nil
	}
	defer src.Close()

	buf := make([]byte, chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			w.bus.Write(chunk)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return errs.New(errs.KindTransportTransient, "worker.deliver", readErr)
		}
	}
}

// openWithRetry retries a transient or 5xx failure up to http_retries times,
// and treats a 4xx on a prefetch as "not ready yet" with a single short
// retry before giving up.
func (w *Worker) openWithRetry(ctx context.Context, seg playlist.Segment) (fetch.ByteSource, error) {
	maxWait := w.targetDuration
	attempts := w.opts.HTTPRetries
	if attempts < 1 {
		attempts = 1
	}
	if seg.Kind.IsPrefetch() {
		// "single short retry" for a not-ready prefetch, regardless of the
		// general http_retries budget.
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * 200 * time.Millisecond
			if wait > maxWait {
				wait = maxWait
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		status, src, err := w.client.OpenStream(ctx, seg.URL, w.opts.Headers)
		if err != nil {
			lastErr = errs.New(errs.KindTransportTransient, "worker.openWithRetry", err)
			continue
		}
		if status >= 500 {
			lastErr = errs.New(errs.KindHTTPStatus5xx, "worker.openWithRetry", nil)
			continue
		}
		if status >= 400 {
			if seg.Kind.IsPrefetch() {
				lastErr = errs.New(errs.KindHTTPStatus4xxPrefetch, "worker.openWithRetry", nil)
				continue
			}
			// A 4xx on a normal segment means it's gone, not "not ready yet" —
			// skip it on the first miss rather than burning the retry budget.
			return nil, errs.New(errs.KindHTTPStatus4xxNormal, "worker.openWithRetry", nil)
		}
		return src, nil
	}

	return nil, lastErr
}
