// Package refresher implements the Playlist Refresher : a
// periodic fetcher that reloads the variant media playlist on a schedule
// anchored to target_duration and merges each new snapshot into the shared
// SegmentQueue. It never performs I/O while holding the queue's lock and
// checks its stop flag between sleep and fetch, never mid-request.
package refresher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streamline-hls/twitch-hls-client/internal/errs"
	"github.com/streamline-hls/twitch-hls-client/internal/fetch"
	"github.com/streamline-hls/twitch-hls-client/internal/playlist"
	"github.com/streamline-hls/twitch-hls-client/internal/queue"
)

// defaultTargetDuration is used for the very first cycle, before any
// playlist has told us its real target_duration.
const defaultTargetDuration = 2 * time.Second

// catchUpCeiling bounds the advanced retry cadence when a refresh returns no
// new segments: the cap is min(interval, 1.0s).
const catchUpCeiling = time.Second

// pausedInterval is the slow "keep the playlist warm" cadence used while the
// Output Bus has signaled Paused.
const pausedInterval = 10 * time.Second

// Options controls the refresh cadence and retry budget, threaded down from
// the Session's configuration surface.
type Options struct {
	LowLatency bool
	HTTPRetries int
	HTTPTimeout time.Duration
	Headers map[string]string
}

// Refresher owns nothing but its own run loop; the SegmentQueue is the only
// piece of state it shares with the rest of the session.
type Refresher struct {
	client fetch.Client
	queue *queue.SegmentQueue
	variantURL string
	opts Options
	log *slog.Logger

	mu sync.Mutex
	paused bool
	targetDuration time.Duration
	haveTargetDuration bool
}

func New(client fetch.Client, q *queue.SegmentQueue, variantURL string, opts Options, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		client: client,
		queue: q,
		variantURL: variantURL,
		opts: opts,
		log: log.With("component", "refresher"),
	}
}

// SetPaused toggles the slow cadence the Loop Controller requests while no
// sinks are attached: the Refresher keeps polling so a reconnecting TCP
// client resumes at the latest segment, but far slower than streaming pace.
func (r *Refresher) SetPaused(paused bool) {
	r.mu.Lock()
	r.paused = paused
	r.mu.Unlock()
}

func (r *Refresher) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Refresher) recordTargetDuration(seconds int) {
	if seconds <= 0 {
		return
	}
	r.mu.Lock()
	r.targetDuration = time.Duration(seconds) * time.Second
	r.haveTargetDuration = true
	r.mu.Unlock()
}

// interval returns the normal refresh cadence: target_duration, halved in
// low-latency mode, defaulting until the first playlist has been seen.
func (r *Refresher) interval() time.Duration {
	r.mu.Lock()
	d := r.targetDuration
	have := r.haveTargetDuration
	r.mu.Unlock()

	if !have {
		d = defaultTargetDuration
	}
	if r.opts.LowLatency {
		d /= 2
	}
	if d <= 0 {
		d = defaultTargetDuration
	}
	return d
}

// Run drives the refresh loop until ctx is cancelled or the stream ends. It
// returns nil on a clean stop (ctx cancellation, stream_ended) and a
// *errs.Error with KindPlaylistUnreachable or KindInvalidPlaylist on
// unrecoverable failure.
func (r *Refresher) Run(ctx context.Context) error {
	noNewSegments := false

	for {
		if err := r.sleepUntilNextCycle(ctx, noNewSegments); err != nil {
			return nil
		}
		if r.queue.StreamEnded() {
			return nil
		}

		before := r.queue.Len()
		if err := r.refreshOnce(ctx); err != nil {
			if e, ok := errs.As(err); ok && (e.Kind == errs.KindPlaylistUnreachable || e.Kind == errs.KindInvalidPlaylist) {
				return e
			}
			r.log.Warn("refresh failed, will retry next cycle", "err", err)
			noNewSegments = false
			continue
		}
		noNewSegments = r.queue.Len() <= before
	}
}

func (r *Refresher) sleepUntilNextCycle(ctx context.Context, noNewSegments bool) error {
	wait := r.interval()
	switch {
	case r.isPaused():
		wait = pausedInterval
	case noNewSegments && wait > catchUpCeiling:
		wait = catchUpCeiling
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// refreshOnce performs a single fetch-parse-merge cycle with the bounded
// retry and invalid-playlist policy: one immediate
// re-fetch on InvalidPlaylist, then fatal.
func (r *Refresher) refreshOnce(ctx context.Context) error {
	_, err := r.fetchAndMerge(ctx)
	return err
}

// Bootstrap performs the Loop Controller's first fetch (the
// bootstrapping state): fetch, parse, and merge the initial playlist,
// returning it so the caller can apply the worker's startup catch-up policy.
func (r *Refresher) Bootstrap(ctx context.Context) (*playlist.MediaPlaylist, error) {
	return r.fetchAndMerge(ctx)
}

func (r *Refresher) fetchAndMerge(ctx context.Context) (*playlist.MediaPlaylist, error) {
	body, err := r.fetchWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	mp, perr := playlist.Parse(body, r.variantURL)
	if perr != nil {
		r.log.Warn("invalid playlist, retrying once", "err", perr)
		body, err = r.fetchWithRetry(ctx)
		if err != nil {
			return nil, err
		}
		mp, perr = playlist.Parse(body, r.variantURL)
		if perr != nil {
			return nil, errs.New(errs.KindInvalidPlaylist, "refresher.refreshOnce", perr)
		}
	}

	r.recordTargetDuration(mp.TargetDurationSeconds)

	for _, seg := range mp.Segments {
		if seg.Discontinuity {
			r.log.Info("discontinuity marker", "sequence", seg.Sequence)
		}
		if seg.AdMarker {
			r.log.Info("ad marker", "sequence", seg.Sequence)
		}
	}

	r.queue.Merge(mp)
	return mp, nil
}

// TargetDuration returns the most recently observed target_duration, or the
// default before any playlist has been fetched.
func (r *Refresher) TargetDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveTargetDuration {
		return defaultTargetDuration
	}
	return r.targetDuration
}

// fetchWithRetry retries a transport or 5xx failure up to http_retries times,
// waiting at least HTTPTimeout before the first retry.
func (r *Refresher) fetchWithRetry(ctx context.Context) (string, error) {
	var lastErr error
	backoff := r.opts.HTTPTimeout
	if backoff <= 0 {
		backoff = time.Second
	}

	attempts := r.opts.HTTPRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		status, body, err := r.client.FetchText(ctx, r.variantURL, r.opts.Headers)
		if err != nil {
			lastErr = errs.New(errs.KindTransportTransient, "refresher.fetchWithRetry", err)
			continue
		}
		if status >= 500 {
			lastErr = errs.New(errs.KindHTTPStatus5xx, "refresher.fetchWithRetry", nil)
			continue
		}
		if status >= 400 {
			lastErr = errs.New(errs.KindHTTPStatus4xxNormal, "refresher.fetchWithRetry", nil)
			continue
		}
		return body, nil
	}

	return "", errs.New(errs.KindPlaylistUnreachable, "refresher.fetchWithRetry", lastErr)
}
