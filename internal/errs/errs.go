// Package errs provides the sum-typed error classification the core uses to
// decide whether to retry, skip, or escalate a failure. Callers should not
// type-switch on the underlying cause — they should ask an *Error what its
// Kind is and whether it Retriable() or Fatal().
package errs

import "fmt"

// Kind enumerates the error taxonomy from the failure design.
type Kind int

const (
	// KindTransportTransient covers network-level failures on an HTTP
	// fetch or stream open: timeouts, connection resets, DNS failures.
	KindTransportTransient Kind = iota
	// KindHTTPStatus4xxPrefetch is a 4xx on a prefetch segment URL — the
	// segment likely isn't written yet.
	KindHTTPStatus4xxPrefetch
	// KindHTTPStatus4xxNormal is a 4xx on a normal (non-prefetch) segment.
	KindHTTPStatus4xxNormal
	// KindHTTPStatus5xx is a 5xx from any fetch.
	KindHTTPStatus5xx
	// KindInvalidPlaylist is a parse failure on a playlist body.
	KindInvalidPlaylist
	// KindPlaylistUnreachable is raised once the refresher has exhausted
	// its retries against the variant playlist URL.
	KindPlaylistUnreachable
	// KindSinkWriteFailed is a single sink's write or flush failure.
	KindSinkWriteFailed
	// KindAllOutputsClosed means the output bus has no sinks left and
	// none are expected (no TCP listener configured to accept new ones).
	KindAllOutputsClosed
	// KindInterrupted is a user-requested shutdown (signal or
	// SessionHandle.Stop()).
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindTransportTransient:
		return "transport_transient"
	case KindHTTPStatus4xxPrefetch:
		return "http_4xx_prefetch"
	case KindHTTPStatus4xxNormal:
		return "http_4xx_normal"
	case KindHTTPStatus5xx:
		return "http_5xx"
	case KindInvalidPlaylist:
		return "invalid_playlist"
	case KindPlaylistUnreachable:
		return "playlist_unreachable"
	case KindSinkWriteFailed:
		return "sink_write_failed"
	case KindAllOutputsClosed:
		return "all_outputs_closed"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// retry/fatal policy without inspecting string messages.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "refresher.fetch"
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the local component should retry the operation
// itself before escalating.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindTransportTransient, KindHTTPStatus4xxPrefetch, KindHTTPStatus5xx:
		return true
	default:
		return false
	}
}

// Fatal reports whether this error kind should terminate the session once
// local recovery (retry/skip) is exhausted.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindPlaylistUnreachable, KindAllOutputsClosed, KindInvalidPlaylist:
		return true
	default:
		return false
	}
}

// As reports whether err (or something it wraps) is an *Error, and if so
// returns it. A thin convenience over errors.As for the common case.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
