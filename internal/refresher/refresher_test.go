package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamline-hls/twitch-hls-client/internal/errs"
	"github.com/streamline-hls/twitch-hls-client/internal/fetch"
	"github.com/streamline-hls/twitch-hls-client/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

const playlist1 = "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:1\n" +
	"#EXTINF:1.0,\nhttps://example.net/1.ts\n"

const playlist2 = "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:1\n" +
	"#EXTINF:1.0,\nhttps://example.net/1.ts\n#EXTINF:1.0,\nhttps://example.net/2.ts\n"

func TestRun_MergesSuccessivePlaylistsUntilCancelled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			fmt.Fprint(w, playlist1)
			return
		}
		fmt.Fprint(w, playlist2)
	}))
	defer srv.Close()

	q := queue.New()
	client := fetch.New(2*time.Second, "test-agent")
	r := New(client, q, srv.URL, Options{HTTPRetries: 2, HTTPTimeout: 50 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if q.Len() == 0 {
		t.Fatalf("expected at least one segment merged into the queue")
	}
}

func TestRun_PlaylistUnreachableAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := queue.New()
	client := fetch.New(2*time.Second, "test-agent")
	r := New(client, q, srv.URL, Options{HTTPRetries: 2, HTTPTimeout: 10 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.Run(ctx)
	if err == nil {
		t.Fatalf("expected PlaylistUnreachable error")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindPlaylistUnreachable {
		t.Fatalf("err = %v, want KindPlaylistUnreachable", err)
	}
}

func TestRun_InvalidPlaylistIsFatalAfterOneRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "not a playlist")
	}))
	defer srv.Close()

	q := queue.New()
	client := fetch.New(2*time.Second, "test-agent")
	r := New(client, q, srv.URL, Options{HTTPRetries: 1, HTTPTimeout: 10 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.Run(ctx)
	if err == nil {
		t.Fatalf("expected InvalidPlaylist error")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindInvalidPlaylist {
		t.Fatalf("err = %v, want KindInvalidPlaylist", err)
	}
}

func TestRun_StopsCleanlyOnStreamEnded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:1\n"+
			"#EXTINF:1.0,\nhttps://example.net/1.ts\n#EXT-X-ENDLIST\n")
	}))
	defer srv.Close()

	q := queue.New()
	client := fetch.New(2*time.Second, "test-agent")
	r := New(client, q, srv.URL, Options{HTTPRetries: 1, HTTPTimeout: 10 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after stream_ended")
	}
	if !q.StreamEnded() {
		t.Fatalf("expected StreamEnded()=true")
	}
}
