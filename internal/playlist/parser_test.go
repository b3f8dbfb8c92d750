package playlist

import (
	"reflect"
	"testing"
)

const baseURL = "https://video-weaver.example.net/fake/index.m3u8"

func TestParse_HappyPathWithPrefetch(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:100\n" +
		"#EXTINF:2.000,\n" +
		"https://example.net/100.ts\n" +
		"#EXTINF:2.000,\n" +
		"https://example.net/101.ts\n" +
		"#EXTINF:2.000,\n" +
		"https://example.net/102.ts\n" +
		"#EXT-X-TWITCH-PREFETCH-URL:https://example.net/103.ts?hint=1\n"

	mp, err := Parse(body, baseURL)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if mp.TargetDurationSeconds != 2 {
		t.Fatalf("TargetDurationSeconds = %d, want 2", mp.TargetDurationSeconds)
	}
	if mp.MediaSequenceBase != 100 {
		t.Fatalf("MediaSequenceBase = %d, want 100", mp.MediaSequenceBase)
	}
	if len(mp.Segments) != 4 {
		t.Fatalf("len(Segments) = %d, want 4", len(mp.Segments))
	}

	last := mp.Segments[3]
	if last.Kind != PrefetchNext {
		t.Fatalf("last segment kind = %v, want PrefetchNext", last.Kind)
	}
	if last.Sequence != 103 {
		t.Fatalf("prefetch sequence = %d, want 103", last.Sequence)
	}

	latest, ok := mp.LatestPrefetch()
	if !ok || latest.Sequence != 103 {
		t.Fatalf("LatestPrefetch() = %+v, %v, want sequence 103", latest, ok)
	}
}

func TestParse_MissingHeaderIsInvalid(t *testing.T) {
	_, err := Parse("#EXT-X-TARGETDURATION:2\n", baseURL)
	if err == nil {
		t.Fatalf("expected error for missing #EXTM3U header")
	}
}

func TestParse_SegmentURLWithoutExtInfIsInvalid(t *testing.T) {
	body := "#EXTM3U\nhttps://example.net/100.ts\n"
	_, err := Parse(body, baseURL)
	if err == nil {
		t.Fatalf("expected error for URL without preceding #EXTINF")
	}
}

func TestParse_MalformedDurationIsInvalid(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:not-a-number,\nhttps://example.net/1.ts\n"
	_, err := Parse(body, baseURL)
	if err == nil {
		t.Fatalf("expected error for malformed #EXTINF duration")
	}
}

func TestParse_Discontinuity(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:57\n" +
		"#EXT-X-DISCONTINUITY\n" +
		"#EXTINF:2.000,\n" +
		"https://example.net/57.ts\n"

	mp, err := Parse(body, baseURL)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(mp.Segments) != 1 || !mp.Segments[0].Discontinuity {
		t.Fatalf("expected single discontinuous segment, got %+v", mp.Segments)
	}
}

func TestParse_Endlist(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:200\n" +
		"#EXTINF:2.000,\n" +
		"https://example.net/200.ts\n" +
		"#EXT-X-ENDLIST\n"

	mp, err := Parse(body, baseURL)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !mp.Ended {
		t.Fatalf("expected Ended=true")
	}
}

func TestParse_RelativePrefetchURLResolvedAgainstBase(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:1\n" +
		"#EXT-X-TWITCH-PREFETCH-URL:../seg/2.ts\n"

	mp, err := Parse(body, baseURL)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := "https://video-weaver.example.net/fake/seg/2.ts"
	if mp.Segments[0].URL != want {
		t.Fatalf("resolved URL = %q, want %q", mp.Segments[0].URL, want)
	}
}

func TestParse_OnlyPrefetchesIsPlayable(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:5\n" +
		"#EXT-X-TWITCH-PREFETCH-URL:https://example.net/5.ts\n" +
		"#EXT-X-TWITCH-PREFETCH-URL:https://example.net/6.ts\n"

	mp, err := Parse(body, baseURL)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !mp.HasOnlyPrefetches() {
		t.Fatalf("expected HasOnlyPrefetches()=true")
	}
	if mp.Segments[0].Kind != PrefetchNext || mp.Segments[1].Kind != PrefetchNextNext {
		t.Fatalf("expected PrefetchNext then PrefetchNextNext, got %v %v",
			mp.Segments[0].Kind, mp.Segments[1].Kind)
	}
	if mp.Segments[0].Sequence != 5 || mp.Segments[1].Sequence != 6 {
		t.Fatalf("expected strictly increasing sequences 5, 6, got %d, %d",
			mp.Segments[0].Sequence, mp.Segments[1].Sequence)
	}
}

func TestRoundTrip_CanonicalThenReparse(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:100\n" +
		"#EXT-X-DISCONTINUITY\n" +
		"#EXTINF:2.000,\n" +
		"https://example.net/100.ts\n" +
		"#EXTINF:2.000,\n" +
		"https://example.net/101.ts\n" +
		"#EXT-X-TWITCH-PREFETCH-URL:https://example.net/102.ts\n" +
		"#EXT-X-ENDLIST\n"

	first, err := Parse(body, baseURL)
	if err != nil {
		t.Fatalf("first Parse failed: %v", err)
	}

	rendered := Canonical(first)
	second, err := Parse(rendered, baseURL)
	if err != nil {
		t.Fatalf("reparse failed: %v\nrendered:\n%s", err, rendered)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("round trip mismatch:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
