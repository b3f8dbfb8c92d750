package playlist

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/streamline-hls/twitch-hls-client/internal/errs"
)

const (
	tagM3U = "#EXTM3U"
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagMediaSequence = "#EXT-X-MEDIA-SEQUENCE:"
	tagExtInf = "#EXTINF:"
	tagLiveSequence = "#EXT-X-TWITCH-LIVE-SEQUENCE:"
	tagPrefetchURL = "#EXT-X-TWITCH-PREFETCH-URL:"
	tagDiscontinuity = "#EXT-X-DISCONTINUITY"
	tagEndlist = "#EXT-X-ENDLIST"
	tagDateTime = "#EXT-X-PROGRAM-DATE-TIME:"
	tagDaterange = "#EXT-X-DATERANGE:"
)

// Parse turns a media-playlist body into a MediaPlaylist. baseURL resolves
// any relative segment or prefetch URL the playlist contains (Twitch itself
// always emits absolute URLs, but proxies sometimes don't).
func Parse(body string, baseURL string) (*MediaPlaylist, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse", fmt.Errorf("bad base URL: %w", err))
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	mp := &MediaPlaylist{Segments: make([]Segment, 0, 16)}

	sawHeader := false
	pendingDiscontinuity := false
	pendingAdMarker := false
	pendingDuration := -1.0
	havePendingExtInf := false
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == tagM3U:
			sawHeader = true

		case !sawHeader:
			return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse",
				fmt.Errorf("line %d: expected #EXTM3U as first tag, got %q", lineNum, line))

		case strings.HasPrefix(line, tagTargetDuration):
			v, err := strconv.Atoi(strings.TrimPrefix(line, tagTargetDuration))
			if err != nil {
				return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse",
					fmt.Errorf("line %d: malformed target duration: %w", lineNum, err))
			}
			mp.TargetDurationSeconds = v

		case strings.HasPrefix(line, tagMediaSequence):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, tagMediaSequence), 10, 64)
			if err != nil {
				return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse",
					fmt.Errorf("line %d: malformed media sequence: %w", lineNum, err))
			}
			mp.MediaSequenceBase = v

		case strings.HasPrefix(line, tagLiveSequence):
			// Informational only — the base we use for sequencing segments
			// is #EXT-X-MEDIA-SEQUENCE plus position

		case strings.HasPrefix(line, tagDateTime):
			mp.ServerTimeRef = strings.TrimPrefix(line, tagDateTime)

		case line == tagDiscontinuity:
			pendingDiscontinuity = true

		case strings.HasPrefix(line, tagDaterange):
			// Ads run inside an #EXT-X-DATERANGE window; Twitch's own ad
			// signaling has no dedicated tag, so this is the closest marker.
			pendingAdMarker = true

		case line == tagEndlist:
			mp.Ended = true

		case strings.HasPrefix(line, tagExtInf):
			dur, err := parseExtInfDuration(line, lineNum)
			if err != nil {
				return nil, err
			}
			pendingDuration = dur
			havePendingExtInf = true

		case strings.HasPrefix(line, tagPrefetchURL):
			raw := strings.TrimPrefix(line, tagPrefetchURL)
			resolved, err := resolveURL(base, raw)
			if err != nil {
				return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse",
					fmt.Errorf("line %d: bad prefetch URL: %w", lineNum, err))
			}
			seq := mp.MediaSequenceBase + uint64(len(mp.Segments))
			kind := PrefetchNext
			if hasPrefetch(mp.Segments) {
				kind = PrefetchNextNext
			}
			mp.Segments = append(mp.Segments, Segment{
				Sequence: seq,
				URL: resolved,
				Kind: kind,
				Discontinuity: pendingDiscontinuity,
				AdMarker: pendingAdMarker,
			})
			pendingDiscontinuity = false
			pendingAdMarker = false

		case strings.HasPrefix(line, "#"):
			// Unknown tag: ignored

		default:
			// A bare line is a segment URL; it must follow an #EXTINF tag.
			if !havePendingExtInf {
				return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse",
					fmt.Errorf("line %d: segment URL %q with no preceding #EXTINF", lineNum, line))
			}
			resolved, err := resolveURL(base, line)
			if err != nil {
				return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse",
					fmt.Errorf("line %d: bad segment URL: %w", lineNum, err))
			}
			seq := mp.MediaSequenceBase + uint64(countNormal(mp.Segments))
			mp.Segments = append(mp.Segments, Segment{
				Sequence: seq,
				URL: resolved,
				Duration: pendingDuration,
				Kind: Normal,
				Discontinuity: pendingDiscontinuity,
				AdMarker: pendingAdMarker,
			})
			pendingDiscontinuity = false
			pendingAdMarker = false
			havePendingExtInf = false
			pendingDuration = -1
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse", err)
	}
	if !sawHeader {
		return nil, errs.New(errs.KindInvalidPlaylist, "playlist.Parse", fmt.Errorf("missing #EXTM3U header"))
	}

	return mp, nil
}

// countNormal returns the count of Normal-kind segments already appended —
// this is the "segments.len()" the prefetch sequence-assignment rule
// refers to, since prefetches themselves don't advance it.
func countNormal(segs []Segment) int {
	n := 0
	for _, s := range segs {
		if s.Kind == Normal {
			n++
		}
	}
	return n
}

func hasPrefetch(segs []Segment) bool {
	for _, s := range segs {
		if s.Kind.IsPrefetch() {
			return true
		}
	}
	return false
}

func parseExtInfDuration(line string, lineNum int) (float64, error) {
	rest := strings.TrimPrefix(line, tagExtInf)
	durStr := rest
	if idx := strings.IndexByte(rest, ','); idx >= 0 {
		durStr = rest[:idx]
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
	if err != nil {
		return 0, errs.New(errs.KindInvalidPlaylist, "playlist.Parse",
			fmt.Errorf("line %d: malformed #EXTINF duration: %w", lineNum, err))
	}
	return dur, nil
}

func resolveURL(base *url.URL, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}
