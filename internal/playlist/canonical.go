package playlist

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonical renders mp back into an HLS media-playlist body. It is not
// intended to reproduce Twitch's exact tag ordering or whitespace — only to
// satisfy the round-trip invariant: Parse(Canonical(mp),
// baseURL) must yield a MediaPlaylist equal to mp in every field Parse can
// recover.
func Canonical(mp *MediaPlaylist) string {
	var b strings.Builder
	b.WriteString(tagM3U)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s%d\n", tagTargetDuration, mp.TargetDurationSeconds)
	fmt.Fprintf(&b, "%s%d\n", tagMediaSequence, mp.MediaSequenceBase)
	if mp.ServerTimeRef != "" {
		fmt.Fprintf(&b, "%s%s\n", tagDateTime, mp.ServerTimeRef)
	}

	for _, s := range mp.Segments {
		if s.Discontinuity {
			b.WriteString(tagDiscontinuity)
			b.WriteByte('\n')
		}
		if s.Kind.IsPrefetch() {
			fmt.Fprintf(&b, "%s%s\n", tagPrefetchURL, s.URL)
			continue
		}
		fmt.Fprintf(&b, "%s%s,\n", tagExtInf, strconv.FormatFloat(s.Duration, 'f', -1, 64))
		b.WriteString(s.URL)
		b.WriteByte('\n')
	}

	if mp.Ended {
		b.WriteString(tagEndlist)
		b.WriteByte('\n')
	}
	return b.String()
}
