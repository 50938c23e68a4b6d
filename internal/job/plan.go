package job

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RungConfig is one row of a transform plan: the encode parameters
// for a single HLS ladder rung.
type RungConfig struct {
	Width      int // 0 means auto (-2, preserving aspect ratio)
	Height     int
	Quality    int
	AudioRate  string
	IsOriginal bool
}

// Plan maps a ladder rung label (e.g. "720p", "1440p", "2160p") to its
// RungConfig. At least two rungs are required for a valid HLS plan.
type Plan struct {
	Rungs map[string]RungConfig
}

// hlsCompatibleCodecs are source codecs the "original" rung can pass
// through without re-encoding.
var hlsCompatibleCodecs = map[string]bool{
	"h264": true, "avc": true, "avc1": true,
	"h265": true, "hevc": true, "hvc1": true, "hev1": true,
}

// IsHLSCompatibleCodec reports whether codec (case-insensitive) can
// be copied straight into an HLS rung without re-encoding.
func IsHLSCompatibleCodec(codec string) bool {
	return hlsCompatibleCodecs[strings.ToLower(codec)]
}

// OriginalRungLabel names the "original" rung for a probed input
// height. Inputs strictly between 1080 and 2160 are labelled
// "1440p" rather than rounding to either neighbor, so a client
// reading stream_playlists[].resolution sees the actual height.
func OriginalRungLabel(inputHeight int) string {
	switch {
	case inputHeight >= 2160:
		return "2160p"
	case inputHeight > 1080:
		return "1440p"
	default:
		return "1080p"
	}
}

// rungHeights orders the fixed re-encode rungs low to high.
var rungOrder = []struct {
	rung    HLSRung
	height  int
	quality int
	audio   string
}{
	{Rung240p, 240, 30, "64k"},
	{Rung360p, 360, 28, "96k"},
	{Rung480p, 480, 26, "128k"},
	{Rung720p, 720, 23, ""},
	{Rung1080p, 1080, 20, ""},
}

// BuildPlan derives a transform plan from the probed input height,
// the user-selected rungs (empty means "all"), and the source video
// codec (used to decide whether the original rung can pass through).
func BuildPlan(inputHeight int, selected []HLSRung, sourceCodec string) Plan {
	if inputHeight <= 0 {
		inputHeight = 1080
	}
	if len(selected) == 0 {
		selected = []HLSRung{Rung240p, Rung360p, Rung480p, Rung720p, Rung1080p, RungOriginal}
	}

	want := make(map[HLSRung]bool, len(selected))
	for _, r := range selected {
		want[r] = true
	}

	includeOriginal := want[RungOriginal]
	isUltraHD := inputHeight >= 2160
	canPassthrough := sourceCodec == "" || IsHLSCompatibleCodec(sourceCodec)

	rungs := map[string]RungConfig{}
	for _, row := range rungOrder {
		if !want[row.rung] || inputHeight < row.height {
			continue
		}
		if row.rung == Rung1080p {
			// 1080p is only an explicit encoded rung when the source
			// is 4K+ (original becomes 2160p) or original isn't
			// selected at all; otherwise 1080p *is* the original rung.
			if !isUltraHD && includeOriginal {
				continue
			}
		}
		rungs[fmt.Sprintf("%dp", row.height)] = RungConfig{
			Height:    row.height,
			Quality:   row.quality,
			AudioRate: row.audio,
		}
	}

	if includeOriginal {
		label := OriginalRungLabel(inputHeight)
		cfg := RungConfig{IsOriginal: canPassthrough}
		if !canPassthrough {
			cfg.Height = inputHeight
			cfg.Quality = 18
		}
		rungs[label] = cfg
	}

	return Plan{Rungs: rungs}
}

// Valid reports whether the plan has at least two rungs, per spec.
func (p Plan) Valid() bool {
	return len(p.Rungs) >= 2
}

// SortedLabels returns the rung labels sorted by ascending numeric
// height (the "p" suffix stripped before comparison).
func (p Plan) SortedLabels() []string {
	labels := make([]string, 0, len(p.Rungs))
	for l := range p.Rungs {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		return rungHeight(labels[i]) < rungHeight(labels[j])
	})
	return labels
}

func rungHeight(label string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(label, "p"))
	if err != nil {
		return 0
	}
	return n
}

// EstimatedSeconds returns the ETA used for periodic status messages:
// duration/3 for MP4 or HLS inputs under 4K, duration/3*3 for HLS
// inputs at or above 4K height (reflecting the extra rung work).
func EstimatedSeconds(durationSecs float64, mode Mode, inputHeight int) float64 {
	base := durationSecs / 3
	if mode != ModeHLS {
		return base
	}
	if inputHeight >= 2160 {
		return base * 3
	}
	return base * 2
}

// FormatDuration renders seconds as a short human string for status
// messages: "Ns" under a minute, "Mm Ns" under an hour (seconds
// omitted when zero), else "Hh Mm" (minutes omitted when zero).
func FormatDuration(seconds float64) string {
	total := int64(seconds)
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	if total < 3600 {
		m, s := total/60, total%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h, m := total/3600, (total%3600)/60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
