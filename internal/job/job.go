// Package job implements the transcoding pipeline: transform
// planning, hardware-acceleration selection, ffprobe metadata
// extraction, ffmpeg invocation with progress tracking, and HLS
// playlist rewriting for Blossom upload.
package job

import (
	"github.com/nostrworks/video-dvm/internal/event"
)

// Mode selects the output container/packaging.
type Mode string

const (
	ModeMP4 Mode = "mp4"
	ModeHLS Mode = "hls"
)

// Resolution is a single-output MP4 target.
type Resolution string

const (
	Resolution240p  Resolution = "240p"
	Resolution360p  Resolution = "360p"
	Resolution480p  Resolution = "480p"
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
)

// Codec is the requested video codec for re-encoded rungs.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// HLSRung names one rung in the selected HLS resolution ladder. Rungs
// above the probed input height are dropped from the plan.
type HLSRung string

const (
	Rung240p     HLSRung = "240p"
	Rung360p     HLSRung = "360p"
	Rung480p     HLSRung = "480p"
	Rung720p     HLSRung = "720p"
	Rung1080p    HLSRung = "1080p"
	RungOriginal HLSRung = "original"
)

// Input names the source of a job: a URL, per spec.md's current
// supported input-type value.
type Input struct {
	Value  string
	Type   string
	Relay  string
	Marker string
}

// Context is the request shape built from an incoming job-request
// event (or its decrypted inner rumor), fully resolved to defaults.
type Context struct {
	Event          *event.Event
	WasEncrypted   bool
	Input          Input
	RelayOverrides []string
	Mode           Mode
	Resolution     Resolution
	Codec          Codec
	HLSRungs       []HLSRung
	Encryption     bool
}

// NewContext builds a Context from tag values already extracted by
// the caller (the overlay client handles the legacy-encrypted vs.
// plain-tag decoding and virtual-tag synthesis before calling this).
func NewContext(ev *event.Event, wasEncrypted bool, input Input, relayOverrides []string, params map[string]string) Context {
	ctx := Context{
		Event:          ev,
		WasEncrypted:   wasEncrypted,
		Input:          input,
		RelayOverrides: relayOverrides,
		Mode:           ModeMP4,
		Resolution:     Resolution720p,
		Codec:          CodecH264,
		Encryption:     true,
	}

	if v, ok := params["mode"]; ok {
		if m := Mode(v); m == ModeMP4 || m == ModeHLS {
			ctx.Mode = m
		}
	}
	if v, ok := params["resolution"]; ok {
		if isValidResolution(Resolution(v)) {
			ctx.Resolution = Resolution(v)
		}
	}
	if v, ok := params["codec"]; ok {
		if c := Codec(v); c == CodecH264 || c == CodecH265 {
			ctx.Codec = c
		}
	}
	if v, ok := params["resolutions"]; ok {
		ctx.HLSRungs = parseRungs(v)
	}
	if v, ok := params["encryption"]; ok {
		ctx.Encryption = v != "false" && v != "0"
	}

	return ctx
}

func isValidResolution(r Resolution) bool {
	switch r {
	case Resolution240p, Resolution360p, Resolution480p, Resolution720p, Resolution1080p:
		return true
	default:
		return false
	}
}

func parseRungs(csv string) []HLSRung {
	var out []HLSRung
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, HLSRung(csv[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
