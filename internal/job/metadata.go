package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Metadata is the subset of ffprobe's format+streams JSON the
// pipeline needs: duration, resolution, and the source video codec.
type Metadata struct {
	Format  formatInfo   `json:"format"`
	Streams []streamInfo `json:"streams"`
}

type formatInfo struct {
	Duration string `json:"duration"`
}

type streamInfo struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Probe runs ffprobe against input (a URL or file path) and parses
// its JSON output. Probe failure is non-fatal for progress
// estimation purposes but fatal for HLS plans that need height; the
// caller decides which.
func Probe(ctx context.Context, ffprobePath, input string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &m, nil
}

// VideoStream returns the first video-typed stream, if any.
func (m *Metadata) VideoStream() *streamInfo {
	for i := range m.Streams {
		if m.Streams[i].CodecType == "video" {
			return &m.Streams[i]
		}
	}
	return nil
}

// DurationSecs parses the format duration field, returning 0 if
// absent or unparsable.
func (m *Metadata) DurationSecs() float64 {
	if m.Format.Duration == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return f
}

// Resolution returns the video stream's (width, height), or (0,0) if
// no video stream was found.
func (m *Metadata) Resolution() (int, int) {
	v := m.VideoStream()
	if v == nil {
		return 0, 0
	}
	return v.Width, v.Height
}

// VideoCodec returns the video stream's codec name, or "" if no video
// stream was found.
func (m *Metadata) VideoCodec() string {
	v := m.VideoStream()
	if v == nil {
		return ""
	}
	return v.CodecName
}
