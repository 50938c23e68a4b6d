package job

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// ProgressMs tracks decode/encode progress via an atomically-updated
// microsecond counter, read from ffmpeg's "-progress -" stdout stream.
type ProgressMs struct {
	value atomic.Int64
}

// Load returns the current out_time_ms value in milliseconds.
func (p *ProgressMs) Load() int64 { return p.value.Load() / 1000 }

// track reads ffmpeg's machine-readable progress stream, updating p on
// every out_time_ms= line until the stream closes or "progress=end" is
// seen.
func (p *ProgressMs) track(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "out_time_ms="):
			v, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64)
			if err == nil {
				p.value.Store(v)
			}
		case line == "progress=end":
			return
		}
	}
}

// MP4Command builds and runs a single-output ffmpeg invocation.
type MP4Command struct {
	FFmpegPath   string
	Input        string
	OutputPath   string
	Hwaccel      Hwaccel
	Codec        Codec
	Height       int
	DurationSecs float64
}

func (c MP4Command) args(crf int) []string {
	plan := c.Hwaccel.Plan(c.Codec, crf)
	args := []string{"-y", "-nostdin", "-progress", "-"}

	if strings.HasPrefix(c.Input, "http://") || strings.HasPrefix(c.Input, "https://") {
		args = append(args, "-reconnect", "1", "-reconnect_at_eof", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "2")
	}
	if c.DurationSecs > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", c.DurationSecs))
	}
	args = append(args, "-i", c.Input)
	args = append(args, "-vf", fmt.Sprintf("%s=w=-2:h=%d", plan.ScaleFilter, c.Height))
	args = append(args, "-c:v", plan.Encoder)
	if c.Codec == CodecH265 {
		args = append(args, "-tag:v", "hvc1")
	}
	args = append(args, plan.QualityFlag, plan.QualityValue)
	for _, opt := range plan.ExtraOptions {
		args = append(args, opt[0], opt[1])
	}
	args = append(args, "-c:a", "aac", c.OutputPath)
	return args
}

// defaultCRF maps a single-output MP4 resolution to a CRF-equivalent
// quality value, mirroring the ladder's per-rung quality knobs.
func defaultCRF(height int) int {
	switch {
	case height <= 240:
		return 30
	case height <= 360:
		return 28
	case height <= 480:
		return 26
	case height <= 720:
		return 23
	default:
		return 20
	}
}

// Run executes the ffmpeg command, feeding progress updates into
// onProgress as they arrive, and returns once encoding completes or
// ctx is canceled.
func (c MP4Command) Run(ctx context.Context, onProgress func(ms int64)) error {
	crf := defaultCRF(c.Height)
	return runFFmpeg(ctx, c.FFmpegPath, c.args(crf), onProgress)
}

// HLSCommand builds and runs a multi-rendition HLS ffmpeg invocation
// against a transform plan.
type HLSCommand struct {
	FFmpegPath   string
	Input        string
	OutputDir    string
	Hwaccel      Hwaccel
	Codec        Codec
	Plan         Plan
	DurationSecs float64
	KeyInfoPath  string // empty disables encryption
}

func (c HLSCommand) segmentType() (segType, ext string) {
	if c.KeyInfoPath != "" {
		return "mpegts", "ts"
	}
	return "fmp4", "m4s"
}

func (c HLSCommand) labels() []string {
	labels := make([]string, 0, len(c.Plan.Rungs))
	for l := range c.Plan.Rungs {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func (c HLSCommand) args() []string {
	args := []string{"-y", "-nostdin", "-progress", "-"}

	if strings.HasPrefix(c.Input, "http://") || strings.HasPrefix(c.Input, "https://") {
		args = append(args, "-reconnect", "1", "-reconnect_at_eof", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "2")
	}
	if c.DurationSecs > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", c.DurationSecs))
	}
	args = append(args, "-i", c.Input)

	labels := c.labels()
	plan := c.Hwaccel.Plan(c.Codec, 0)

	if filter := c.buildFilterGraph(labels, plan.ScaleFilter); filter != "" {
		args = append(args, "-filter_complex", filter)
	}

	firstEncoded := true
	for idx, label := range labels {
		rung := c.Plan.Rungs[label]
		if rung.IsOriginal {
			args = append(args, "-map", "0:v", fmt.Sprintf("-c:v:%d", idx), "copy")
		} else {
			rungPlan := c.Hwaccel.Plan(c.Codec, rung.Quality)
			args = append(args, "-map", fmt.Sprintf("[%sout]", label), fmt.Sprintf("-c:v:%d", idx), rungPlan.Encoder)
			if c.Codec == CodecH265 {
				args = append(args, fmt.Sprintf("-tag:v:%d", idx), "hvc1")
			}
			args = append(args, fmt.Sprintf("-%s:%d", strings.TrimPrefix(rungPlan.QualityFlag, "-"), idx), rungPlan.QualityValue)
			if firstEncoded {
				for _, opt := range rungPlan.ExtraOptions {
					args = append(args, opt[0], opt[1])
				}
				firstEncoded = false
			}
		}
		args = append(args, "-map", "0:a", fmt.Sprintf("-c:a:%d", idx), "aac")
		if rung.AudioRate != "" {
			args = append(args, fmt.Sprintf("-b:a:%d", idx), rung.AudioRate)
		}
	}

	segType, ext := c.segmentType()
	varStreamMap := make([]string, len(labels))
	for i := range labels {
		varStreamMap[i] = fmt.Sprintf("v:%d,a:%d", i, i)
	}

	args = append(args,
		"-f", "hls",
		"-var_stream_map", strings.Join(varStreamMap, " "),
		"-hls_time", "6",
		"-hls_list_size", "0",
		"-hls_segment_type", segType,
		"-master_pl_name", "master.m3u8",
		"-hls_segment_filename", filepath.Join(c.OutputDir, fmt.Sprintf("stream_%%v_%%03d.%s", ext)),
	)
	if c.KeyInfoPath != "" {
		args = append(args, "-hls_key_info_file", c.KeyInfoPath)
	}
	args = append(args, filepath.Join(c.OutputDir, "stream_%v.m3u8"))
	return args
}

func (c HLSCommand) buildFilterGraph(labels []string, scaleFilter string) string {
	var nonOriginal []string
	for _, l := range labels {
		if !c.Plan.Rungs[l].IsOriginal {
			nonOriginal = append(nonOriginal, l)
		}
	}
	if len(nonOriginal) == 0 {
		return ""
	}

	outputLabels := make([]string, len(nonOriginal))
	for i, l := range nonOriginal {
		outputLabels[i] = "[" + l + "]"
	}
	parts := []string{fmt.Sprintf("[0:v]split=%d%s", len(nonOriginal), strings.Join(outputLabels, ""))}

	for _, l := range nonOriginal {
		rung := c.Plan.Rungs[l]
		parts = append(parts, fmt.Sprintf("[%s]%s=w=-2:h=%d[%sout]", l, scaleFilter, rung.Height, l))
	}
	return strings.Join(parts, ";")
}

// Run executes the ffmpeg command, feeding progress updates into
// onProgress as they arrive.
func (c HLSCommand) Run(ctx context.Context, onProgress func(ms int64)) error {
	return runFFmpeg(ctx, c.FFmpegPath, c.args(), onProgress)
}

// runFFmpeg spawns ffmpeg in its own process group (so cancellation
// kills every child it spawned, matching the teacher's Executor), and
// tracks its machine-readable progress stream if onProgress is set.
func runFFmpeg(ctx context.Context, ffmpegPath string, args []string, onProgress func(ms int64)) error {
	cmd := exec.Command(ffmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = os.Stderr

	var tracker *ProgressMs
	var stdout io.ReadCloser
	if onProgress != nil {
		tracker = &ProgressMs{}
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("pipe ffmpeg stdout: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	stopPoll := make(chan struct{})
	if tracker != nil {
		go tracker.track(stdout)
		go pollProgress(tracker, onProgress, stopPoll)
	}

	select {
	case err := <-done:
		close(stopPoll)
		if err != nil {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		if tracker != nil {
			onProgress(tracker.Load())
		}
		return nil
	case <-ctx.Done():
		close(stopPoll)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return ctx.Err()
	}
}

// progressPollInterval matches the 10s status-update cadence used when
// relaying job progress back over nostr.
const progressPollInterval = 10 * time.Second

// pollProgress calls onProgress on a fixed interval until stop closes.
func pollProgress(tracker *ProgressMs, onProgress func(ms int64), stop <-chan struct{}) {
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			onProgress(tracker.Load())
		}
	}
}
