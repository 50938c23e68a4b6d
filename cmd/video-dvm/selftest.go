package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/nostrworks/video-dvm/internal/admin"
	"github.com/nostrworks/video-dvm/internal/job"
)

// selfTestDurationSecs is the length of the synthetic clip self-test
// encodes: long enough to exercise the real ffmpeg invocation path,
// short enough to answer an admin RPC or HTTP call promptly.
const selfTestDurationSecs = 3

// selfTester runs a canned short encode against an ffmpeg lavfi
// synthetic source — no bundled reference file needed — and reports
// timing. It backs both the admin self_test RPC method and the HTTP
// GET /self-test endpoint, which the spec requires share logic.
//
// The original reference implementation never actually built this
// (its handle_self_test is a stub that always returns success with
// every field empty), so there is no prior behavior to port; this
// always runs a real software encode regardless of the detected
// hardware backend, keeping the smoke test independent of whatever
// hwaccel device nodes happen to be present, while still reporting
// the worker's configured backend in the result.
type selfTester struct {
	ffmpegPath string
	hwaccel    job.Hwaccel
	tempDir    string
}

func (s *selfTester) SelfTest(ctx context.Context) (admin.SelfTestResult, error) {
	dir, err := os.MkdirTemp(s.tempDir, "video-dvm-selftest-*")
	if err != nil {
		return admin.SelfTestResult{}, fmt.Errorf("create self-test temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "selftest.mp4")
	plan := job.HwaccelSoftware.Plan(job.CodecH264, 23)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%d:size=640x360:rate=30", selfTestDurationSecs),
		"-f", "lavfi", "-i", fmt.Sprintf("sine=duration=%d", selfTestDurationSecs),
		"-c:v", plan.Encoder,
		plan.QualityFlag, plan.QualityValue,
		"-c:a", "aac",
		"-t", fmt.Sprintf("%d", selfTestDurationSecs),
		out,
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	if runErr := cmd.Run(); runErr != nil {
		return admin.SelfTestResult{
			Success: false,
			Error:   runErr.Error(),
			Hwaccel: s.hwaccel.String(),
		}, nil
	}
	elapsed := time.Since(start).Seconds()

	result := admin.SelfTestResult{
		Success:          true,
		VideoDurationSec: float64(selfTestDurationSecs),
		EncodeTimeSecs:   elapsed,
		Hwaccel:          s.hwaccel.String(),
		Resolution:       "360p",
	}
	if elapsed > 0 {
		result.SpeedRatio = float64(selfTestDurationSecs) / elapsed
	}
	return result, nil
}
