package job

import "testing"

func TestBuildPlanAllRungsUnder1080(t *testing.T) {
	p := BuildPlan(1080, nil, "h264")
	if !p.Valid() {
		t.Fatalf("plan not valid: %+v", p.Rungs)
	}
	if _, ok := p.Rungs["1080p"]; !ok {
		t.Fatal("expected 1080p rung to exist as the original passthrough")
	}
	orig := p.Rungs["1080p"]
	if !orig.IsOriginal {
		t.Fatalf("expected 1080p original rung to be passthrough, got %+v", orig)
	}
	// 1080p should NOT also appear as a distinct re-encoded rung.
	count := 0
	for label := range p.Rungs {
		if label == "1080p" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one 1080p entry, got %d", count)
	}
}

func TestBuildPlanSkipsRungsAboveInputHeight(t *testing.T) {
	p := BuildPlan(480, []HLSRung{Rung240p, Rung360p, Rung480p, Rung720p, Rung1080p, RungOriginal}, "h264")
	if _, ok := p.Rungs["720p"]; ok {
		t.Fatal("720p rung should have been skipped for a 480p input")
	}
	if _, ok := p.Rungs["480p"]; !ok {
		t.Fatal("expected 480p rung present")
	}
}

func TestBuildPlan4KIncludesEncoded1080pAndOriginal2160p(t *testing.T) {
	p := BuildPlan(2160, []HLSRung{Rung1080p, RungOriginal}, "h264")
	if _, ok := p.Rungs["1080p"]; !ok {
		t.Fatal("expected 1080p encoded rung for 4K source")
	}
	if p.Rungs["1080p"].IsOriginal {
		t.Fatal("1080p rung at 4K source should be a re-encode, not original")
	}
	if _, ok := p.Rungs["2160p"]; !ok {
		t.Fatal("expected 2160p original rung")
	}
}

func TestOriginalRungLabel1440p(t *testing.T) {
	if got := OriginalRungLabel(1440); got != "1440p" {
		t.Fatalf("OriginalRungLabel(1440) = %q, want 1440p", got)
	}
	if got := OriginalRungLabel(1080); got != "1080p" {
		t.Fatalf("OriginalRungLabel(1080) = %q, want 1080p", got)
	}
	if got := OriginalRungLabel(2160); got != "2160p" {
		t.Fatalf("OriginalRungLabel(2160) = %q, want 2160p", got)
	}
}

func TestBuildPlanNonHLSCompatibleCodecReencodesOriginal(t *testing.T) {
	p := BuildPlan(1080, []HLSRung{RungOriginal}, "vp9")
	orig, ok := p.Rungs["1080p"]
	if !ok {
		t.Fatal("expected original rung present")
	}
	if orig.IsOriginal {
		t.Fatal("vp9 source should not be marked passthrough")
	}
	if orig.Height != 1080 || orig.Quality != 18 {
		t.Fatalf("unexpected re-encode config: %+v", orig)
	}
}

func TestPlanValidRequiresTwoRungs(t *testing.T) {
	p := Plan{Rungs: map[string]RungConfig{"240p": {}}}
	if p.Valid() {
		t.Fatal("single-rung plan should be invalid")
	}
}

func TestSortedLabelsAscending(t *testing.T) {
	p := Plan{Rungs: map[string]RungConfig{"720p": {}, "240p": {}, "1080p": {}}}
	got := p.SortedLabels()
	want := []string{"240p", "720p", "1080p"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedLabels = %v, want %v", got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[float64]string{
		5:    "5s",
		65:   "1m 5s",
		60:   "1m",
		3660: "1h 1m",
		3600: "1h",
	}
	for secs, want := range cases {
		if got := FormatDuration(secs); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", secs, got, want)
		}
	}
}

func TestEstimatedSeconds(t *testing.T) {
	if got := EstimatedSeconds(300, ModeMP4, 1080); got != 100 {
		t.Fatalf("mp4 estimate = %v, want 100", got)
	}
	if got := EstimatedSeconds(300, ModeHLS, 1080); got != 200 {
		t.Fatalf("hls 1080p estimate = %v, want 200", got)
	}
	if got := EstimatedSeconds(300, ModeHLS, 2160); got != 300 {
		t.Fatalf("hls 4K estimate = %v, want 300", got)
	}
}
