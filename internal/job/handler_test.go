package job

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nostrworks/video-dvm/internal/blossom"
	"github.com/nostrworks/video-dvm/internal/config"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/state"
)

type fakeUploader struct {
	urls []string
	err  error
}

func (f *fakeUploader) UploadFileToAll(ctx context.Context, path, mimeType string, onProgress blossom.ProgressFunc) ([]blossom.BlobDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	descs := make([]blossom.BlobDescriptor, len(f.urls))
	for i, u := range f.urls {
		descs[i] = blossom.BlobDescriptor{URL: u, SHA256: "deadbeef"}
	}
	return descs, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) (*Handler, *nostrcrypto.KeyPair, []*event.Event) {
	t.Helper()
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	var published []*event.Event
	h := &Handler{
		Keys:  kp,
		State: state.New(config.NewPersistent(), "software"),
		Upload: &fakeUploader{urls: []string{"https://blossom.example/abc"}},
		Publish: func(ctx context.Context, ev *event.Event) error {
			published = append(published, ev)
			return nil
		},
		Hwaccel:     HwaccelSoftware,
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		TempDir:     t.TempDir(),
		Log:         discardLogger(),
	}
	return h, kp, published
}

func jobRequestEvent(t *testing.T, requester *nostrcrypto.KeyPair) *event.Event {
	t.Helper()
	ev, err := event.NewBuilder(event.KindJobRequest).
		Tag("i", "https://example.com/in.mp4", "url").
		Sign(requester)
	if err != nil {
		t.Fatalf("sign job request: %v", err)
	}
	return ev
}

func TestHandleRejectsNonURLInput(t *testing.T) {
	h, requester, published := newTestHandler(t)
	jc := Context{
		Event: jobRequestEvent(t, requester),
		Input: Input{Value: "not-a-url", Type: "file"},
		Mode:  ModeMP4,
	}

	err := h.Handle(context.Background(), jc)
	if err == nil {
		t.Fatal("expected error for non-url input")
	}
	if !strings.Contains(err.Error(), "unsupported input type") {
		t.Fatalf("error = %v", err)
	}

	_, _, failed := h.State.Counters()
	if failed != 1 {
		t.Fatalf("jobsFailed = %d, want 1", failed)
	}

	var sawError bool
	for _, ev := range published {
		if v := event.TagValue(ev.Tags, "status"); len(v) == 1 && v[0] == event.StatusError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected an error status event to be published")
	}
}

func TestBuildStatusEventUnencryptedCarriesEtaTag(t *testing.T) {
	h, requester, _ := newTestHandler(t)
	jc := Context{Event: jobRequestEvent(t, requester), WasEncrypted: false}

	ev, err := h.buildStatusEvent(jc, event.StatusProcessing, "working", 42)
	if err != nil {
		t.Fatalf("buildStatusEvent: %v", err)
	}
	if ev.Content != "working" {
		t.Fatalf("content = %q", ev.Content)
	}
	if eta := event.TagValue(ev.Tags, "eta"); len(eta) != 1 || eta[0] != "42" {
		t.Fatalf("eta tag = %v", eta)
	}
	if p := event.TagValue(ev.Tags, "p"); len(p) != 1 || p[0] != requester.PublicKeyHex {
		t.Fatalf("p tag = %v", p)
	}
}

func TestBuildStatusEventEncryptedRoundTrips(t *testing.T) {
	h, requester, _ := newTestHandler(t)
	jc := Context{Event: jobRequestEvent(t, requester), WasEncrypted: true}

	ev, err := h.buildStatusEvent(jc, event.StatusProcessing, "working", 7)
	if err != nil {
		t.Fatalf("buildStatusEvent: %v", err)
	}
	if !event.HasTag(ev.Tags, "encrypted") {
		t.Fatal("expected encrypted tag")
	}

	plaintext, err := requester.DecryptLegacy(ev.Content, h.Keys.PublicKeyHex)
	if err != nil {
		t.Fatalf("DecryptLegacy: %v", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["status"] != event.StatusProcessing || payload["message"] != "working" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestEmitResultEncryptsWhenRequested(t *testing.T) {
	h, requester, published := newTestHandler(t)
	jc := Context{Event: jobRequestEvent(t, requester), WasEncrypted: true}

	if err := h.emitResult(context.Background(), jc, `{"type":"mp4"}`); err != nil {
		t.Fatalf("emitResult: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("published = %d events, want 1", len(published))
	}
	ev := published[0]
	if ev.Kind != event.KindJobResult {
		t.Fatalf("kind = %d", ev.Kind)
	}
	plaintext, err := requester.DecryptLegacy(ev.Content, h.Keys.PublicKeyHex)
	if err != nil {
		t.Fatalf("DecryptLegacy: %v", err)
	}
	if plaintext != `{"type":"mp4"}` {
		t.Fatalf("plaintext = %q", plaintext)
	}
}

func TestRunHLSRejectsPlanWithFewerThanTwoRungs(t *testing.T) {
	h, requester, _ := newTestHandler(t)
	jc := Context{
		Event:    jobRequestEvent(t, requester),
		HLSRungs: []HLSRung{Rung1080p},
	}

	_, _, err := h.runHLS(context.Background(), jc, t.TempDir(), 120, 1080, "h264")
	if err == nil {
		t.Fatal("expected error for under-populated rung plan")
	}
	if !strings.Contains(err.Error(), "fewer than two") {
		t.Fatalf("error = %v", err)
	}
}

func TestCollectHLSOutputsClassifiesAndSorts(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"master.m3u8",
		"stream_1.m3u8",
		"stream_0.m3u8",
		"stream_0_002.m4s",
		"stream_0_001.m4s",
		"init_0.mp4",
		"stream_1_000.ts",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}

	segments, playlists, err := collectHLSOutputs(dir)
	if err != nil {
		t.Fatalf("collectHLSOutputs: %v", err)
	}
	wantSegments := []string{"init_0.mp4", "stream_0_001.m4s", "stream_0_002.m4s", "stream_1_000.ts"}
	if !equalStrings(segments, wantSegments) {
		t.Fatalf("segments = %v, want %v", segments, wantSegments)
	}
	wantPlaylists := []string{"stream_0.m3u8", "stream_1.m3u8"}
	if !equalStrings(playlists, wantPlaylists) {
		t.Fatalf("playlists = %v, want %v", playlists, wantPlaylists)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHashFileIsDeterministicAndReportsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.m4s")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hash1, size1, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}
	hash2, _, _ := hashFile(path)
	if hash1 != hash2 {
		t.Fatalf("hash not deterministic: %s vs %s", hash1, hash2)
	}
	if size1 != int64(len("hello world")) {
		t.Fatalf("size = %d", size1)
	}
}

func TestWriteHLSKeyWritesKeyAndInfoFile(t *testing.T) {
	dir := t.TempDir()
	keyInfoPath, key, err := writeHLSKey(dir)
	if err != nil {
		t.Fatalf("writeHLSKey: %v", err)
	}
	if len(key) != 16 {
		t.Fatalf("key length = %d, want 16", len(key))
	}
	info, err := os.ReadFile(keyInfoPath)
	if err != nil {
		t.Fatalf("read key info: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(info)), "\n")
	if len(lines) != 2 {
		t.Fatalf("key info lines = %d, want 2", len(lines))
	}
	if _, err := os.Stat(lines[1]); err != nil {
		t.Fatalf("key file referenced by key-info does not exist: %v", err)
	}
}

func TestMp4HeightMapping(t *testing.T) {
	cases := map[Resolution]int{
		Resolution240p:  240,
		Resolution360p:  360,
		Resolution480p:  480,
		Resolution720p:  720,
		Resolution1080p: 1080,
		Resolution(""):  720,
	}
	for res, want := range cases {
		if got := mp4Height(res); got != want {
			t.Fatalf("mp4Height(%q) = %d, want %d", res, got, want)
		}
	}
}

func TestMasterHeightParsesResolutionAttr(t *testing.T) {
	if h := masterHeight("1920x1080"); h != 1080 {
		t.Fatalf("masterHeight = %d, want 1080", h)
	}
	if h := masterHeight("bogus"); h != 0 {
		t.Fatalf("masterHeight(bogus) = %d, want 0", h)
	}
}

func TestSegmentMimeType(t *testing.T) {
	if got := segmentMimeType("stream_0_001.ts"); got != "video/mp2t" {
		t.Fatalf("segmentMimeType(.ts) = %q", got)
	}
	if got := segmentMimeType("stream_0_001.m4s"); got != "video/mp4" {
		t.Fatalf("segmentMimeType(.m4s) = %q", got)
	}
}
