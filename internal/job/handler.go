package job

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nostrworks/video-dvm/internal/blossom"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/state"
)

// statusExpiration and resultExpiration bound how long a relay should
// retain the worker's reply events before discarding them.
const (
	statusExpiration = time.Hour
	resultExpiration = time.Hour
)

// Uploader is the subset of blossom.Client the pipeline needs; an
// interface so tests can substitute a fake rather than hitting HTTP.
type Uploader interface {
	UploadFileToAll(ctx context.Context, path, mimeType string, onProgress blossom.ProgressFunc) ([]blossom.BlobDescriptor, error)
}

// Handler runs a dequeued job Context through probe, encode, upload,
// and result publication, emitting status events throughout. One
// Handler instance serves every job the worker processes; it holds no
// per-job state between calls.
type Handler struct {
	Keys        *nostrcrypto.KeyPair
	State       *state.State
	Upload      Uploader
	Publish     func(ctx context.Context, ev *event.Event) error
	Hwaccel     Hwaccel
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	Log         *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(keys *nostrcrypto.KeyPair, st *state.State, upload Uploader, publish func(ctx context.Context, ev *event.Event) error, hwaccel Hwaccel, ffmpegPath, ffprobePath, tempDir string, log *slog.Logger) *Handler {
	return &Handler{
		Keys:        keys,
		State:       st,
		Upload:      upload,
		Publish:     publish,
		Hwaccel:     hwaccel,
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		TempDir:     tempDir,
		Log:         log,
	}
}

// Handle runs one job to completion: probe, encode (MP4 or HLS per the
// context's mode), upload, and result/status publication. Errors are
// reported to the requester as an error status and recorded in the
// job history; the pipeline never retries internally.
func (h *Handler) Handle(ctx context.Context, jc Context) error {
	jobID := jc.Event.ID
	h.State.JobStarted(jobID, jc.Input.Value, time.Now())
	h.emitStatus(ctx, jc, event.StatusProcessing, "Starting video transformation", 0)

	if jc.Input.Type != "url" {
		return h.fail(ctx, jc, &JobError{Kind: KindRejected, Err: fmt.Errorf("unsupported input type %q, only \"url\" is supported", jc.Input.Type)})
	}

	meta, probeErr := Probe(ctx, h.FFprobePath, jc.Input.Value)
	if probeErr != nil {
		h.Log.Warn("ffprobe failed, progress estimates may be inaccurate", "job_id", jobID, "error", probeErr)
	}
	var durationSecs float64
	var inputHeight int
	var sourceCodec string
	if meta != nil {
		durationSecs = meta.DurationSecs()
		_, inputHeight = meta.Resolution()
		sourceCodec = meta.VideoCodec()
	}

	workDir, err := os.MkdirTemp(h.TempDir, "job-*")
	if err != nil {
		return h.fail(ctx, jc, fmt.Errorf("create work directory: %w", err))
	}
	defer os.RemoveAll(workDir)

	var resultJSON, outputURL string
	if jc.Mode == ModeHLS {
		resultJSON, outputURL, err = h.runHLS(ctx, jc, workDir, durationSecs, inputHeight, sourceCodec)
	} else {
		resultJSON, outputURL, err = h.runMP4(ctx, jc, workDir, durationSecs)
	}
	if err != nil {
		return h.fail(ctx, jc, err)
	}

	if err := h.emitResult(ctx, jc, resultJSON); err != nil {
		return h.fail(ctx, jc, fmt.Errorf("publish result: %w", err))
	}
	h.emitStatus(ctx, jc, event.StatusSuccess, "Video transformation complete", 0)
	h.State.JobCompleted(jobID, outputURL, time.Now())
	return nil
}

func (h *Handler) fail(ctx context.Context, jc Context, cause error) error {
	h.emitStatus(ctx, jc, event.StatusError, cause.Error(), 0)
	h.State.JobFailed(jc.Event.ID, time.Now())
	return cause
}

// runMP4 builds and runs a single-output command, uploads the result
// to every blob store, and returns the result event's JSON content
// plus the first server's URL for the job-history record.
func (h *Handler) runMP4(ctx context.Context, jc Context, workDir string, durationSecs float64) (content, outputURL string, err error) {
	height := mp4Height(jc.Resolution)
	codecLabel := "H.264"
	if jc.Codec == CodecH265 {
		codecLabel = "H.265"
	}
	statusMsg := fmt.Sprintf("Transcoding to %s %s MP4", jc.Resolution, codecLabel)
	h.emitStatus(ctx, jc, event.StatusProcessing, statusMsg+"...", 0)

	outputPath := filepath.Join(workDir, "output.mp4")
	cmd := MP4Command{
		FFmpegPath:   h.FFmpegPath,
		Input:        jc.Input.Value,
		OutputPath:   outputPath,
		Hwaccel:      h.Hwaccel,
		Codec:        jc.Codec,
		Height:       height,
		DurationSecs: durationSecs,
	}

	estimated := EstimatedSeconds(durationSecs, ModeMP4, height)
	start := time.Now()
	if err := cmd.Run(ctx, func(int64) {
		h.emitProgress(ctx, jc, statusMsg, estimated, start)
	}); err != nil {
		return "", "", &JobError{Kind: KindEncode, Err: fmt.Errorf("encode mp4: %w", err)}
	}

	var size int64
	if info, statErr := os.Stat(outputPath); statErr == nil {
		size = info.Size()
	}

	h.emitStatus(ctx, jc, event.StatusProcessing, "Uploading MP4 to all servers...", 0)
	blobs, err := h.Upload.UploadFileToAll(ctx, outputPath, "video/mp4", nil)
	if err != nil {
		return "", "", &JobError{Kind: KindUpload, Err: fmt.Errorf("upload mp4: %w", err)}
	}

	urls := make([]string, len(blobs))
	for i, b := range blobs {
		urls[i] = b.URL
	}

	mimetype := `video/mp4; codecs="avc1.64001f,mp4a.40.2"`
	if jc.Codec == CodecH265 {
		mimetype = `video/mp4; codecs="hvc1,mp4a.40.2"`
	}

	raw, err := json.Marshal(map[string]interface{}{
		"type":       "mp4",
		"urls":       urls,
		"resolution": string(jc.Resolution),
		"size_bytes": size,
		"mimetype":   mimetype,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal mp4 result: %w", err)
	}
	return string(raw), urls[0], nil
}

// runHLS builds a rung ladder, runs the multi-rendition command,
// rewrites and uploads every playlist and segment in the order the
// spec fixes (segments hashed first, then rung playlists, then the
// master), and returns the result event's JSON content plus the
// master playlist's URL for the job-history record.
func (h *Handler) runHLS(ctx context.Context, jc Context, workDir string, durationSecs float64, inputHeight int, sourceCodec string) (content, outputURL string, err error) {
	if inputHeight <= 0 {
		inputHeight = 1080
	}
	plan := BuildPlan(inputHeight, jc.HLSRungs, sourceCodec)
	if !plan.Valid() {
		return "", "", &JobError{Kind: KindRejected, Err: fmt.Errorf("fewer than two HLS rungs survive for a %dp input", inputHeight)}
	}

	var keyInfoPath string
	var keyBytes []byte
	if jc.Encryption {
		keyInfoPath, keyBytes, err = writeHLSKey(workDir)
		if err != nil {
			return "", "", fmt.Errorf("generate HLS encryption key: %w", err)
		}
	}

	labels := plan.SortedLabels()
	codecLabel := "H.264"
	if jc.Codec == CodecH265 {
		codecLabel = "H.265"
	}
	statusMsg := fmt.Sprintf("Transcoding to %s HLS (%s)", codecLabel, strings.Join(labels, ", "))
	h.emitStatus(ctx, jc, event.StatusProcessing, statusMsg+"...", 0)

	estimated := EstimatedSeconds(durationSecs, ModeHLS, inputHeight)
	start := time.Now()
	cmd := HLSCommand{
		FFmpegPath:   h.FFmpegPath,
		Input:        jc.Input.Value,
		OutputDir:    workDir,
		Hwaccel:      h.Hwaccel,
		Codec:        jc.Codec,
		Plan:         plan,
		DurationSecs: durationSecs,
		KeyInfoPath:  keyInfoPath,
	}
	if err := cmd.Run(ctx, func(int64) {
		h.emitProgress(ctx, jc, statusMsg, estimated, start)
	}); err != nil {
		return "", "", &JobError{Kind: KindEncode, Err: fmt.Errorf("encode hls: %w", err)}
	}

	masterBytes, err := os.ReadFile(filepath.Join(workDir, "master.m3u8"))
	if err != nil {
		return "", "", fmt.Errorf("read master playlist: %w", err)
	}

	segmentFiles, playlistFiles, err := collectHLSOutputs(workDir)
	if err != nil {
		return "", "", err
	}

	h.emitStatus(ctx, jc, event.StatusProcessing, fmt.Sprintf("Uploading %d files to Blossom...", len(segmentFiles)+len(playlistFiles)+1), 0)

	var totalSize int64
	rewriter := NewPlaylistRewriter()
	for _, name := range segmentFiles {
		path := filepath.Join(workDir, name)
		hash, size, herr := hashFile(path)
		if herr != nil {
			return "", "", fmt.Errorf("hash segment %s: %w", name, herr)
		}
		rewriter.AddSegment(name, hash)
		totalSize += size

		if _, uerr := h.Upload.UploadFileToAll(ctx, path, segmentMimeType(name), nil); uerr != nil {
			return "", "", &JobError{Kind: KindUpload, Err: fmt.Errorf("upload segment %s: %w", name, uerr)}
		}
	}

	playlistHashes := map[string]string{}
	rungURLs := map[string]string{}
	for _, name := range playlistFiles {
		raw, rerr := os.ReadFile(filepath.Join(workDir, name))
		if rerr != nil {
			return "", "", fmt.Errorf("read rung playlist %s: %w", name, rerr)
		}
		rewritten := rewriter.RewriteContent(string(raw))
		rewrittenPath := filepath.Join(workDir, strings.TrimSuffix(name, ".m3u8")+".rewritten.m3u8")
		if werr := os.WriteFile(rewrittenPath, []byte(rewritten), 0o644); werr != nil {
			return "", "", fmt.Errorf("write rewritten playlist %s: %w", name, werr)
		}

		hash, size, herr := hashFile(rewrittenPath)
		if herr != nil {
			return "", "", fmt.Errorf("hash rewritten playlist %s: %w", name, herr)
		}
		playlistHashes[name] = hash
		totalSize += size

		blobs, uerr := h.Upload.UploadFileToAll(ctx, rewrittenPath, "application/vnd.apple.mpegurl", nil)
		if uerr != nil {
			return "", "", &JobError{Kind: KindUpload, Err: fmt.Errorf("upload rung playlist %s: %w", name, uerr)}
		}
		rungURLs[name] = blobs[0].URL
	}

	masterRungs := ParseMasterPlaylist(string(masterBytes))
	sort.Slice(masterRungs, func(i, j int) bool {
		return masterHeight(masterRungs[i].Resolution) > masterHeight(masterRungs[j].Resolution)
	})

	streamPlaylists := make([]map[string]interface{}, 0, len(masterRungs))
	for _, r := range masterRungs {
		url, ok := rungURLs[r.PlaylistFile]
		if !ok {
			continue
		}
		streamPlaylists = append(streamPlaylists, map[string]interface{}{
			"url":        url,
			"resolution": fmt.Sprintf("%dp", masterHeight(r.Resolution)),
			"mimetype":   fmt.Sprintf("application/vnd.apple.mpegurl; codecs=%q", r.Codecs),
		})
	}

	rewrittenMaster := rewriter.RewriteMasterPlaylist(string(masterBytes), playlistHashes)
	rewrittenMasterPath := filepath.Join(workDir, "master.rewritten.m3u8")
	if werr := os.WriteFile(rewrittenMasterPath, []byte(rewrittenMaster), 0o644); werr != nil {
		return "", "", fmt.Errorf("write rewritten master playlist: %w", werr)
	}
	if _, size, herr := hashFile(rewrittenMasterPath); herr == nil {
		totalSize += size
	}
	masterBlobs, err := h.Upload.UploadFileToAll(ctx, rewrittenMasterPath, "application/vnd.apple.mpegurl", nil)
	if err != nil {
		return "", "", &JobError{Kind: KindUpload, Err: fmt.Errorf("upload master playlist: %w", err)}
	}

	result := map[string]interface{}{
		"type":             "hls",
		"master_playlist":  masterBlobs[0].URL,
		"stream_playlists": streamPlaylists,
		"total_size_bytes": totalSize,
	}
	if keyBytes != nil {
		result["encryption_key"] = base64.StdEncoding.EncodeToString(keyBytes)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", "", fmt.Errorf("marshal hls result: %w", err)
	}
	return string(raw), masterBlobs[0].URL, nil
}

// emitProgress formats and emits one periodic processing status,
// mirroring the "(~N remaining)" / "(N elapsed)" phrasing the
// original pipeline used, depending on whether a duration estimate is
// available.
func (h *Handler) emitProgress(ctx context.Context, jc Context, message string, estimatedSecs float64, start time.Time) {
	elapsed := time.Since(start).Seconds()
	if estimatedSecs > 0 {
		remaining := estimatedSecs - elapsed
		if remaining < 0 {
			remaining = 0
		}
		h.emitStatus(ctx, jc, event.StatusProcessing, fmt.Sprintf("%s (~%s remaining)", message, FormatDuration(remaining)), remaining)
		return
	}
	h.emitStatus(ctx, jc, event.StatusProcessing, fmt.Sprintf("%s (%s elapsed)", message, FormatDuration(elapsed)), 0)
}

func (h *Handler) emitStatus(ctx context.Context, jc Context, status, message string, etaSecs float64) {
	ev, err := h.buildStatusEvent(jc, status, message, etaSecs)
	if err != nil {
		h.Log.Error("build status event", "job_id", jc.Event.ID, "error", err)
		return
	}
	if err := h.Publish(ctx, ev); err != nil {
		h.Log.Warn("publish status event", "job_id", jc.Event.ID, "status", status, "error", err)
	}
}

func (h *Handler) buildStatusEvent(jc Context, status, message string, etaSecs float64) (*event.Event, error) {
	requester := jc.Event.PubKey
	b := event.NewBuilder(event.KindStatus).
		ExpiresIn(statusExpiration).
		Tag("e", jc.Event.ID).
		Tag("p", requester).
		Tag("status", status)

	if !jc.WasEncrypted {
		if etaSecs > 0 {
			b.Tag("eta", fmt.Sprintf("%d", int64(etaSecs)))
		}
		return b.WithContent(message).Sign(h.Keys)
	}

	payload := map[string]interface{}{"status": status, "message": message}
	if etaSecs > 0 {
		payload["eta"] = int64(etaSecs)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal encrypted status payload: %w", err)
	}
	ciphertext, err := h.Keys.EncryptLegacy(string(raw), requester)
	if err != nil {
		return nil, fmt.Errorf("encrypt status payload: %w", err)
	}
	return b.Tag("encrypted").WithContent(ciphertext).Sign(h.Keys)
}

func (h *Handler) emitResult(ctx context.Context, jc Context, resultJSON string) error {
	requester := jc.Event.PubKey
	b := event.NewBuilder(event.KindJobResult).
		ExpiresIn(resultExpiration).
		Tag("e", jc.Event.ID).
		Tag("p", requester)

	content := resultJSON
	if jc.WasEncrypted {
		ciphertext, err := h.Keys.EncryptLegacy(resultJSON, requester)
		if err != nil {
			return fmt.Errorf("encrypt result payload: %w", err)
		}
		b.Tag("encrypted")
		content = ciphertext
	}

	ev, err := b.WithContent(content).Sign(h.Keys)
	if err != nil {
		return fmt.Errorf("sign result event: %w", err)
	}
	return h.Publish(ctx, ev)
}

// mp4Height maps a single-output MP4 resolution tag to its pixel
// height.
func mp4Height(r Resolution) int {
	switch r {
	case Resolution240p:
		return 240
	case Resolution360p:
		return 360
	case Resolution480p:
		return 480
	case Resolution1080p:
		return 1080
	default:
		return 720
	}
}

// collectHLSOutputs lists the ffmpeg HLS output directory, splitting
// segment/init files (uploaded as-is) from rung playlists (rewritten
// before upload) and always excluding master.m3u8, which is handled
// separately after the rungs are known.
func collectHLSOutputs(dir string) (segments, playlists []string, err error) {
	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		return nil, nil, fmt.Errorf("read output directory: %w", rerr)
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == "master.m3u8":
			continue
		case strings.HasSuffix(name, ".m3u8"):
			playlists = append(playlists, name)
		case strings.HasSuffix(name, ".m4s"), strings.HasSuffix(name, ".ts"):
			segments = append(segments, name)
		case strings.HasPrefix(name, "init_") && strings.HasSuffix(name, ".mp4"):
			segments = append(segments, name)
		}
	}
	sort.Strings(segments)
	sort.Strings(playlists)
	return segments, playlists, nil
}

func segmentMimeType(name string) string {
	if strings.HasSuffix(name, ".ts") {
		return "video/mp2t"
	}
	return "video/mp4"
}

// masterHeight parses a RESOLUTION="WxH" attribute value down to its
// height component.
func masterHeight(resolution string) int {
	parts := strings.Split(resolution, "x")
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[1])
	return h
}

func hashFile(path string) (hexHash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// writeHLSKey generates a random AES-128 key and writes both the raw
// key file and the key-info file ffmpeg's -hls_key_info_file expects
// (URI line, then key file path, then an optional IV line it omits
// here so ffmpeg generates a random per-segment IV).
func writeHLSKey(workDir string) (keyInfoPath string, keyBytes []byte, err error) {
	keyBytes = make([]byte, 16)
	if _, err = rand.Read(keyBytes); err != nil {
		return "", nil, err
	}

	keyPath := filepath.Join(workDir, "hls.key")
	if err = os.WriteFile(keyPath, keyBytes, 0o600); err != nil {
		return "", nil, err
	}

	keyInfoPath = filepath.Join(workDir, "hls.keyinfo")
	infoContent := "https://blossom.invalid/hls-key\n" + keyPath + "\n"
	if err = os.WriteFile(keyInfoPath, []byte(infoContent), 0o600); err != nil {
		return "", nil, err
	}
	return keyInfoPath, keyBytes, nil
}
