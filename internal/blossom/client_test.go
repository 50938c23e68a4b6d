package blossom

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func newFakeBlossomServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func TestUploadFileToAllSucceeds(t *testing.T) {
	var gotAuth string
	srv := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/upload" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(BlobDescriptor{
			URL:      "https://blossom.example.com/abc",
			SHA256:   "abc",
			Size:     int64(len(body)),
			MimeType: "video/mp4",
			Uploaded: 1000,
		})
	})
	defer srv.Close()

	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	c := New(kp, []string{srv.URL}, testLogger())

	path := writeTempFile(t, "fake video bytes")
	var progressCalls int
	results, err := c.UploadFileToAll(context.Background(), path, "video/mp4", func(n int64, d time.Duration) {
		progressCalls++
	})
	if err != nil {
		t.Fatalf("UploadFileToAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	if results[0].URL != "https://blossom.example.com/abc" {
		t.Fatalf("url = %s", results[0].URL)
	}
	if progressCalls != 1 {
		t.Fatalf("progressCalls = %d, want 1", progressCalls)
	}
	if gotAuth == "" || gotAuth[:6] != "Nostr " {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestUploadFileReturnsFirstSuccess(t *testing.T) {
	srv := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(BlobDescriptor{URL: "https://blossom.example.com/first", SHA256: "x"})
	})
	defer srv.Close()

	kp, _ := nostrcrypto.GenerateKeyPair()
	c := New(kp, []string{srv.URL}, testLogger())
	path := writeTempFile(t, "content")

	blob, err := c.UploadFile(context.Background(), path, "video/mp4")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if blob.URL != "https://blossom.example.com/first" {
		t.Fatalf("blob = %+v", blob)
	}
}

func TestUploadFileToAllFailsWhenEveryServerRejects(t *testing.T) {
	srv := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("nope"))
	})
	defer srv.Close()

	kp, _ := nostrcrypto.GenerateKeyPair()
	c := New(kp, []string{srv.URL}, testLogger())
	path := writeTempFile(t, "content")

	_, err := c.UploadFileToAll(context.Background(), path, "video/mp4", nil)
	if !errors.Is(err, ErrAllUploadsFailed) {
		t.Fatalf("err = %v, want ErrAllUploadsFailed", err)
	}
	var blossomErr *BlossomError
	if !errors.As(err, &blossomErr) || blossomErr.Kind != KindAllFailed {
		t.Fatalf("err = %v, want *BlossomError with KindAllFailed", err)
	}
}

func TestListReturnsBlobs(t *testing.T) {
	srv := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/list/deadbeef" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") == "" {
			t.Fatal("expected Authorization header")
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode([]BlobDescriptor{{URL: "https://blossom.example.com/1", SHA256: "1"}})
	})
	defer srv.Close()

	kp, _ := nostrcrypto.GenerateKeyPair()
	c := New(kp, []string{srv.URL}, testLogger())

	blobs, err := c.List(context.Background(), srv.URL, "deadbeef")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(blobs) != 1 || blobs[0].SHA256 != "1" {
		t.Fatalf("blobs = %v", blobs)
	}
}

func TestDeleteSucceedsAndFails(t *testing.T) {
	var shouldFail bool
	srv := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if shouldFail {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	kp, _ := nostrcrypto.GenerateKeyPair()
	c := New(kp, []string{srv.URL}, testLogger())

	if err := c.Delete(context.Background(), srv.URL, "abc123"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	shouldFail = true
	if err := c.Delete(context.Background(), srv.URL, "abc123"); err == nil {
		t.Fatal("expected delete failure")
	}
}

func TestDeleteFromAllCollectsErrors(t *testing.T) {
	bad := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer bad.Close()
	good := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer good.Close()

	kp, _ := nostrcrypto.GenerateKeyPair()
	c := New(kp, []string{bad.URL, good.URL}, testLogger())

	errs := c.DeleteFromAll(context.Background(), "abc123")
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly 1", errs)
	}
}
