package blossom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

func TestSweepExpiredBlobsDeletesOnlyOld(t *testing.T) {
	now := time.Now()
	old := now.AddDate(0, 0, -10).Unix()
	fresh := now.AddDate(0, 0, -1).Unix()

	var deletedPaths []string
	srv := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode([]BlobDescriptor{
				{SHA256: "old-blob", Uploaded: old},
				{SHA256: "fresh-blob", Uploaded: fresh},
			})
		case r.Method == http.MethodDelete:
			deletedPaths = append(deletedPaths, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected method: %s", r.Method)
		}
	})
	defer srv.Close()

	kp, _ := nostrcrypto.GenerateKeyPair()
	client := New(kp, []string{srv.URL}, testLogger())
	cleanup := NewCleanup(client, kp.PublicKeyHex, func() int { return 7 }, testLogger())

	n, err := cleanup.SweepExpiredBlobs(context.Background())
	if err != nil {
		t.Fatalf("SweepExpiredBlobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if len(deletedPaths) != 1 || deletedPaths[0] != "/old-blob" {
		t.Fatalf("deletedPaths = %v", deletedPaths)
	}
}

func TestSweepExpiredBlobsSkipsServerOnListFailure(t *testing.T) {
	bad := newFakeBlossomServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer bad.Close()

	kp, _ := nostrcrypto.GenerateKeyPair()
	client := New(kp, []string{bad.URL}, testLogger())
	cleanup := NewCleanup(client, kp.PublicKeyHex, func() int { return 7 }, testLogger())

	n, err := cleanup.SweepExpiredBlobs(context.Background())
	if err != nil {
		t.Fatalf("SweepExpiredBlobs returned error (should be swallowed per-server): %v", err)
	}
	if n != 0 {
		t.Fatalf("deleted = %d, want 0", n)
	}
}
