package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateNewIdentity(t *testing.T) {
	dir := t.TempDir()

	kp, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("load or generate: %v", err)
	}

	content, err := os.ReadFile(KeyPath(dir))
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	if len(content) != 64 {
		t.Fatalf("key file length = %d, want 64", len(content))
	}
	if kp.PublicKeyHex == "" {
		t.Fatal("expected non-empty public key")
	}
}

func TestLoadExistingIdentityIsStable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	info1, err := os.Stat(KeyPath(dir))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	second, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	info2, err := os.Stat(KeyPath(dir))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if first.PublicKeyHex != second.PublicKeyHex {
		t.Fatalf("public key changed across loads: %s != %s", first.PublicKeyHex, second.PublicKeyHex)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Fatal("key file was rewritten on second load")
	}
}

func TestInvalidKeyFileNeverRegenerated(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(KeyPath(dir), []byte("not-a-valid-hex-key"), 0o600); err != nil {
		t.Fatalf("write invalid key: %v", err)
	}

	_, err := LoadOrGenerate(dir)
	if err == nil {
		t.Fatal("expected error loading invalid key file")
	}
	if !strings.Contains(err.Error(), "identity") {
		t.Fatalf("unexpected error: %v", err)
	}

	content, rerr := os.ReadFile(KeyPath(dir))
	if rerr != nil {
		t.Fatalf("read: %v", rerr)
	}
	if string(content) != "not-a-valid-hex-key" {
		t.Fatal("invalid key file was overwritten")
	}
}

func TestDefaultDataDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/custom-dvm-data")
	if got := DefaultDataDir(); got != "/tmp/custom-dvm-data" {
		t.Fatalf("DefaultDataDir() = %s, want /tmp/custom-dvm-data", got)
	}
}

func TestKeyPathJoinsFileName(t *testing.T) {
	got := KeyPath("/some/dir")
	want := filepath.Join("/some/dir", "identity.key")
	if got != want {
		t.Fatalf("KeyPath = %s, want %s", got, want)
	}
}
