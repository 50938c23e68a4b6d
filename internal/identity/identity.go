// Package identity loads or generates the worker's persistent signing
// key, following the same create-once-and-never-rewrite discipline the
// rest of this codebase applies to its own long-lived credentials.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

// ErrInvalidKey is returned when an existing identity file does not
// parse as 64 hex characters. The caller must never regenerate on this
// error — that would silently change the worker's public identifier.
var ErrInvalidKey = errors.New("identity: key file does not contain a valid 64-hex private key")

const identityFileName = "identity.key"

// DefaultDataDir returns the per-user data directory the identity file
// lives under, honoring the DATA_DIR environment override.
func DefaultDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}

	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = "."
	}
	if runtime.GOOS == "darwin" {
		if home, herr := os.UserHomeDir(); herr == nil {
			base = filepath.Join(home, "Library", "Application Support")
		}
	}
	return filepath.Join(base, "dvm-video")
}

// KeyPath returns the path to the identity key file under dataDir.
func KeyPath(dataDir string) string {
	return filepath.Join(dataDir, identityFileName)
}

// LoadOrGenerate reads the identity key file under dataDir, or creates
// one if absent. A malformed existing file is a hard failure: it is
// never silently overwritten with a freshly generated key.
func LoadOrGenerate(dataDir string) (*nostrcrypto.KeyPair, error) {
	path := KeyPath(dataDir)

	data, err := os.ReadFile(path)
	if err == nil {
		hexKey := strings.TrimSpace(string(data))
		kp, perr := nostrcrypto.ParseKeyPair(hexKey)
		if perr != nil {
			return nil, &IdentityError{Kind: KindInvalidKey, Err: fmt.Errorf("%w: %v", ErrInvalidKey, perr)}
		}
		return kp, nil
	}
	if !os.IsNotExist(err) {
		return nil, &IdentityError{Kind: KindIO, Err: fmt.Errorf("read identity file %s: %w", path, err)}
	}

	return generateAndSave(path)
}

func generateAndSave(path string) (*nostrcrypto.KeyPair, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, &IdentityError{Kind: KindIO, Err: fmt.Errorf("create identity directory: %w", err)}
		}
	}

	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	if err := os.WriteFile(path, []byte(kp.PrivateKeyHex), 0o600); err != nil {
		return nil, &IdentityError{Kind: KindIO, Err: fmt.Errorf("write identity file: %w", err)}
	}
	// os.WriteFile applies the mode through umask; force it explicitly
	// so the key is never left group/world readable.
	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, &IdentityError{Kind: KindIO, Err: fmt.Errorf("chmod identity file: %w", err)}
		}
	}

	return kp, nil
}
