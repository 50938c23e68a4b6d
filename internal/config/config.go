// Package config holds the worker's two configuration layers: the
// immutable boot settings resolved once at startup from environment
// variables (and an optional local override file), and the live,
// admin-mutable settings persisted as an encrypted self-addressed
// overlay event.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nostrworks/video-dvm/internal/bootstrap"
)

// ConfigDTag is the fixed identifier tag on the replaceable-addressable
// config event.
const ConfigDTag = "video-dvm-config"

// CurrentVersion is the schema version this build writes.
const CurrentVersion = 1

// DefaultBlobExpirationDays is used when the persistent config omits
// blob_expiration_days.
const DefaultBlobExpirationDays = 30

// Persistent is the admin-mutable configuration slice, serialized as
// JSON, NIP-44 self-encrypted, and published on kind 30078.
type Persistent struct {
	Version            int      `json:"version"`
	Admin              string   `json:"admin,omitempty"`
	Relays             []string `json:"relays"`
	BlossomServers     []string `json:"blossom_servers"`
	BlobExpirationDays int      `json:"blob_expiration_days"`
	Name               string   `json:"name,omitempty"`
	About              string   `json:"about,omitempty"`
	Paused             bool     `json:"paused"`
}

// NewPersistent returns a Persistent config with defaults applied.
func NewPersistent() *Persistent {
	return &Persistent{
		Version:            CurrentVersion,
		Relays:             []string{},
		BlossomServers:     []string{},
		BlobExpirationDays: DefaultBlobExpirationDays,
	}
}

// HasAdmin reports whether an admin pubkey is configured.
func (p *Persistent) HasAdmin() bool {
	return p.Admin != ""
}

// ParsePersistent decodes JSON into a Persistent config, applying
// defaults for any fields that are absent or zero-valued, tolerating
// unknown extra fields.
func ParsePersistent(data []byte) (*Persistent, error) {
	p := NewPersistent()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, &ConfigError{Kind: KindParse, Err: fmt.Errorf("parse config: %w", err)}
	}
	if p.Version == 0 {
		p.Version = CurrentVersion
	}
	if p.BlobExpirationDays == 0 {
		p.BlobExpirationDays = DefaultBlobExpirationDays
	}
	if p.Relays == nil {
		p.Relays = []string{}
	}
	if p.BlossomServers == nil {
		p.BlossomServers = []string{}
	}
	return p, nil
}

// Marshal serializes the config to JSON.
func (p *Persistent) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Clone returns a deep copy suitable for safe mutation under the
// worker-state write lock.
func (p *Persistent) Clone() *Persistent {
	cp := *p
	cp.Relays = append([]string(nil), p.Relays...)
	cp.BlossomServers = append([]string(nil), p.BlossomServers...)
	return &cp
}

// Boot holds the immutable settings resolved once at process start.
type Boot struct {
	DataDir         string
	TempDir         string
	HTTPPort        int
	FFmpegPath      string
	FFprobePath     string
	BootstrapRelays []string
	AdminAppURL     string
	LogFormat       string
}

// LoadBoot resolves the boot configuration from environment variables,
// applying defaults for anything unset. Callers should invoke
// LoadOverrideFile first and apply its fields as additional
// environment-style defaults before calling LoadBoot, so an explicit
// environment variable always wins over the override file, which in
// turn wins over the hard-coded default.
func LoadBoot() Boot {
	b := Boot{
		DataDir:         envOr("DATA_DIR", ""),
		TempDir:         envOr("TEMP_DIR", os.TempDir()),
		HTTPPort:        envIntOr("HTTP_PORT", 8787),
		FFmpegPath:      envOr("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:     envOr("FFPROBE_PATH", "ffprobe"),
		BootstrapRelays: bootstrap.Relays(),
		AdminAppURL:     bootstrap.AdminAppURL(),
		LogFormat:       envOr("DVM_LOG_FORMAT", "json"),
	}
	return b
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvOverridesFromPersistent builds the selected environment
// variable overrides the import_env_config admin method pulls in:
// NOSTR_RELAYS, BLOSSOM_UPLOAD_SERVERS, BLOSSOM_BLOB_EXPIRATION_DAYS,
// DVM_NAME, DVM_ABOUT. Returns the fields actually present so the
// caller can apply only those.
func EnvOverridesFromPersistent() (relays, blossomServers []string, expirationDays int, name, about string, present bool) {
	if raw := os.Getenv("NOSTR_RELAYS"); raw != "" {
		relays = splitAndTrim(raw)
		present = true
	}
	if raw := os.Getenv("BLOSSOM_UPLOAD_SERVERS"); raw != "" {
		blossomServers = splitAndTrim(raw)
		present = true
	}
	if raw := os.Getenv("BLOSSOM_BLOB_EXPIRATION_DAYS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			expirationDays = n
			present = true
		}
	}
	if raw := os.Getenv("DVM_NAME"); raw != "" {
		name = raw
		present = true
	}
	if raw := os.Getenv("DVM_ABOUT"); raw != "" {
		about = raw
		present = true
	}
	return
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateRelayURL checks the wss://|ws:// scheme required of relay
// URLs in set_relays.
func ValidateRelayURL(u string) error {
	if !strings.HasPrefix(u, "wss://") && !strings.HasPrefix(u, "ws://") {
		return &ConfigError{Kind: KindValidation, Err: fmt.Errorf("invalid relay URL: %q must start with wss:// or ws://", u)}
	}
	return nil
}

// ValidateBlossomURL checks the http(s):// scheme required of blob
// store URLs in set_blossom_servers.
func ValidateBlossomURL(u string) error {
	if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return &ConfigError{Kind: KindValidation, Err: fmt.Errorf("invalid blossom server URL: %q must start with http:// or https://", u)}
	}
	return nil
}
