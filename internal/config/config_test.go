package config

import "testing"

func TestParsePersistentAppliesDefaults(t *testing.T) {
	p, err := ParsePersistent([]byte(`{"version":1}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.BlobExpirationDays != DefaultBlobExpirationDays {
		t.Fatalf("blob_expiration_days = %d, want %d", p.BlobExpirationDays, DefaultBlobExpirationDays)
	}
	if p.Relays == nil || len(p.Relays) != 0 {
		t.Fatalf("relays = %v, want empty slice", p.Relays)
	}
	if p.Paused {
		t.Fatal("paused should default false")
	}
}

func TestPersistentRoundTrip(t *testing.T) {
	p := NewPersistent()
	p.Admin = "deadbeef"
	p.Relays = []string{"wss://relay.damus.io"}
	p.BlossomServers = []string{"https://blossom.example.com"}
	p.Name = "Test DVM"
	p.About = "A test DVM"

	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParsePersistent(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Admin != p.Admin || got.Name != p.Name || got.About != p.About {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, p)
	}
	if len(got.Relays) != 1 || got.Relays[0] != p.Relays[0] {
		t.Fatalf("relays round trip mismatch: %v", got.Relays)
	}
}

func TestHasAdmin(t *testing.T) {
	p := NewPersistent()
	if p.HasAdmin() {
		t.Fatal("fresh config should have no admin")
	}
	p.Admin = "abc123"
	if !p.HasAdmin() {
		t.Fatal("expected HasAdmin true once admin is set")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := NewPersistent()
	p.Relays = []string{"wss://a"}
	clone := p.Clone()
	clone.Relays[0] = "wss://b"
	if p.Relays[0] != "wss://a" {
		t.Fatalf("mutating clone affected original: %v", p.Relays)
	}
}

func TestValidateRelayURL(t *testing.T) {
	if err := ValidateRelayURL("wss://relay.damus.io"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateRelayURL("http://x"); err == nil {
		t.Fatal("expected error for non-ws(s) scheme")
	}
}

func TestValidateBlossomURL(t *testing.T) {
	if err := ValidateBlossomURL("https://blossom.example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateBlossomURL("wss://x"); err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
}

func TestLoadBootDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("FFMPEG_PATH", "")
	boot := LoadBoot()
	if boot.HTTPPort != 8787 {
		t.Fatalf("HTTPPort = %d, want 8787", boot.HTTPPort)
	}
	if boot.FFmpegPath != "ffmpeg" {
		t.Fatalf("FFmpegPath = %s, want ffmpeg", boot.FFmpegPath)
	}
}

func TestEnvOverridesFromPersistent(t *testing.T) {
	t.Setenv("NOSTR_RELAYS", "wss://a,wss://b")
	t.Setenv("DVM_NAME", "My DVM")
	t.Setenv("BLOSSOM_UPLOAD_SERVERS", "")
	t.Setenv("BLOSSOM_BLOB_EXPIRATION_DAYS", "")
	t.Setenv("DVM_ABOUT", "")

	relays, servers, days, name, about, present := EnvOverridesFromPersistent()
	if !present {
		t.Fatal("expected present = true")
	}
	if len(relays) != 2 {
		t.Fatalf("relays = %v", relays)
	}
	if len(servers) != 0 {
		t.Fatalf("servers = %v, want empty", servers)
	}
	if days != 0 {
		t.Fatalf("days = %d, want 0", days)
	}
	if name != "My DVM" {
		t.Fatalf("name = %s", name)
	}
	if about != "" {
		t.Fatalf("about = %s, want empty", about)
	}
}
