package announce

import (
	"testing"

	"github.com/nostrworks/video-dvm/internal/config"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

func mustKeys(t *testing.T) *nostrcrypto.KeyPair {
	t.Helper()
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

func TestBuildAnnouncementKindAndExpiration(t *testing.T) {
	kp := mustKeys(t)
	cfg := config.NewPersistent()

	ev, err := BuildAnnouncement(kp, cfg, "software")
	if err != nil {
		t.Fatalf("BuildAnnouncement: %v", err)
	}
	if ev.Kind != event.KindAnnouncement {
		t.Fatalf("kind = %d, want %d", ev.Kind, event.KindAnnouncement)
	}
	if ok, err := event.Verify(ev); err != nil || !ok {
		t.Fatalf("event does not verify: ok=%v err=%v", ok, err)
	}
	if event.TagValue(ev.Tags, "expiration") == nil {
		t.Fatal("expected expiration tag")
	}
	if d := event.TagValue(ev.Tags, "d"); len(d) == 0 || d[0] != ServiceID {
		t.Fatalf("d tag = %v, want %q", d, ServiceID)
	}
	if k := event.TagValue(ev.Tags, "k"); len(k) == 0 || k[0] != "5207" {
		t.Fatalf("k tag = %v, want [5207]", k)
	}
}

func TestBuildAnnouncementDefaultsNameAndAbout(t *testing.T) {
	kp := mustKeys(t)
	cfg := config.NewPersistent()

	ev, err := BuildAnnouncement(kp, cfg, "nvenc")
	if err != nil {
		t.Fatalf("BuildAnnouncement: %v", err)
	}
	name := event.TagValue(ev.Tags, "name")
	if len(name) == 0 || name[0] != DefaultName {
		t.Fatalf("name tag = %v, want %q", name, DefaultName)
	}
	about := event.TagValue(ev.Tags, "about")
	if len(about) == 0 {
		t.Fatal("expected about tag")
	}
}

func TestBuildAnnouncementCustomNameAndAbout(t *testing.T) {
	kp := mustKeys(t)
	cfg := config.NewPersistent()
	cfg.Name = "My DVM"
	cfg.About = "custom about text"

	ev, err := BuildAnnouncement(kp, cfg, "software")
	if err != nil {
		t.Fatalf("BuildAnnouncement: %v", err)
	}
	if name := event.TagValue(ev.Tags, "name"); len(name) == 0 || name[0] != "My DVM" {
		t.Fatalf("name tag = %v", name)
	}
	if about := event.TagValue(ev.Tags, "about"); len(about) == 0 || about[0] != "custom about text" {
		t.Fatalf("about tag = %v", about)
	}
}

func TestBuildAnnouncementIncludesAdminAndOperatorTags(t *testing.T) {
	kp := mustKeys(t)
	admin := mustKeys(t)
	cfg := config.NewPersistent()
	cfg.Admin = admin.PublicKeyHex

	ev, err := BuildAnnouncement(kp, cfg, "software")
	if err != nil {
		t.Fatalf("BuildAnnouncement: %v", err)
	}
	if a := event.TagValue(ev.Tags, "admin"); len(a) == 0 || a[0] != admin.PublicKeyHex {
		t.Fatalf("admin tag = %v, want %q", a, admin.PublicKeyHex)
	}

	found := false
	for _, tag := range ev.Tags {
		if len(tag) >= 4 && tag[0] == "p" && tag[1] == admin.PublicKeyHex && tag[3] == "operator" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected p tag with operator marker")
	}
}

func TestBuildAnnouncementOmitsAdminTagsWhenUnset(t *testing.T) {
	kp := mustKeys(t)
	cfg := config.NewPersistent()

	ev, err := BuildAnnouncement(kp, cfg, "software")
	if err != nil {
		t.Fatalf("BuildAnnouncement: %v", err)
	}
	if event.TagValue(ev.Tags, "admin") != nil {
		t.Fatal("admin tag should be absent")
	}
	for _, tag := range ev.Tags {
		if len(tag) > 0 && tag[0] == "p" {
			t.Fatal("p tag should be absent without an admin configured")
		}
	}
}

func TestBuildAnnouncementRelaysTag(t *testing.T) {
	kp := mustKeys(t)
	cfg := config.NewPersistent()
	cfg.Relays = []string{"wss://relay.one", "wss://relay.two"}

	ev, err := BuildAnnouncement(kp, cfg, "software")
	if err != nil {
		t.Fatalf("BuildAnnouncement: %v", err)
	}
	relays := event.TagValue(ev.Tags, "relays")
	if len(relays) != 2 || relays[0] != "wss://relay.one" || relays[1] != "wss://relay.two" {
		t.Fatalf("relays tag = %v", relays)
	}
}
