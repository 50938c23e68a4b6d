// Package announce publishes the worker's self-descriptive NIP-89
// catalog event (kind 31990) on startup, every hour thereafter, and
// whenever the admin engine signals a config change.
package announce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nostrworks/video-dvm/internal/config"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/state"
)

// ServiceID is the "d" tag identifying this DVM's service kind.
const ServiceID = "video-transform-hls"

// DefaultName is used when no admin-configured name is set.
const DefaultName = "Video Transform DVM"

// announcementTTL matches the event's own NIP-40 expiration tag: a
// relay (or client) should treat an announcement as stale after this
// long without a refresh.
const announcementTTL = time.Hour

// Publisher periodically builds and publishes the announcement event.
type Publisher struct {
	keys     *nostrcrypto.KeyPair
	st       *state.State
	notifier <-chan struct{}
	publish  func(ctx context.Context, ev *event.Event) error
	log      *slog.Logger
}

// New constructs a Publisher. publish is typically overlay.Pool.Publish.
func New(keys *nostrcrypto.KeyPair, st *state.State, notifier <-chan struct{}, publish func(ctx context.Context, ev *event.Event) error, log *slog.Logger) *Publisher {
	return &Publisher{keys: keys, st: st, notifier: notifier, publish: publish, log: log}
}

// Run publishes immediately, then every hour, and also immediately
// after any config-change notification, until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	p.publishOnce(ctx)

	ticker := time.NewTicker(announcementTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		case <-p.notifier:
			p.publishOnce(ctx)
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	cfg := p.st.Config()
	ev, err := BuildAnnouncement(p.keys, cfg, p.st.Hwaccel())
	if err != nil {
		p.log.Error("build announcement event", "error", err)
		return
	}
	if err := p.publish(ctx, ev); err != nil {
		p.log.Error("publish announcement", "error", err)
		return
	}
	p.log.Info("published DVM announcement", "service_id", ServiceID, "pubkey", p.keys.PublicKeyHex)
}

// BuildAnnouncement constructs and signs the kind-31990 announcement
// event for the current config snapshot and hardware-acceleration tag.
func BuildAnnouncement(keys *nostrcrypto.KeyPair, cfg *config.Persistent, hwaccel string) (*event.Event, error) {
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	about := cfg.About
	if about == "" {
		about = fmt.Sprintf("Video transformation DVM - converts videos to HLS streaming format. Supports 360p, 720p, 1080p, and 4K. Hardware acceleration: %s.", hwaccel)
	}

	b := event.NewBuilder(event.KindAnnouncement).
		WithContent("").
		ExpiresIn(announcementTTL).
		Tag("d", ServiceID).
		Tag("k", fmt.Sprintf("%d", event.KindJobRequest)).
		Tag("name", name).
		Tag("about", about).
		Tag("encryption", "nip04").
		Tag(append([]string{"relays"}, cfg.Relays...)...).
		Tag("param", "mode", "hls", "mp4").
		Tag("param", "resolution", "360p", "480p", "720p", "1080p")

	if cfg.Admin != "" {
		b.Tag("admin", cfg.Admin)
		b.Tag("p", cfg.Admin, "", "operator")
	}

	return b.Sign(keys)
}
