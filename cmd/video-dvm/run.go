package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nostrworks/video-dvm/internal/admin"
	"github.com/nostrworks/video-dvm/internal/config"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/job"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/overlay"
	"github.com/nostrworks/video-dvm/internal/state"
)

// relayConnectWait bounds how long the worker waits for at least one
// relay connection at startup before warning and proceeding, per
// §4.3.
const relayConnectWait = 10 * time.Second

// pendingBidSweepInterval is how often expired pending bids are
// evicted, per §5's "pending-bid sweeper (every 60 s, evicts bids
// older than 5 min)".
const pendingBidSweepInterval = 60 * time.Second

func waitForAnyRelay(ctx context.Context, pool *overlay.Pool, log *slog.Logger) {
	deadline := time.NewTimer(relayConnectWait)
	defer deadline.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(pool.ConnectedRelays()) > 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			log.Warn("no relay connected within startup window, proceeding anyway")
			return
		case <-ticker.C:
		}
	}
}

// awaitRemoteConfig waits for the one-shot config fetch folded into
// the startup subscription (§4.2) to deliver an event, or for
// configFetchDeadline to elapse, whichever comes first.
func awaitRemoteConfig(ctx context.Context, configCh <-chan *event.Event, keys *nostrcrypto.KeyPair, log *slog.Logger) *config.Persistent {
	select {
	case ev := <-configCh:
		cfg, err := decodeRemoteConfig(ev, keys)
		if err != nil {
			log.Warn("failed to decode remote config, using defaults", "error", err)
			return config.NewPersistent()
		}
		log.Info("loaded remote config")
		return cfg
	case <-time.After(configFetchDeadline):
		log.Info("no remote config found within deadline, using defaults")
		return config.NewPersistent()
	case <-ctx.Done():
		return config.NewPersistent()
	}
}

// announcePairing enters the Unpaired state: generates a pairing
// secret, stores it, and prints the pairing URL and its QR code, per
// §4.7.
func announcePairing(st *state.State, keys *nostrcrypto.KeyPair, adminAppURL string, log *slog.Logger) {
	pairing, err := admin.NewPairing(keys.PublicKeyHex)
	if err != nil {
		log.Error("failed to create pairing state", "error", err)
		return
	}
	st.SetPairing(pairing)

	url, err := admin.PairingURL(adminAppURL, keys.PublicKeyHex, pairing.Secret)
	if err != nil {
		log.Error("failed to build pairing url", "error", err)
		return
	}
	log.Info("worker unpaired, scan the QR code or open the pairing url to claim admin", "pairing_url", url)

	if qr, err := admin.RenderQR(url); err == nil {
		fmt.Println(qr)
	}
	fmt.Println(url)
}

// runJobQueue is the worker's single long-lived job-handler
// goroutine: it dequeues contexts and spawns one goroutine per job so
// concurrent jobs are permitted (§5), while the dequeue loop itself
// stays the sole consumer of the bounded job channel.
func runJobQueue(ctx context.Context, jobs <-chan job.Context, handler *job.Handler, log *slog.Logger) {
	log.Info("job handler started")
	for {
		select {
		case <-ctx.Done():
			return
		case jc, ok := <-jobs:
			if !ok {
				return
			}
			go func(jc job.Context) {
				if err := handler.Handle(ctx, jc); err != nil {
					log.Warn("job failed", "job_id", jc.Event.ID, "error", err)
				}
			}(jc)
		}
	}
}

// runPendingBidSweeper evicts pending bids older than
// state.PendingBidTimeout every pendingBidSweepInterval, per §5.
func runPendingBidSweeper(ctx context.Context, st *state.State, log *slog.Logger) {
	ticker := time.NewTicker(pendingBidSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.CleanupBids(time.Now()); n > 0 {
				log.Debug("evicted expired pending bids", "count", n)
			}
		}
	}
}

// runRelayRefresh watches the relay-change notifier and reconciles
// the overlay pool's connections against the union of the bootstrap
// relays and the current config's relay list, per §4.7's note that
// the overlay client observes the config-change notifier "to refresh
// subscriptions when the relay set changes."
func runRelayRefresh(ctx context.Context, pool *overlay.Pool, st *state.State, bootstrapRelays []string, notifier <-chan struct{}, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-notifier:
			relays := unionRelays(bootstrapRelays, st.Config().Relays)
			pool.SetRelays(ctx, relays)
			log.Info("relay set refreshed from config", "relays", relays)
		}
	}
}

func unionRelays(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, r := range a {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range b {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
