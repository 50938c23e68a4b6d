package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nostrworks/video-dvm/internal/blossom"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/state"
)

// liveBlossomClient satisfies job.Uploader by building a fresh
// blossom.Client against the current config snapshot on every call,
// rather than caching one constructed at startup. blossom.Client's
// server list is fixed at construction time, and set_blossom_servers
// mutates config without a matching notifier hook the way set_relays
// does for the overlay pool (§4.7 only names the announcement
// publisher and the overlay client as notifier observers) — reading
// state.Config() fresh on every upload and every cleanup sweep is
// cheaper than adding a second notifier-driven rebuild path and keeps
// every blossom operation honest about which servers are current,
// matching the spec's "read via a snapshot under the worker-state
// lock" description of config access everywhere else.
type liveBlossomClient struct {
	keys  *nostrcrypto.KeyPair
	state *state.State
	log   *slog.Logger
}

func (c *liveBlossomClient) client() *blossom.Client {
	return blossom.New(c.keys, c.state.Config().BlossomServers, c.log)
}

func (c *liveBlossomClient) UploadFileToAll(ctx context.Context, path, mimeType string, onProgress blossom.ProgressFunc) ([]blossom.BlobDescriptor, error) {
	return c.client().UploadFileToAll(ctx, path, mimeType, onProgress)
}

// blobCleanupInterval mirrors blossom.Cleanup's own sweep cadence.
const blobCleanupInterval = 24 * time.Hour

// runBlossomCleanup sweeps expired blobs immediately and then every
// blobCleanupInterval, rebuilding the Blossom client from the current
// config on every sweep so a mid-run set_blossom_servers or
// set_blob_expiration takes effect without restarting the loop.
func runBlossomCleanup(ctx context.Context, c *liveBlossomClient, dvmPubkeyHex string, log *slog.Logger) {
	log.Info("blob cleanup scheduler started")

	sweep := func() {
		cleanup := blossom.NewCleanup(c.client(), dvmPubkeyHex, func() int {
			return c.state.Config().BlobExpirationDays
		}, log)
		n, err := cleanup.SweepExpiredBlobs(ctx)
		if err != nil {
			log.Error("blob cleanup failed", "error", err)
			return
		}
		log.Info("blob cleanup complete", "deleted", n)
	}

	sweep()
	ticker := time.NewTicker(blobCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
