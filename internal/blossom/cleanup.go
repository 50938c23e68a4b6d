package blossom

import (
	"context"
	"log/slog"
	"time"
)

// cleanupInterval is how often the retention sweep runs.
const cleanupInterval = 24 * time.Hour

// Cleanup periodically deletes blobs older than the configured
// retention window from every Blossom server.
type Cleanup struct {
	client            *Client
	dvmPubkeyHex      string
	expirationDaysFn  func() int
	log               *slog.Logger
}

// NewCleanup constructs a Cleanup. expirationDaysFn is read fresh on
// every sweep so an admin's set_blob_expiration change takes effect on
// the next run without restarting the loop.
func NewCleanup(client *Client, dvmPubkeyHex string, expirationDaysFn func() int, log *slog.Logger) *Cleanup {
	return &Cleanup{client: client, dvmPubkeyHex: dvmPubkeyHex, expirationDaysFn: expirationDaysFn, log: log}
}

// Run blocks, sweeping expired blobs once immediately and then every
// cleanupInterval, until ctx is canceled.
func (c *Cleanup) Run(ctx context.Context) {
	c.log.Info("blob cleanup scheduler started")

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	if n, err := c.SweepExpiredBlobs(ctx); err != nil {
		c.log.Error("blob cleanup failed", "error", err)
	} else {
		c.log.Info("blob cleanup complete", "deleted", n)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.SweepExpiredBlobs(ctx)
			if err != nil {
				c.log.Error("blob cleanup failed", "error", err)
				continue
			}
			c.log.Info("blob cleanup complete", "deleted", n)
		}
	}
}

// SweepExpiredBlobs deletes every blob uploaded before the retention
// threshold from every configured server, returning the total number
// of blobs deleted. Per-server and per-blob failures are logged and
// skipped rather than aborting the sweep.
func (c *Cleanup) SweepExpiredBlobs(ctx context.Context) (int, error) {
	threshold := time.Now().AddDate(0, 0, -c.expirationDaysFn()).Unix()

	total := 0
	for _, server := range c.client.servers {
		n, err := c.sweepServer(ctx, server, threshold)
		if err != nil {
			c.log.Warn("failed to sweep blossom server", "server", server, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

func (c *Cleanup) sweepServer(ctx context.Context, server string, threshold int64) (int, error) {
	blobs, err := c.client.List(ctx, server, c.dvmPubkeyHex)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, blob := range blobs {
		if blob.Uploaded >= threshold {
			continue
		}
		if err := c.client.Delete(ctx, server, blob.SHA256); err != nil {
			c.log.Warn("failed to delete expired blob", "sha256", blob.SHA256, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
