// Command video-dvm runs a nostr-overlay video-transcoding worker: a
// Data Vending Machine that accepts job requests over a relay pool,
// transcodes with ffmpeg, uploads the result to Blossom blob stores,
// and exposes an admin RPC and pairing flow for remote configuration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nostrworks/video-dvm/internal/admin"
	"github.com/nostrworks/video-dvm/internal/announce"
	"github.com/nostrworks/video-dvm/internal/config"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/httpapi"
	"github.com/nostrworks/video-dvm/internal/identity"
	"github.com/nostrworks/video-dvm/internal/job"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/overlay"
	"github.com/nostrworks/video-dvm/internal/seenledger"
	"github.com/nostrworks/video-dvm/internal/state"
	"github.com/nostrworks/video-dvm/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:     "dvm",
		Short:   "A nostr video-transcoding data vending machine",
		Version: version.Version,
	}
	root.AddCommand(runCmd(), versionCmd(), identityCmd(), configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// loadBoot applies the local override file (if any) as environment
// defaults, then an optional .env file, and resolves the boot config.
// Order matches §4.2's "Local override": explicit environment
// variables always win over the file, the file always wins over the
// hard-coded default.
func loadBoot() config.Boot {
	loadDotEnv(".env")
	if override, _, err := config.LoadOverrideFile(".", identity.DefaultDataDir()); err == nil {
		override.ApplyAsEnvDefaults()
	}
	return config.LoadBoot()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Version)
			return nil
		},
	}
}

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print the worker's derived public identifier without starting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot := loadBoot()
			dataDir := boot.DataDir
			if dataDir == "" {
				dataDir = identity.DefaultDataDir()
			}
			keys, err := identity.LoadOrGenerate(dataDir)
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}
			npub, err := nostrcrypto.EncodeNpub(keys.PublicKeyHex)
			if err != nil {
				return fmt.Errorf("encode npub: %w", err)
			}
			fmt.Printf("pubkey: %s\n", keys.PublicKeyHex)
			fmt.Printf("npub:   %s\n", npub)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Dump the effective boot configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot := loadBoot()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(boot)
		},
	}
}

func runCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot := loadBoot()
			logFormat := boot.LogFormat
			if debug {
				logFormat = "text"
			}
			return runWorker(boot, newLogger(logFormat))
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "use a human-readable text log handler instead of JSON")
	return cmd
}

func runWorker(boot config.Boot, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataDir := boot.DataDir
	if dataDir == "" {
		dataDir = identity.DefaultDataDir()
	}
	keys, err := identity.LoadOrGenerate(dataDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	npub, _ := nostrcrypto.EncodeNpub(keys.PublicKeyHex)
	log.Info("worker identity loaded", "pubkey", keys.PublicKeyHex, "npub", npub)

	hw := job.DetectHwaccel(log)

	ledgerPath := ":memory:"
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		ledgerPath = filepath.Join(dataDir, "seen.db")
	}
	ledger, err := seenledger.Open(ledgerPath)
	if err != nil {
		return fmt.Errorf("open seen-event ledger: %w", err)
	}
	defer ledger.Close()

	st := state.New(config.NewPersistent(), string(hw))

	configCh := make(chan *event.Event, 1)
	jobCh := make(chan job.Context, 32)
	engineNotifier := make(chan struct{}, 1)
	announceNotifier := make(chan struct{}, 1)
	relayNotifier := make(chan struct{}, 1)

	var pool *overlay.Pool
	disp := &dispatcher{ctx: ctx, ledger: ledger, state: st, keys: keys, jobs: jobCh, configCh: configCh, log: log}
	pool = overlay.New(keys, log, func(relayURL string, ev *event.Event) { disp.handle(relayURL, ev) })
	disp.pool = pool

	pool.Connect(ctx, boot.BootstrapRelays)
	waitForAnyRelay(ctx, pool, log)

	sinceNow := time.Now().Unix()
	filters := []event.Filter{
		{Kinds: []int{event.KindJobRequest}, Since: sinceNow},
		{Kinds: []int{event.KindStatus, event.KindGiftWrap}, Tags: map[string][]string{"p": {keys.PublicKeyHex}}, Since: sinceNow},
		{Kinds: []int{event.KindAdminRPC}, Tags: map[string][]string{"p": {keys.PublicKeyHex}}, Since: sinceNow},
		configFilter(keys.PublicKeyHex),
	}
	if err := pool.Subscribe(ctx, filters...); err != nil {
		log.Warn("initial subscribe failed, relays will resubscribe on reconnect", "error", err)
	}

	remoteCfg := awaitRemoteConfig(ctx, configCh, keys, log)
	st.SetConfig(remoteCfg)

	if len(remoteCfg.Relays) > 0 {
		pool.Connect(ctx, remoteCfg.Relays)
	}

	if !remoteCfg.HasAdmin() {
		announcePairing(st, keys, boot.AdminAppURL, log)
	} else {
		log.Info("worker paired", "admin", remoteCfg.Admin)
	}

	store := &configStore{keys: keys, pool: pool}
	tester := &selfTester{ffmpegPath: boot.FFmpegPath, hwaccel: hw, tempDir: boot.TempDir}
	engine := admin.New(st, store, tester, engineNotifier, keys.PublicKeyHex, version.Version, boot.FFmpegPath, boot.FFprobePath)
	disp.engine = engine

	bc := &liveBlossomClient{keys: keys, state: st, log: log}

	publish := func(ctx context.Context, ev *event.Event) error { return pool.Publish(ctx, ev) }

	handler := job.NewHandler(keys, st, bc, publish, hw, boot.FFmpegPath, boot.FFprobePath, boot.TempDir, log)
	announcer := announce.New(keys, st, announceNotifier, publish, log)

	httpHandler := httpapi.New(tester, keys.PrivateKeyHex, keys.PublicKeyHex, log)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", boot.HTTPPort), Handler: httpHandler}

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() { defer wg.Done(); fn() }()
	}

	spawn(func() { fanOutNotifier(ctx, engineNotifier, announceNotifier, relayNotifier) })
	spawn(func() { runJobQueue(ctx, jobCh, handler, log) })
	spawn(func() { announcer.Run(ctx) })
	spawn(func() { runBlossomCleanup(ctx, bc, keys.PublicKeyHex, log) })
	spawn(func() { runPendingBidSweeper(ctx, st, log) })
	spawn(func() { runRelayRefresh(ctx, pool, st, boot.BootstrapRelays, relayNotifier, log) })

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown error", "error", err)
		}
		wg.Wait()
		return nil
	}
}
