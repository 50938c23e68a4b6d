package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/nostrworks/video-dvm/internal/config"
	"github.com/nostrworks/video-dvm/internal/state"
)

// ConfigSaver persists a config mutation to the overlay. Per the
// spec's save-vs-memory-state decision, a save failure does not roll
// back the in-memory mutation; the caller only learns about it
// through the returned error, which the engine relays to the RPC
// response.
type ConfigSaver interface {
	Save(ctx context.Context, cfg *config.Persistent) error
}

// SelfTester runs the canned short encode self_test invokes, shared
// with the HTTP /self-test endpoint.
type SelfTester interface {
	SelfTest(ctx context.Context) (SelfTestResult, error)
}

// Engine dispatches admin RPC requests, enforcing that every method
// but claim_admin requires the sender to match the configured admin
// pubkey.
type Engine struct {
	state       *state.State
	store       ConfigSaver
	selfTester  SelfTester
	notifier    chan struct{}
	dvmPubkey   string
	version     string
	ffmpegPath  string
	ffprobePath string
}

// New constructs an Engine. notifier is a buffered (capacity >= 1)
// channel the engine signals (non-blockingly) after every successful
// mutation; the announcement publisher and overlay client both select
// on it to refresh themselves.
func New(st *state.State, store ConfigSaver, selfTester SelfTester, notifier chan struct{}, dvmPubkey, version, ffmpegPath, ffprobePath string) *Engine {
	return &Engine{
		state:       st,
		store:       store,
		selfTester:  selfTester,
		notifier:    notifier,
		dvmPubkey:   dvmPubkey,
		version:     version,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

func (e *Engine) signalConfigChanged() {
	select {
	case e.notifier <- struct{}{}:
	default:
	}
}

// Handle authorizes and dispatches one request from senderPubkeyHex,
// returning the response to encrypt and publish back.
func (e *Engine) Handle(ctx context.Context, req Request, senderPubkeyHex string) Response {
	if req.Method == MethodClaimAdmin {
		return e.handleClaimAdmin(ctx, req, senderPubkeyHex)
	}

	cfg := e.state.Config()
	if !cfg.HasAdmin() || cfg.Admin != senderPubkeyHex {
		adminErr := &AdminError{Kind: KindUnauthorized, Err: errors.New("Unauthorized")}
		return fail(req.ID, adminErr.Error())
	}

	switch req.Method {
	case MethodGetConfig:
		return e.handleGetConfig(req)
	case MethodSetRelays:
		return e.handleSetRelays(ctx, req)
	case MethodSetBlossomServers:
		return e.handleSetBlossomServers(ctx, req)
	case MethodSetBlobExpiration:
		return e.handleSetBlobExpiration(ctx, req)
	case MethodSetProfile:
		return e.handleSetProfile(ctx, req)
	case MethodPause:
		return e.handlePause(ctx, req)
	case MethodResume:
		return e.handleResume(ctx, req)
	case MethodStatus:
		return e.handleStatus(req)
	case MethodJobHistory:
		return e.handleJobHistory(req)
	case MethodSelfTest:
		return e.handleSelfTest(ctx, req)
	case MethodSystemInfo:
		return e.handleSystemInfo(req)
	case MethodImportEnvConfig:
		return e.handleImportEnvConfig(ctx, req)
	default:
		adminErr := &AdminError{Kind: KindUnknownMethod, Err: fmt.Errorf("unknown method: %s", req.Method)}
		return fail(req.ID, adminErr.Error())
	}
}

func (e *Engine) handleClaimAdmin(ctx context.Context, req Request, sender string) Response {
	cfg := e.state.Config()
	if cfg.HasAdmin() {
		return fail(req.ID, "Admin already configured")
	}

	var params claimAdminParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, "invalid params")
	}

	pairing := e.state.Pairing()
	if !VerifySecret(pairing, params.Secret, time.Now()) {
		return fail(req.ID, "Invalid or expired pairing secret")
	}

	cfg.Admin = sender
	saveErr := e.store.Save(ctx, cfg)
	e.state.SetConfig(cfg)
	e.state.SetPairing(nil)

	if saveErr != nil {
		adminErr := &AdminError{Kind: KindConfigSave, Err: saveErr}
		return fail(req.ID, fmt.Sprintf("Failed to save config: %v", adminErr))
	}
	e.signalConfigChanged()
	return okMsg(req.ID, "Admin role claimed successfully")
}

func (e *Engine) handleGetConfig(req Request) Response {
	cfg := e.state.Config()
	return ok(req.ID, ConfigView{
		Relays:             cfg.Relays,
		BlossomServers:     cfg.BlossomServers,
		BlobExpirationDays: cfg.BlobExpirationDays,
		Name:               cfg.Name,
		About:              cfg.About,
		Paused:             cfg.Paused,
	})
}

func (e *Engine) handleSetRelays(ctx context.Context, req Request) Response {
	var params setRelaysParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, "invalid params")
	}
	for _, r := range params.Relays {
		if err := config.ValidateRelayURL(r); err != nil {
			return fail(req.ID, err.Error())
		}
	}

	cfg := e.state.Config()
	cfg.Relays = params.Relays
	return e.saveAndRespond(ctx, req, cfg, "Relays updated")
}

func (e *Engine) handleSetBlossomServers(ctx context.Context, req Request) Response {
	var params setBlossomServersParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, "invalid params")
	}
	for _, s := range params.Servers {
		if err := config.ValidateBlossomURL(s); err != nil {
			return fail(req.ID, err.Error())
		}
	}

	cfg := e.state.Config()
	cfg.BlossomServers = params.Servers
	return e.saveAndRespond(ctx, req, cfg, "Blossom servers updated")
}

func (e *Engine) handleSetBlobExpiration(ctx context.Context, req Request) Response {
	var params setBlobExpirationParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, "invalid params")
	}
	if params.Days <= 0 {
		return fail(req.ID, "Expiration days must be greater than 0")
	}

	cfg := e.state.Config()
	cfg.BlobExpirationDays = params.Days
	return e.saveAndRespond(ctx, req, cfg, fmt.Sprintf("Blob expiration set to %d days", params.Days))
}

func (e *Engine) handleSetProfile(ctx context.Context, req Request) Response {
	var params setProfileParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, "invalid params")
	}
	if params.Name == nil && params.About == nil {
		return fail(req.ID, "At least one of 'name' or 'about' must be provided")
	}

	cfg := e.state.Config()
	if params.Name != nil {
		cfg.Name = *params.Name
	}
	if params.About != nil {
		cfg.About = *params.About
	}
	return e.saveAndRespond(ctx, req, cfg, "Profile updated")
}

func (e *Engine) handlePause(ctx context.Context, req Request) Response {
	cfg := e.state.Config()
	if cfg.Paused {
		return fail(req.ID, "DVM is already paused")
	}
	cfg.Paused = true
	return e.saveAndRespond(ctx, req, cfg, "DVM paused")
}

func (e *Engine) handleResume(ctx context.Context, req Request) Response {
	cfg := e.state.Config()
	if !cfg.Paused {
		return fail(req.ID, "DVM is not paused")
	}
	cfg.Paused = false
	return e.saveAndRespond(ctx, req, cfg, "DVM resumed")
}

func (e *Engine) handleStatus(req Request) Response {
	cfg := e.state.Config()
	active, completed, failed := e.state.Counters()
	uptime := int64(time.Since(e.state.StartedAt()).Seconds())

	return ok(req.ID, StatusView{
		Paused:        cfg.Paused,
		JobsActive:    active,
		JobsCompleted: completed,
		JobsFailed:    failed,
		UptimeSecs:    uptime,
		Hwaccel:       e.state.Hwaccel(),
		Version:       e.version,
	})
}

func (e *Engine) handleJobHistory(req Request) Response {
	limit := defaultJobHistoryLimit
	if len(req.Params) > 0 {
		var params jobHistoryParams
		if err := json.Unmarshal(req.Params, &params); err == nil && params.Limit > 0 {
			limit = params.Limit
		}
	}

	records := e.state.JobHistory(limit)
	jobs := make([]JobInfo, 0, len(records))
	for _, r := range records {
		info := JobInfo{
			ID:          r.ID,
			Status:      string(r.Status),
			InputURL:    r.InputURL,
			OutputURL:   r.OutputURL,
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
		}
		if r.CompletedAt > 0 && r.CompletedAt >= r.StartedAt {
			info.DurationSecs = r.CompletedAt - r.StartedAt
		}
		jobs = append(jobs, info)
	}
	return ok(req.ID, map[string]interface{}{"jobs": jobs})
}

func (e *Engine) handleSelfTest(ctx context.Context, req Request) Response {
	if e.selfTester == nil {
		return ok(req.ID, SelfTestResult{Success: false, Error: "self-test not available"})
	}
	result, err := e.selfTester.SelfTest(ctx)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
	}
	return ok(req.ID, result)
}

func (e *Engine) handleSystemInfo(req Request) Response {
	return ok(req.ID, SystemInfo{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		Hwaccel:     e.state.Hwaccel(),
		FFmpegPath:  e.ffmpegPath,
		FFprobePath: e.ffprobePath,
	})
}

func (e *Engine) handleImportEnvConfig(ctx context.Context, req Request) Response {
	relays, servers, days, name, about, present := config.EnvOverridesFromPersistent()
	if !present {
		return fail(req.ID, "No environment configuration found to import")
	}

	cfg := e.state.Config()
	var imported []string
	if len(relays) > 0 {
		cfg.Relays = relays
		imported = append(imported, "relays")
	}
	if len(servers) > 0 {
		cfg.BlossomServers = servers
		imported = append(imported, "blossom_servers")
	}
	if days > 0 {
		cfg.BlobExpirationDays = days
		imported = append(imported, "blob_expiration_days")
	}
	if name != "" {
		cfg.Name = name
		imported = append(imported, "name")
	}
	if about != "" {
		cfg.About = about
		imported = append(imported, "about")
	}

	msg := "Imported: " + joinNames(imported)
	return e.saveAndRespond(ctx, req, cfg, msg)
}

func (e *Engine) saveAndRespond(ctx context.Context, req Request, cfg *config.Persistent, successMsg string) Response {
	saveErr := e.store.Save(ctx, cfg)
	e.state.SetConfig(cfg)
	if saveErr != nil {
		adminErr := &AdminError{Kind: KindConfigSave, Err: saveErr}
		return fail(req.ID, fmt.Sprintf("Failed to save config: %v", adminErr))
	}
	e.signalConfigChanged()
	return okMsg(req.ID, successMsg)
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
