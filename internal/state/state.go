// Package state holds the worker's shared mutable state behind a
// single reader/writer lock: the current config snapshot, detected
// hardware-acceleration tag, start time, job counters and bounded
// history, the pending-bid map, and the active pairing secret if any.
package state

import (
	"sync"
	"time"

	"github.com/nostrworks/video-dvm/internal/config"
)

// MaxJobHistory bounds the in-memory job-history ring. Older entries
// are evicted once this capacity is reached.
const MaxJobHistory = 100

// PendingBidTimeout is how long an unanswered bid stays eligible for
// cleanup sweeps.
const PendingBidTimeout = 5 * time.Minute

// JobStatus enumerates the terminal and in-flight states a JobRecord
// can occupy.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobRecord is one entry in the bounded job-history ring. StartedAt
// and CompletedAt are raw Unix-second integers, not RFC3339 strings,
// so the JSON the job_history admin method returns is a pure
// round-trip of the in-memory value.
type JobRecord struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	InputURL    string    `json:"input_url"`
	OutputURL   string    `json:"output_url,omitempty"`
	StartedAt   int64     `json:"started_at"`
	CompletedAt int64     `json:"completed_at,omitempty"`
}

// PendingBid tracks a job request the worker has bid on (emitted a
// payment-required or processing status for) but has not yet been
// confirmed to run.
type PendingBid struct {
	JobEventID string
	InputURL   string
	CreatedAt  time.Time
}

// PairingInfo is the minimal pairing-state projection the worker
// state holds; the full constant-time verification logic lives in
// internal/admin, which owns secret generation and comparison.
type PairingInfo struct {
	Secret    string
	CreatedAt time.Time
	DVMPubkey string
}

// Expired reports whether the pairing window (5 minutes from
// creation) has elapsed as of now.
func (p *PairingInfo) Expired(now time.Time) bool {
	return now.After(p.CreatedAt.Add(5 * time.Minute))
}

// State is the worker's shared mutable record. All access goes
// through the exported methods below, which take rw internally;
// callers never see the lock. Lock-holding across blocking calls is
// permitted but must never span network I/O — callers that need to
// publish after a mutation must copy what they need and release the
// lock first.
type State struct {
	cfg       *config.Persistent
	hwaccel   string
	startedAt time.Time

	jobsActive    int
	jobsCompleted int
	jobsFailed    int
	history       []JobRecord // newest-first, capped at MaxJobHistory

	pendingBids map[string]PendingBid
	pairing     *PairingInfo

	mu sync.RWMutex
}

// New constructs a fresh State with the given initial config and
// detected hardware-acceleration tag.
func New(cfg *config.Persistent, hwaccel string) *State {
	return &State{
		cfg:         cfg,
		hwaccel:     hwaccel,
		startedAt:   time.Now(),
		pendingBids: make(map[string]PendingBid),
	}
}

// Config returns a deep copy of the current config snapshot, safe to
// read and mutate without affecting the authoritative state.
func (s *State) Config() *config.Persistent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// SetConfig replaces the config snapshot. The admin engine is the
// only caller; it is responsible for persisting the new config to the
// overlay before or after this call per its own atomicity contract.
func (s *State) SetConfig(cfg *config.Persistent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Hwaccel returns the detected hardware-acceleration tag.
func (s *State) Hwaccel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hwaccel
}

// StartedAt returns the instant the worker process started.
func (s *State) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Counters reports the current job counters.
func (s *State) Counters() (active, completed, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobsActive, s.jobsCompleted, s.jobsFailed
}

// JobStarted records a new job beginning: increments jobs_active and
// inserts a processing record at the front of the history ring,
// trimming to MaxJobHistory.
func (s *State) JobStarted(id, inputURL string, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsActive++
	s.pushHistory(JobRecord{
		ID:        id,
		Status:    JobProcessing,
		InputURL:  inputURL,
		StartedAt: startedAt.Unix(),
	})
}

// JobCompleted marks the job as completed: decrements jobs_active
// (saturating at zero), increments jobs_completed, and updates the
// matching history entry if present.
func (s *State) JobCompleted(id, outputURL string, completedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decrementActive()
	s.jobsCompleted++
	s.updateHistory(id, func(r *JobRecord) {
		r.Status = JobCompleted
		r.OutputURL = outputURL
		r.CompletedAt = completedAt.Unix()
	})
}

// JobFailed marks the job as failed: decrements jobs_active
// (saturating at zero), increments jobs_failed, and updates the
// matching history entry if present.
func (s *State) JobFailed(id string, failedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decrementActive()
	s.jobsFailed++
	s.updateHistory(id, func(r *JobRecord) {
		r.Status = JobFailed
		r.CompletedAt = failedAt.Unix()
	})
}

func (s *State) decrementActive() {
	if s.jobsActive > 0 {
		s.jobsActive--
	}
}

func (s *State) pushHistory(r JobRecord) {
	s.history = append([]JobRecord{r}, s.history...)
	if len(s.history) > MaxJobHistory {
		s.history = s.history[:MaxJobHistory]
	}
}

func (s *State) updateHistory(id string, mutate func(*JobRecord)) {
	for i := range s.history {
		if s.history[i].ID == id {
			mutate(&s.history[i])
			return
		}
	}
}

// JobHistory returns up to limit entries, newest first. A limit of 0
// or negative returns the full ring.
func (s *State) JobHistory(limit int) []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]JobRecord, limit)
	copy(out, s.history[:limit])
	return out
}

// AddPendingBid records a new pending bid keyed by job event id.
func (s *State) AddPendingBid(jobEventID, inputURL string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingBids[jobEventID] = PendingBid{
		JobEventID: jobEventID,
		InputURL:   inputURL,
		CreatedAt:  createdAt,
	}
}

// TakePendingBid removes and returns the pending bid for the given
// job event id, if present.
func (s *State) TakePendingBid(jobEventID string) (PendingBid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.pendingBids[jobEventID]
	if ok {
		delete(s.pendingBids, jobEventID)
	}
	return b, ok
}

// CleanupBids removes pending bids older than PendingBidTimeout as of
// now, returning the number evicted.
func (s *State) CleanupBids(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, b := range s.pendingBids {
		if now.Sub(b.CreatedAt) > PendingBidTimeout {
			delete(s.pendingBids, k)
			evicted++
		}
	}
	return evicted
}

// Pairing returns the active pairing info, or nil if the worker is
// already paired (or has never entered pairing mode).
func (s *State) Pairing() *PairingInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pairing == nil {
		return nil
	}
	cp := *s.pairing
	return &cp
}

// SetPairing installs or clears the active pairing info. Passing nil
// clears it, as happens once claim_admin succeeds.
func (s *State) SetPairing(p *PairingInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairing = p
}
