package main

import (
	"context"
	"log/slog"

	"github.com/nostrworks/video-dvm/internal/admin"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/ingress"
	"github.com/nostrworks/video-dvm/internal/job"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/overlay"
	"github.com/nostrworks/video-dvm/internal/seenledger"
	"github.com/nostrworks/video-dvm/internal/state"
)

// statusApproved is the (non-enumerated) status label the spec's
// dispatch rules check for on a kind-7000 event to dequeue a pending
// bid; it is not one of the StatusXxx constants in internal/event
// because §6's status-label enumeration for outbound status events
// never includes it — the worker only ever consumes it, never emits
// it, since bid creation itself is out of scope here (see DESIGN.md).
const statusApproved = "approved"

// dispatcher is the single entry point every inbound overlay event
// passes through: dedup against the seen-event ledger, then
// kind-based routing to the job queue, the admin engine, or the
// pending-bid table, per §4.3.
type dispatcher struct {
	ctx      context.Context
	pool     *overlay.Pool
	ledger   *seenledger.Ledger
	state    *state.State
	engine   *admin.Engine
	keys     *nostrcrypto.KeyPair
	jobs     chan<- job.Context
	configCh chan<- *event.Event
	log      *slog.Logger
}

func (d *dispatcher) handle(relayURL string, ev *event.Event) {
	alreadySeen, err := d.ledger.SeenOrRecord(ev.ID, ev.CreatedAt)
	if err != nil {
		d.log.Warn("seen-ledger error, processing event anyway", "error", err, "event_id", ev.ID)
	} else if alreadySeen {
		return
	}

	if ev.Kind == event.KindAppSpecific && ev.PubKey == d.keys.PublicKeyHex && event.HasTag(ev.Tags, "d") {
		select {
		case d.configCh <- ev:
		default:
		}
		return
	}

	switch ev.Kind {
	case event.KindJobRequest:
		d.handleJobRequest(ev)
	case event.KindAdminRPC:
		d.handleAdminRPC(ev)
	case event.KindStatus:
		d.handleStatus(ev)
	case event.KindGiftWrap:
		d.handleGiftWrap(ev)
	default:
		d.log.Debug("ignoring unhandled event kind", "kind", ev.Kind, "relay", relayURL)
	}
}

func (d *dispatcher) handleJobRequest(ev *event.Event) {
	jc, err := ingress.BuildJobContext(ev, d.keys)
	if err != nil {
		d.log.Debug("dropping malformed job request", "event_id", ev.ID, "error", err)
		return
	}
	d.enqueue(jc)
}

func (d *dispatcher) enqueue(jc job.Context) {
	select {
	case d.jobs <- jc:
	default:
		d.log.Warn("job queue full, dropping job", "event_id", jc.Event.ID)
	}
}

func (d *dispatcher) handleAdminRPC(ev *event.Event) {
	req, err := ingress.DecryptAdminRequest(ev, d.keys)
	if err != nil {
		d.log.Debug("dropping malformed admin rpc event", "event_id", ev.ID, "error", err)
		return
	}
	resp := d.engine.Handle(d.ctx, req, ev.PubKey)
	d.replyAdmin(ev, resp)
}

func (d *dispatcher) replyAdmin(ev *event.Event, resp admin.Response) {
	ciphertext, err := ingress.EncryptAdminResponse(resp, d.keys, ev.PubKey)
	if err != nil {
		d.log.Warn("failed to encrypt admin rpc response", "event_id", ev.ID, "error", err)
		return
	}
	reply, err := event.NewBuilder(event.KindAdminRPC).
		Tag("p", ev.PubKey).
		WithContent(ciphertext).
		Sign(d.keys)
	if err != nil {
		d.log.Warn("failed to sign admin rpc response", "event_id", ev.ID, "error", err)
		return
	}
	if err := d.pool.Publish(d.ctx, reply); err != nil {
		d.log.Warn("failed to publish admin rpc response", "event_id", ev.ID, "error", err)
	}
}

// handleStatus implements the dequeue-on-approved half of the bid
// mechanism described in §4.3. Nothing in this implementation creates
// a pending bid (see DESIGN.md's Open Question note on
// state.AddPendingBid), so in practice this path only fires if a
// future caller starts populating the pending-bid table; the
// reconstructed Context is necessarily limited to what PendingBid
// carries (job event id, input URL, creation time) since that is the
// entirety of its data model.
func (d *dispatcher) handleStatus(ev *event.Event) {
	status := event.TagValue(ev.Tags, "status")
	if len(status) == 0 || status[0] != statusApproved {
		return
	}
	eTag := event.TagValue(ev.Tags, "e")
	if len(eTag) == 0 {
		return
	}
	bid, ok := d.state.TakePendingBid(eTag[0])
	if !ok {
		return
	}

	stub := &event.Event{ID: bid.JobEventID, Kind: event.KindJobRequest}
	jc := job.NewContext(stub, false, job.Input{Value: bid.InputURL, Type: "url"}, nil, nil)
	d.enqueue(jc)
}

func (d *dispatcher) handleGiftWrap(ev *event.Event) {
	rumor, err := ingress.UnwrapGiftWrap(ev, d.keys)
	if err != nil {
		d.log.Debug("dropping malformed gift wrap", "event_id", ev.ID, "error", err)
		return
	}
	switch rumor.Kind {
	case event.KindJobRequest:
		d.handleJobRequest(rumor)
	case event.KindStatus:
		d.handleStatus(rumor)
	default:
		d.log.Debug("ignoring gift-wrapped rumor of unhandled kind", "kind", rumor.Kind)
	}
}
