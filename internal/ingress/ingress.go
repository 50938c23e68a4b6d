// Package ingress turns raw overlay events into the shapes the rest
// of the worker operates on: a job.Context from a job-request event
// (plain or legacy-encrypted), a decrypted admin.Request from an
// admin-RPC event, and the inner rumor carried by a gift-wrap event.
// It owns no state of its own; every function here is a pure
// decode/decrypt step the caller (the dispatch loop in cmd/video-dvm)
// composes with the seen-event ledger and the pending-bid table.
package ingress

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nostrworks/video-dvm/internal/admin"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/job"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

// ErrJobRejected is returned when a job-request event (or its rumor)
// carries no usable input tag.
var ErrJobRejected = errors.New("ingress: job request missing input tag")

// legacyPayload is the decrypted shape of a legacy-encrypted job
// request's content: the "i" and "param" tags carried as JSON instead
// of plain event tags, per NIP-90's encrypted-params convention.
type legacyPayload struct {
	I      []string   `json:"i"`
	Params [][]string `json:"params"`
}

// BuildJobContext turns a kind-5207 event (or an unwrapped rumor of
// the same shape) into a job.Context. If the event carries an
// "encrypted" tag and its content is in the legacy wire shape, it is
// decrypted first and its tags synthesized from the decrypted
// {i, params} payload; otherwise tags are read directly off ev.
func BuildJobContext(ev *event.Event, keys *nostrcrypto.KeyPair) (job.Context, error) {
	if event.HasTag(ev.Tags, "encrypted") && nostrcrypto.IsLegacyWireShape(ev.Content) {
		return buildFromEncrypted(ev, keys)
	}

	input, ok := inputFromTags(ev.Tags)
	if !ok {
		return job.Context{}, ErrJobRejected
	}
	relays := event.TagValue(ev.Tags, "relays")
	return job.NewContext(ev, false, input, relays, paramsFromTags(ev.Tags)), nil
}

func buildFromEncrypted(ev *event.Event, keys *nostrcrypto.KeyPair) (job.Context, error) {
	plaintext, err := keys.DecryptLegacy(ev.Content, ev.PubKey)
	if err != nil {
		return job.Context{}, fmt.Errorf("decrypt legacy job request: %w", err)
	}

	var payload legacyPayload
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		return job.Context{}, fmt.Errorf("parse decrypted job request: %w", err)
	}

	input, ok := inputFromSlice(payload.I)
	if !ok {
		return job.Context{}, ErrJobRejected
	}

	params := make(map[string]string, len(payload.Params))
	for _, p := range payload.Params {
		if len(p) >= 2 {
			params[p[0]] = p[1]
		}
	}

	relays := event.TagValue(ev.Tags, "relays")
	return job.NewContext(ev, true, input, relays, params), nil
}

func inputFromSlice(parts []string) (job.Input, bool) {
	if len(parts) < 2 {
		return job.Input{}, false
	}
	in := job.Input{Value: parts[0], Type: parts[1]}
	if len(parts) > 2 {
		in.Relay = parts[2]
	}
	if len(parts) > 3 {
		in.Marker = parts[3]
	}
	return in, true
}

func inputFromTags(tags [][]string) (job.Input, bool) {
	for _, t := range tags {
		if len(t) >= 1 && t[0] == "i" {
			return inputFromSlice(t[1:])
		}
	}
	return job.Input{}, false
}

func paramsFromTags(tags [][]string) map[string]string {
	params := map[string]string{}
	for _, t := range tags {
		if len(t) >= 3 && t[0] == "param" {
			params[t[1]] = t[2]
		}
	}
	return params
}

// DecryptAdminRequest decrypts a kind-24207 event's content with the
// modern scheme and parses it as an admin.Request.
func DecryptAdminRequest(ev *event.Event, keys *nostrcrypto.KeyPair) (admin.Request, error) {
	plaintext, err := keys.DecryptModern(ev.Content, ev.PubKey)
	if err != nil {
		return admin.Request{}, fmt.Errorf("decrypt admin rpc request: %w", err)
	}
	var req admin.Request
	if err := json.Unmarshal([]byte(plaintext), &req); err != nil {
		return admin.Request{}, fmt.Errorf("parse admin rpc request: %w", err)
	}
	return req, nil
}

// EncryptAdminResponse encrypts resp with the modern scheme for
// delivery back to requesterPubkeyHex.
func EncryptAdminResponse(resp admin.Response, keys *nostrcrypto.KeyPair, requesterPubkeyHex string) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal admin rpc response: %w", err)
	}
	return keys.EncryptModern(string(raw), requesterPubkeyHex)
}

// UnwrapGiftWrap decrypts a kind-1059 event's content with the modern
// scheme and parses the plaintext as the inner rumor event it
// carries. Real NIP-59 double-wraps through an ephemeral seal key;
// this worker only ever receives gift wraps addressed to its own
// identity, so a single modern-scheme decrypt directly against the
// wrap's sender pubkey is sufficient to recover the rumor.
func UnwrapGiftWrap(ev *event.Event, keys *nostrcrypto.KeyPair) (*event.Event, error) {
	plaintext, err := keys.DecryptModern(ev.Content, ev.PubKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap gift wrap: %w", err)
	}
	var rumor event.Event
	if err := json.Unmarshal([]byte(plaintext), &rumor); err != nil {
		return nil, fmt.Errorf("parse gift-wrap rumor: %w", err)
	}
	return &rumor, nil
}
