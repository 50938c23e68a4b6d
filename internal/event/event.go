// Package event defines the signed-event wire type shared by every
// overlay interaction (job requests, status, results, admin RPC,
// announcements, config) and the helpers to build, sign, and verify one.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

// Fixed event kinds used throughout the worker.
const (
	KindJobRequest    = 5207
	KindJobResult     = 6207
	KindStatus        = 7000
	KindBlobAuth      = 24242
	KindAdminRPC      = 24207
	KindAnnouncement  = 31990
	KindAppSpecific   = 30078
	KindGiftWrap      = 1059
	KindEphemeralLow  = 20000
	KindEphemeralHigh = 29999
	KindReplaceLow    = 30000
	KindReplaceHigh   = 39999
)

// Status labels used in kind-7000 events.
const (
	StatusPaymentRequired = "payment-required"
	StatusProcessing      = "processing"
	StatusPartial         = "partial"
	StatusSuccess         = "success"
	StatusError           = "error"
)

// Event is the standard signed JSON record carried on the overlay.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string      `json:"sig"`
}

// IsEphemeral reports whether relays are expected to discard this kind
// rather than retain it.
func IsEphemeral(kind int) bool {
	return kind >= KindEphemeralLow && kind <= KindEphemeralHigh
}

// IsReplaceableAddressable reports whether only the newest event per
// (pubkey, kind, d-tag) should be retained.
func IsReplaceableAddressable(kind int) bool {
	return kind >= KindReplaceLow && kind <= KindReplaceHigh
}

// Builder accumulates the fields of an event before signing.
type Builder struct {
	Kind    int
	Content string
	Tags    [][]string
	// CreatedAt overrides time.Now() when non-zero; used by tests for
	// deterministic event ids.
	CreatedAt int64
}

// NewBuilder starts a builder for the given kind.
func NewBuilder(kind int) *Builder {
	return &Builder{Kind: kind, Tags: [][]string{}}
}

// Tag appends a tag (first element is the conventional key).
func (b *Builder) Tag(values ...string) *Builder {
	b.Tags = append(b.Tags, values)
	return b
}

// WithContent sets the content field.
func (b *Builder) WithContent(content string) *Builder {
	b.Content = content
	return b
}

// ExpiresIn adds a NIP-40 "expiration" tag the given duration from now.
func (b *Builder) ExpiresIn(d time.Duration) *Builder {
	return b.Tag("expiration", fmt.Sprintf("%d", time.Now().Add(d).Unix()))
}

// Sign computes the id and signature with the given key pair, returning
// a complete Event ready to publish.
func (b *Builder) Sign(kp *nostrcrypto.KeyPair) (*Event, error) {
	createdAt := b.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	tags := b.Tags
	if tags == nil {
		tags = [][]string{}
	}

	digest, err := nostrcrypto.EventID(kp.PublicKeyHex, createdAt, b.Kind, tags, b.Content)
	if err != nil {
		return nil, fmt.Errorf("compute event id: %w", err)
	}
	sig, err := kp.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}

	return &Event{
		ID:        fmt.Sprintf("%x", digest),
		PubKey:    kp.PublicKeyHex,
		CreatedAt: createdAt,
		Kind:      b.Kind,
		Tags:      tags,
		Content:   b.Content,
		Sig:       sig,
	}, nil
}

// Verify checks that an event's id matches its content and that its
// signature is valid over that id.
func Verify(e *Event) (bool, error) {
	digest, err := nostrcrypto.EventID(e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content)
	if err != nil {
		return false, err
	}
	if fmt.Sprintf("%x", digest) != e.ID {
		return false, nil
	}
	return nostrcrypto.Verify(e.PubKey, digest, e.Sig)
}

// TagValue returns the first tag whose first element equals key,
// returning its remaining elements, or nil if absent.
func TagValue(tags [][]string, key string) []string {
	for _, t := range tags {
		if len(t) > 0 && t[0] == key {
			if len(t) > 1 {
				return t[1:]
			}
			return []string{}
		}
	}
	return nil
}

// TagValues returns every tag whose first element equals key.
func TagValues(tags [][]string, key string) [][]string {
	var out [][]string
	for _, t := range tags {
		if len(t) > 0 && t[0] == key {
			out = append(out, t)
		}
	}
	return out
}

// HasTag reports whether any tag has the given key, regardless of value.
func HasTag(tags [][]string, key string) bool {
	return TagValue(tags, key) != nil
}

// Filter describes a relay subscription query.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Tags    map[string][]string
	Since   int64 `json:"since,omitempty"`
	Until   int64 `json:"until,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}

// MarshalJSON flattens the Tags map into "#x" keys per the overlay
// filter wire shape.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for k, v := range f.Tags {
		m["#"+k] = v
	}
	if f.Since != 0 {
		m["since"] = f.Since
	}
	if f.Until != 0 {
		m["until"] = f.Until
	}
	if f.Limit != 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}
