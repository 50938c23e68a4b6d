package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nostrworks/video-dvm/internal/config"
	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/overlay"
)

// configFetchDeadline bounds how long run() waits for a remote config
// event during startup before proceeding with defaults.
const configFetchDeadline = 10 * time.Second

// configStore persists the admin-mutable config slice as a
// self-encrypted, replaceable-addressable kind-30078 event, per
// §4.2's save operation.
type configStore struct {
	keys *nostrcrypto.KeyPair
	pool *overlay.Pool
}

func (s *configStore) Save(ctx context.Context, cfg *config.Persistent) error {
	raw, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	ciphertext, err := s.keys.EncryptModern(string(raw), s.keys.PublicKeyHex)
	if err != nil {
		return fmt.Errorf("encrypt config: %w", err)
	}
	ev, err := event.NewBuilder(event.KindAppSpecific).
		Tag("d", config.ConfigDTag).
		WithContent(ciphertext).
		Sign(s.keys)
	if err != nil {
		return fmt.Errorf("sign config event: %w", err)
	}
	return s.pool.Publish(ctx, ev)
}

// configFilter is the one-shot startup query for the worker's own
// latest config event, per §4.2: kind 30078, author self, identifier
// tag "video-dvm-config", limit 1. It is folded into the same
// Subscribe call as the persistent filters so a config re-save from
// another session is picked up without a second query.
func configFilter(pubkeyHex string) event.Filter {
	return event.Filter{
		Kinds:   []int{event.KindAppSpecific},
		Authors: []string{pubkeyHex},
		Tags:    map[string][]string{"d": {config.ConfigDTag}},
		Limit:   1,
	}
}

// decodeRemoteConfig decrypts and parses a fetched kind-30078 event's
// content as a Persistent config. The content is self-encrypted, so
// the counterparty for decryption is the worker's own public key.
func decodeRemoteConfig(ev *event.Event, keys *nostrcrypto.KeyPair) (*config.Persistent, error) {
	plaintext, err := keys.DecryptModern(ev.Content, keys.PublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decrypt remote config: %w", err)
	}
	return config.ParsePersistent([]byte(plaintext))
}
