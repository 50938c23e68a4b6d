// Package blossom implements a client for the Blossom blob-storage
// protocol: signed kind-24242 authorization tokens carried as
// "Authorization: Nostr <base64 event>" headers, and the upload/list/
// delete operations that use them.
package blossom

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

// KindAuth is the Blossom authorization event kind (NIP-24242).
const KindAuth = event.KindBlobAuth

// authExpiration is how long a minted auth token remains valid.
const authExpiration = 10 * time.Minute

func buildAuthToken(kp *nostrcrypto.KeyPair, content string, tags [][]string) (string, error) {
	b := event.NewBuilder(KindAuth).WithContent(content).ExpiresIn(authExpiration)
	b.Tags = append(b.Tags, tags...)

	ev, err := b.Sign(kp)
	if err != nil {
		return "", fmt.Errorf("sign auth event: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal auth event: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// CreateUploadAuthToken mints a token authorizing an upload of a blob
// of the given size and sha256 hash.
func CreateUploadAuthToken(kp *nostrcrypto.KeyPair, size int64, sha256Hex string) (string, error) {
	tags := [][]string{
		{"t", "upload"},
		{"size", fmt.Sprintf("%d", size)},
		{"x", sha256Hex},
		{"name", sha256Hex},
	}
	return buildAuthToken(kp, "Upload", tags)
}

// CreateDeleteAuthToken mints a token authorizing deletion of the blob
// with the given sha256 hash.
func CreateDeleteAuthToken(kp *nostrcrypto.KeyPair, sha256Hex string) (string, error) {
	tags := [][]string{
		{"t", "delete"},
		{"x", sha256Hex},
	}
	return buildAuthToken(kp, "Delete", tags)
}

// CreateListAuthToken mints a token authorizing a blob listing.
func CreateListAuthToken(kp *nostrcrypto.KeyPair) (string, error) {
	tags := [][]string{
		{"t", "list"},
	}
	return buildAuthToken(kp, "List Blobs", tags)
}
