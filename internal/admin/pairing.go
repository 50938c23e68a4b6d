// Package admin implements the admin RPC protocol and the
// Unpaired-to-Paired pairing state machine: an unconfigured worker
// renders a short-lived secret (and its QR code) out of band, and the
// first correct claim_admin call takes ownership of the worker.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
	"github.com/nostrworks/video-dvm/internal/state"
)

// secretLength is the number of charset characters in a pairing
// secret, before the xxxx-xxxx-xxxx dash formatting.
const secretLength = 12

// secretCharset excludes characters easily confused when read aloud
// or copied by hand: 0, 1, i, l, o.
const secretCharset = "23456789abcdefghjkmnpqrstuvwxyz"

// pairingTimeout is how long a pairing secret remains valid.
const pairingTimeout = 5 * time.Minute

// NewPairing creates a fresh PairingState for dvmPubkeyHex, good for
// pairingTimeout from now.
func NewPairing(dvmPubkeyHex string) (*state.PairingInfo, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate pairing secret: %w", err)
	}
	return &state.PairingInfo{
		Secret:    secret,
		CreatedAt: time.Now(),
		DVMPubkey: dvmPubkeyHex,
	}, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	chars := make([]byte, secretLength)
	for i, b := range buf {
		chars[i] = secretCharset[int(b)%len(secretCharset)]
	}
	return fmt.Sprintf("%s-%s-%s", chars[0:4], chars[4:8], chars[8:12]), nil
}

// VerifySecret reports whether provided matches p's secret and p has
// not expired as of now. Comparison is constant-time over equal-length
// inputs; differing lengths short-circuit (and therefore leak only
// the fact that lengths differ, never content).
func VerifySecret(p *state.PairingInfo, provided string, now time.Time) bool {
	if p == nil || p.Expired(now) {
		return false
	}
	if len(provided) != len(p.Secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.Secret), []byte(provided)) == 1
}

// PairingURL builds the out-of-band pairing URL:
// <adminAppBaseURL>/pair?dvm=<npub>&secret=<secret>.
func PairingURL(adminAppBaseURL string, dvmPubkeyHex, secret string) (string, error) {
	npub, err := nostrcrypto.EncodeNpub(dvmPubkeyHex)
	if err != nil {
		return "", fmt.Errorf("encode npub: %w", err)
	}
	base := strings.TrimRight(adminAppBaseURL, "/")
	return fmt.Sprintf("%s/pair?dvm=%s&secret=%s", base, npub, secret), nil
}

// RenderQR returns a terminal-printable QR code for url, rendered as
// a Unicode half-block raster the way a first-run CLI prints a
// scannable onboarding prompt.
func RenderQR(url string) (string, error) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("render pairing QR: %w", err)
	}
	return qr.ToSmallString(false), nil
}
