package nostrcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// nip44Version is the single versioned AEAD construction this worker
// speaks: ChaCha20 for confidentiality, HMAC-SHA256 (keyed with the
// nonce as associated data) for integrity, keys derived from the ECDH
// shared secret via HKDF-SHA256.
const nip44Version byte = 2

const (
	nip44NonceSize  = 32
	nip44MacSize    = 32
	nip44ChachaKey  = 32
	nip44ChachaIV   = 12
	nip44HMACKey    = 32
	nip44ExpandSize = nip44ChachaKey + nip44ChachaIV + nip44HMACKey
)

// conversationKey derives the long-lived per-pair key from the raw ECDH
// shared secret, matching NIP-44's "nip44-v2" HKDF-extract salt.
func conversationKey(sharedSecret []byte) []byte {
	h := hmac.New(sha256.New, []byte("nip44-v2"))
	h.Write(sharedSecret)
	return h.Sum(nil)
}

func messageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	reader := hkdf.Expand(sha256.New, convKey, nonce)
	buf := make([]byte, nip44ExpandSize)
	if _, err = io.ReadFull(reader, buf); err != nil {
		return nil, nil, nil, fmt.Errorf("nip44 expand keys: %w", err)
	}
	return buf[:nip44ChachaKey], buf[nip44ChachaKey : nip44ChachaKey+nip44ChachaIV], buf[nip44ChachaKey+nip44ChachaIV:], nil
}

// EncryptModern implements the modern pubkey-to-pubkey AEAD scheme used
// for admin RPC and config self-encryption.
func (k *KeyPair) EncryptModern(plaintext, counterpartyPubkeyHex string) (string, error) {
	shared, err := k.SharedSecret(counterpartyPubkeyHex)
	if err != nil {
		return "", err
	}
	convKey := conversationKey(shared)

	nonce, err := RandomBytes(nip44NonceSize)
	if err != nil {
		return "", err
	}
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", fmt.Errorf("nip44 new cipher: %w", err)
	}
	padded := nip44Pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := computeMac(hmacKey, nonce, ciphertext)

	out := make([]byte, 0, 1+nip44NonceSize+len(ciphertext)+nip44MacSize)
	out = append(out, nip44Version)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, mac...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptModern reverses EncryptModern.
func (k *KeyPair) DecryptModern(wire, counterpartyPubkeyHex string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return "", fmt.Errorf("nip44 decode base64: %w", err)
	}
	if len(raw) < 1+nip44NonceSize+nip44MacSize {
		return "", errors.New("nip44: ciphertext too short")
	}
	if raw[0] != nip44Version {
		return "", fmt.Errorf("nip44: unsupported version %d", raw[0])
	}

	nonce := raw[1 : 1+nip44NonceSize]
	mac := raw[len(raw)-nip44MacSize:]
	ciphertext := raw[1+nip44NonceSize : len(raw)-nip44MacSize]

	shared, err := k.SharedSecret(counterpartyPubkeyHex)
	if err != nil {
		return "", err
	}
	convKey := conversationKey(shared)
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	expectedMac := computeMac(hmacKey, nonce, ciphertext)
	if !hmac.Equal(mac, expectedMac) {
		return "", errors.New("nip44: mac verification failed")
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", fmt.Errorf("nip44 new cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	return string(nip44Unpad(padded)), nil
}

func computeMac(hmacKey, nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, hmacKey)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// nip44Pad applies the length-prefixed padding scheme so ciphertext
// lengths don't leak exact plaintext size: a 2-byte big-endian length
// prefix followed by the plaintext, zero-padded out to the next power
// of two (minimum 32 bytes).
func nip44Pad(plaintext []byte) []byte {
	n := len(plaintext)
	target := 32
	for target < n+2 {
		target *= 2
	}
	out := make([]byte, target)
	out[0] = byte(n >> 8)
	out[1] = byte(n)
	copy(out[2:], plaintext)
	return out
}

func nip44Unpad(padded []byte) []byte {
	if len(padded) < 2 {
		return nil
	}
	n := int(padded[0])<<8 | int(padded[1])
	if 2+n > len(padded) {
		return nil
	}
	return padded[2 : 2+n]
}
