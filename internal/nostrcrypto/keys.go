// Package nostrcrypto implements the signing, hashing, and symmetric
// encryption primitives the overlay protocol builds on: event-id
// computation, Schnorr signatures, ECDH-derived shared secrets, and the
// two pubkey-to-pubkey encryption schemes used for admin RPC and config
// self-encryption.
package nostrcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KeyPair is a secp256k1 signing key and its x-only public identifier,
// both held as lowercase hex.
type KeyPair struct {
	PrivateKeyHex string
	PublicKeyHex  string

	priv *btcec.PrivateKey
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newKeyPair(priv), nil
}

// ParseKeyPair loads a key pair from a 64-hex private key string.
func ParseKeyPair(privHex string) (*KeyPair, error) {
	b, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return newKeyPair(priv), nil
}

func newKeyPair(priv *btcec.PrivateKey) *KeyPair {
	pub := priv.PubKey()
	xOnly := pub.SerializeCompressed()[1:]
	return &KeyPair{
		PrivateKeyHex: hex.EncodeToString(priv.Serialize()),
		PublicKeyHex:  hex.EncodeToString(xOnly),
		priv:          priv,
	}
}

// Sign computes the Schnorr signature over a 32-byte message digest.
func (k *KeyPair) Sign(digest [32]byte) (string, error) {
	sig, err := schnorr.Sign(k.priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("schnorr sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a hex-encoded Schnorr signature over a digest against a
// hex-encoded x-only public key.
func Verify(pubkeyHex string, digest [32]byte, sigHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false, fmt.Errorf("decode pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("parse pubkey: %w", err)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}
	return sig.Verify(digest[:], pub), nil
}

// SharedSecret derives the ECDH shared x-coordinate between our private
// key and a counterparty's x-only public key, as both NIP-04 and NIP-44
// key their symmetric ciphers off of.
func (k *KeyPair) SharedSecret(counterpartyPubkeyHex string) ([]byte, error) {
	pubBytes, err := hex.DecodeString(counterpartyPubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode counterparty pubkey: %w", err)
	}
	// x-only keys are even-y by convention; prefix with 0x02 to get a
	// full compressed point.
	compressed := append([]byte{0x02}, pubBytes...)
	pub, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("parse counterparty pubkey: %w", err)
	}

	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)
	privKey := k.priv.Key
	btcec.ScalarMultNonConst(&privKey, &point, &result)
	result.ToAffine()
	x := result.X.Bytes()
	return x[:], nil
}

// EventID computes the canonical nostr event id: sha256 of the JSON
// array [0, pubkey, created_at, kind, tags, content].
func EventID(pubkeyHex string, createdAt int64, kind int, tags [][]string, content string) ([32]byte, error) {
	if tags == nil {
		tags = [][]string{}
	}
	serialized := []interface{}{0, pubkeyHex, createdAt, kind, tags, content}
	b, err := json.Marshal(serialized)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal event for id: %w", err)
	}
	return sha256.Sum256(b), nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}
