package nostrcrypto

import "testing"

func TestModernEncryptDecryptRoundTrip(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate alice: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate bob: %v", err)
	}

	plaintext := `{"id":"r1","method":"get_config","params":{}}`
	wire, err := alice.EncryptModern(plaintext, bob.PublicKeyHex)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := bob.DecryptModern(wire, alice.PublicKeyHex)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plaintext {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestModernSelfEncryption(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	plaintext := `{"version":1,"relays":[]}`
	wire, err := kp.EncryptModern(plaintext, kp.PublicKeyHex)
	if err != nil {
		t.Fatalf("self encrypt: %v", err)
	}
	got, err := kp.DecryptModern(wire, kp.PublicKeyHex)
	if err != nil {
		t.Fatalf("self decrypt: %v", err)
	}
	if got != plaintext {
		t.Fatalf("self round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestModernDecryptRejectsTamperedCiphertext(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	wire, err := alice.EncryptModern("hello", bob.PublicKeyHex)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := []byte(wire)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := bob.DecryptModern(string(tampered), alice.PublicKeyHex); err == nil {
		t.Fatal("expected mac failure on tampered ciphertext")
	}
}

func TestModernDecryptRejectsWrongVersion(t *testing.T) {
	if _, err := (&KeyPair{}).DecryptModern("AA==", "00"); err == nil {
		t.Fatal("expected error for short/invalid payload")
	}
}
