package vault

import (
	"encoding/base64"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	inputs := []string{
		"",
		"api-key-12345",
		`{"username":"clinic@example.com","password":"s3cret"}`,
		strings.Repeat("x", 4096),
	}

	for _, input := range inputs {
		ciphertext, err := v.Encrypt(input)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if ciphertext == input && input != "" {
			t.Fatal("ciphertext equals plaintext")
		}
		plaintext, err := v.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if plaintext != input {
			t.Fatalf("round trip mismatch: got %q want %q", plaintext, input)
		}
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	a, _ := v.Encrypt("same input")
	b, _ := v.Encrypt("same input")
	if a == b {
		t.Fatal("expected distinct ciphertexts for repeated encryptions")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	ciphertext, err := v.Encrypt("patient portal password")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	// Flip a single byte at every position; each must fail closed.
	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0x01
		if _, err := v.Decrypt(base64.StdEncoding.EncodeToString(tampered)); err == nil {
			t.Fatalf("tampered ciphertext at byte %d decrypted successfully", i)
		}
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v, _ := New(testKey)
	for _, bad := range []string{"", "not-base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := v.Decrypt(bad); err == nil {
			t.Fatalf("expected error for input %q", bad)
		}
	}
}

func TestKeyLengthValidation(t *testing.T) {
	cases := []string{
		"",
		"abcd",
		"000102030405060708090a0b0c0d0e0f",                                   // 16 bytes hex
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f00", // 33 bytes hex
		base64.StdEncoding.EncodeToString([]byte("too short")),
	}
	for _, bad := range cases {
		if _, err := New(bad); err == nil {
			t.Fatalf("expected key error for %q", bad)
		}
	}

	if _, err := New(base64.StdEncoding.EncodeToString(make([]byte, 32))); err != nil {
		t.Fatalf("expected base64 32-byte key to be accepted: %v", err)
	}
}
