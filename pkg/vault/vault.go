package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	keySize   = 32
	nonceSize = 12
)

var (
	ErrInvalidKey        = errors.New("vault key must decode to exactly 32 bytes")
	ErrInvalidCiphertext = errors.New("ciphertext is malformed or has been tampered with")
)

// Vault encrypts source-platform credentials at rest with AES-256-GCM.
// Everything downstream only ever sees decrypted credentials in memory.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a hex- or base64-encoded 256-bit key. Any other
// length is a fatal configuration error for the caller.
func New(encodedKey string) (*Vault, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initialising cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initialising GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrInvalidKey
	}
	if key, err := hex.DecodeString(encoded); err == nil {
		if len(key) != keySize {
			return nil, ErrInvalidKey
		}
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		if len(key) != keySize {
			return nil, ErrInvalidKey
		}
		return key, nil
	}
	if key, err := base64.URLEncoding.DecodeString(encoded); err == nil {
		if len(key) != keySize {
			return nil, ErrInvalidKey
		}
		return key, nil
	}
	return nil, ErrInvalidKey
}

// Encrypt returns base64(nonce || ciphertext || tag) as one string. A fresh
// random 96-bit nonce is drawn per call.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt verifies the authentication tag before returning plaintext; a forged
// or corrupted ciphertext fails closed.
func (v *Vault) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < nonceSize+v.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
