// Package vault encrypts provider secrets for storage at rest.
//
// Blobs are base64 (standard alphabet) of nonce(12) || tag(16) || ciphertext,
// sealed with AES-256-GCM. The layout is a storage contract: previously stored
// tokens and passwords only decrypt while it stays unchanged.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrInvalidKey          = errors.New("vault: encryption key must be base64 encoding of exactly 32 bytes")
	ErrMalformedCiphertext = errors.New("vault: malformed ciphertext")
	ErrDecryptionFailed    = errors.New("vault: ciphertext failed authentication")
)

type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Vault from a base64 encoded 32 byte key.
func New(encodedKey string) (*Vault, error) {
	key, err := decodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// GenerateKey returns a fresh random key in the format New expects.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under a fresh random nonce.
// An empty plaintext yields an empty blob, so callers treat "" as absence.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	// Seal returns ciphertext || tag; the stored layout puts the tag first.
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ctLen := len(sealed) - TagSize

	blob := make([]byte, 0, NonceSize+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed[ctLen:]...)
	blob = append(blob, sealed[:ctLen]...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. An empty blob yields "".
func (v *Vault) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < NonceSize+TagSize {
		return "", fmt.Errorf("%w: %d bytes is shorter than nonce and tag", ErrMalformedCiphertext, len(raw))
	}

	nonce := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	ciphertext := raw[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		key, err := enc.DecodeString(encoded)
		if err != nil {
			continue
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: decoded to %d bytes", ErrInvalidKey, len(key))
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: not valid base64", ErrInvalidKey)
}
