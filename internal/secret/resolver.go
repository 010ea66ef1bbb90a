package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Resolver turns a stored credential into its usable form. The worker
// core only sees this interface and has no knowledge of the encryption
// scheme.
type Resolver interface {
	Resolve(ctx context.Context, stored string) (string, error)
}

// Plaintext passes stored credentials through unchanged. Used when no
// encryption key is configured.
type Plaintext struct{}

func (Plaintext) Resolve(_ context.Context, stored string) (string, error) {
	return stored, nil
}

// AESGCM decrypts credentials stored as hex(iv):hex(ciphertext):hex(tag)
// under a single AES-256 key.
type AESGCM struct {
	aead cipher.AEAD
}

func NewAESGCM(hexKey string) (*AESGCM, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

func (r *AESGCM) Resolve(_ context.Context, stored string) (string, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return "", errors.New("malformed encrypted credential")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != r.aead.NonceSize() {
		return "", fmt.Errorf("iv must be %d bytes, got %d", r.aead.NonceSize(), len(iv))
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}

	plain, err := r.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return string(plain), nil
}

// Encrypt produces the stored form Resolve accepts. Used by seeding
// tooling and tests.
func (r *AESGCM) Encrypt(plain string) (string, error) {
	iv := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := r.aead.Seal(nil, iv, []byte(plain), nil)
	tagSize := r.aead.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext) + ":" + hex.EncodeToString(tag), nil
}
