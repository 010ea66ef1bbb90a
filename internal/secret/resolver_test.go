package secret

import (
	"context"
	"strings"
	"testing"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574" // "change this password to a secret"

func TestPlaintext_Resolve(t *testing.T) {
	t.Parallel()

	got, err := Plaintext{}.Resolve(context.Background(), "token-123")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != "token-123" {
		t.Fatalf("expected token passed through, got %q", got)
	}
}

func TestNewAESGCM_InvalidKeys(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		key  string
	}{
		{"not hex", "zzzz"},
		{"too short", "abcd"},
		{"empty", ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewAESGCM(tc.key); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestAESGCM_EncryptResolve(t *testing.T) {
	t.Parallel()

	r, err := NewAESGCM(testKey)
	if err != nil {
		t.Fatalf("NewAESGCM() error: %v", err)
	}

	stored, err := r.Encrypt("EAAB-access-token")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if parts := strings.Split(stored, ":"); len(parts) != 3 {
		t.Fatalf("expected iv:ciphertext:tag form, got %q", stored)
	}

	got, err := r.Resolve(context.Background(), stored)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != "EAAB-access-token" {
		t.Fatalf("expected decrypted token, got %q", got)
	}
}

func TestAESGCM_Resolve_Malformed(t *testing.T) {
	t.Parallel()

	r, err := NewAESGCM(testKey)
	if err != nil {
		t.Fatalf("NewAESGCM() error: %v", err)
	}

	cases := []struct {
		name   string
		stored string
	}{
		{"no separators", "abcdef"},
		{"two parts", "ab:cd"},
		{"bad iv hex", "zz:abcd:abcd"},
		{"short iv", "ab:cd:ef"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := r.Resolve(context.Background(), tc.stored); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestAESGCM_Resolve_TamperedCiphertext(t *testing.T) {
	t.Parallel()

	r, err := NewAESGCM(testKey)
	if err != nil {
		t.Fatalf("NewAESGCM() error: %v", err)
	}

	stored, err := r.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	// Flip one hex digit of the ciphertext segment.
	parts := strings.Split(stored, ":")
	ct := []byte(parts[1])
	if ct[0] == 'a' {
		ct[0] = 'b'
	} else {
		ct[0] = 'a'
	}
	parts[1] = string(ct)

	if _, err := r.Resolve(context.Background(), strings.Join(parts, ":")); err == nil {
		t.Fatalf("expected auth failure on tampered ciphertext")
	}
}

func TestAESGCM_Resolve_WrongKey(t *testing.T) {
	t.Parallel()

	r1, err := NewAESGCM(testKey)
	if err != nil {
		t.Fatalf("NewAESGCM() error: %v", err)
	}
	r2, err := NewAESGCM(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("NewAESGCM() error: %v", err)
	}

	stored, err := r1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := r2.Resolve(context.Background(), stored); err == nil {
		t.Fatalf("expected decrypt failure under different key")
	}
}
