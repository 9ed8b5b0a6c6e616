package auth

import (
	"errors"
	"testing"
	"time"
)

func TestMintAndVerifyToken(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := MintToken("user-123", SubjectWallet, secret, time.Hour)
	if err != nil {
		t.Fatalf("MintToken error: %v", err)
	}

	userID, kind, err := VerifyToken(tok, secret)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("userID mismatch: got %q", userID)
	}
	if kind != SubjectWallet {
		t.Fatalf("kind mismatch: got %q", kind)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := MintToken("u1", SubjectEmail, secret, -time.Second)
	if err != nil {
		t.Fatalf("MintToken error: %v", err)
	}

	if _, _, err := VerifyToken(tok, secret); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := MintToken("u2", SubjectEmail, []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("MintToken error: %v", err)
	}

	if _, _, err := VerifyToken(tok, []byte("wrong-secret")); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyToken_Garbage(t *testing.T) {
	t.Parallel()

	if _, _, err := VerifyToken("not.a.token", []byte("secret")); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
