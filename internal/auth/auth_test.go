package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("XRENT_AUTH_SECRET", value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidateToken(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("alice", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("unexpected subject: %q", claims.Subject)
	}
}

func TestGenerateTokenRequiresIdentity(t *testing.T) {
	withSecret(t, "unit-test-secret")

	if _, err := GenerateToken("  ", time.Minute); err == nil {
		t.Fatal("expected error for blank identity")
	}
	if _, err := GenerateToken("alice", 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestParseAndValidateRejectsGarbage(t *testing.T) {
	withSecret(t, "unit-test-secret")

	for _, token := range []string{"", "not-a-jwt", strings.Repeat("a", 64)} {
		if _, err := ParseAndValidate(token); err != ErrInvalidToken {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseAndValidateRejectsForeignSecret(t *testing.T) {
	withSecret(t, "secret-one")
	token, err := GenerateToken("alice", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	withSecret(t, "secret-two")
	if _, err := ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	withSecret(t, "")

	if _, err := GenerateToken("alice", time.Minute); err == nil {
		t.Fatal("expected error when secret is unset")
	}
}

func TestRequireIdentity(t *testing.T) {
	ctx := context.Background()
	if err := RequireIdentity(ctx, "alice"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ctx = ContextWithIdentity(ctx, "alice")
	if err := RequireIdentity(ctx, "alice"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := RequireIdentity(ctx, "mallory"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for wrong identity, got %v", err)
	}
}
