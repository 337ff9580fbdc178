package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestTokenCodecIssueAndVerify(t *testing.T) {
	codec, err := NewTokenCodec("test-secret", WithCodecIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	token, issued, err := codec.Issue("user-42", TokenTypeAccess, []string{"Admin", "user", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ID == "" {
		t.Fatalf("expected jti")
	}

	claims, err := codec.Verify(token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" || claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "user") {
		t.Fatalf("roles were not normalised: %v", claims.Roles)
	}

	if _, err := codec.Verify(token, TokenTypeRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected type mismatch to fail, got %v", err)
	}
}

func TestTokenCodecRejectsTampering(t *testing.T) {
	codec, _ := NewTokenCodec("secret-a")
	other, _ := NewTokenCodec("secret-b")

	token, _, err := codec.Issue("u1", TokenTypeRefresh, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := other.Verify(token, TokenTypeRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign signature to fail, got %v", err)
	}
	parts := strings.Split(token, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"
	if _, err := codec.Verify(strings.Join(parts, "."), TokenTypeRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected tampered payload to fail, got %v", err)
	}
	for _, bad := range []string{"", "   ", "not.a.jwt"} {
		if _, err := codec.Verify(bad, TokenTypeRefresh); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected invalid token, got %v", bad, err)
		}
	}
}

func TestTokenCodecExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	codec, _ := NewTokenCodec("secret", WithCodecClock(clock))

	token, _, err := codec.Issue("u1", TokenTypeAccess, nil, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := codec.Verify(token, TokenTypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
	claims, err := codec.Inspect(token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Inspect should ignore expiry: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestTokenCodecValidation(t *testing.T) {
	if _, err := NewTokenCodec("  "); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
	codec, _ := NewTokenCodec("secret")
	if _, _, err := codec.Issue("", TokenTypeAccess, nil, time.Minute); err == nil {
		t.Fatalf("expected empty subject to be rejected")
	}
	if _, _, err := codec.Issue("u1", TokenTypeAccess, nil, 0); err == nil {
		t.Fatalf("expected zero ttl to be rejected")
	}
}

func TestExtractToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":    "abc",
		"bearer  abc ":  "abc",
		"abc":           "abc",
		"Bearer":        "",
		"":              "",
		"  raw-token  ": "raw-token",
	}
	for in, want := range cases {
		if got := ExtractToken(in); got != want {
			t.Fatalf("ExtractToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || HashToken("abc") == HashToken("abd") {
		t.Fatalf("hash must be deterministic and distinguishing")
	}
	if len(HashToken("abc")) != 64 {
		t.Fatalf("expected hex sha256")
	}
}
