package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	token, err := issuer.Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "user-1" || id.Email != "a@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyUntilExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	issuer := NewIssuer("secret", time.Hour).WithClock(func() time.Time { return now })

	token, err := issuer.Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = start.Add(59 * time.Minute)
	if _, err := issuer.Verify(token); err != nil {
		t.Fatalf("expected token valid before expiry, got %v", err)
	}

	now = start.Add(61 * time.Minute)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	foreign, err := NewIssuer("other-secret", time.Hour).Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "wrong secret", token: foreign},
		{name: "missing exp", token: noExp},
		{name: "missing subject", token: noSub},
		{name: "unexpected algorithm", token: hs512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := issuer.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if id.UserID != "" || id.Email != "" {
				t.Fatalf("expected empty identity, got %+v", id)
			}
		})
	}
}

func TestNewIssuerDefaultsTTL(t *testing.T) {
	if got := NewIssuer("secret", 0).TTL(); got != DefaultTTL {
		t.Fatalf("expected default ttl %v, got %v", DefaultTTL, got)
	}
}
