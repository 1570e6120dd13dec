package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestVerifier() (*Verifier, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewVerifier("secret", 24*time.Hour).WithClock(clock.Now), clock
}

func TestIssueAndVerifyToken(t *testing.T) {
	verifier, clock := newTestVerifier()
	token, issued, err := verifier.Issue("user-1", "avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !issued.ExpiresAt.Equal(clock.now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", issued.ExpiresAt)
	}

	clock.Advance(23 * time.Hour)
	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.UserID != "user-1" || identity.Username != "avery" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.TokenID == "" || identity.TokenID != issued.TokenID {
		t.Fatalf("expected token id %q, got %q", issued.TokenID, identity.TokenID)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	verifier, clock := newTestVerifier()
	token, _, err := verifier.Issue("user-1", "avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	clock.Advance(24*time.Hour + time.Second)
	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	verifier, clock := newTestVerifier()
	token, _, err := verifier.Issue("user-1", "avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	other := NewVerifier("other-secret", time.Hour).WithClock(clock.Now)
	_, err = other.Verify(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	verifier, _ := newTestVerifier()
	token, _, err := verifier.Issue("user-1", "avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	other, _, err := verifier.Issue("user-2", "blake")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	parts := strings.Split(token, ".")
	parts[1] = strings.Split(other, ".")[1]
	_, err = verifier.Verify(strings.Join(parts, "."))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	verifier, _ := newTestVerifier()
	for _, token := range []string{"", "   ", "definitely-not-a-token", "a.b.c"} {
		if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestExpiredForgedTokenIsMalformed(t *testing.T) {
	verifier, clock := newTestVerifier()
	forger := NewVerifier("attacker", time.Minute).WithClock(clock.Now)
	token, _, err := forger.Issue("user-1", "avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure to win over expiry, got %v", err)
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	verifier, _ := newTestVerifier()
	if _, _, err := verifier.Issue(" ", "avery"); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestEmptySecretRefusesTokens(t *testing.T) {
	verifier := NewVerifier("  ", time.Hour)
	if _, _, err := verifier.Issue("user-1", "avery"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	// Without a secret nothing verifies, whatever key signed the token.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("guessable"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
