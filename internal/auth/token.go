package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is what a verified token resolves to.
type Identity struct {
	UserID    string
	Username  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

var (
	// ErrInvalidToken covers bad signatures, bad structure and missing claims.
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	// ErrNoSecret is returned by Issue when the verifier has no signing key.
	ErrNoSecret = errors.New("token signing secret is not configured")
)

// Verifier issues and checks HS256 identity tokens. It keeps no state
// besides the signing secret, so verification never touches a store.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{secret: []byte(strings.TrimSpace(secret)), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

func (v *Verifier) TTL() time.Duration {
	return v.ttl
}

func (v *Verifier) Issue(userID, username string) (string, Identity, error) {
	if len(v.secret) == 0 {
		return "", Identity{}, ErrNoSecret
	}
	if strings.TrimSpace(userID) == "" {
		return "", Identity{}, errors.New("issue token: empty user id")
	}
	now := v.now()
	expiresAt := now.Add(v.ttl)
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, identityFromClaims(claims), nil
}

func (v *Verifier) Verify(token string) (Identity, error) {
	if strings.TrimSpace(token) == "" || len(v.secret) == 0 {
		return Identity{}, ErrInvalidToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	return identityFromClaims(claims), nil
}

func identityFromClaims(claims Claims) Identity {
	identity := Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		TokenID:  claims.ID,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity
}
