package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"notesync/api/internal/auth"
	"notesync/api/internal/logging"
	"notesync/api/internal/store"
)

type userLookup interface {
	GetUserByID(context.Context, string) (store.User, error)
}

// Gate resolves the acting identity for a request. Request/response calls
// present a bearer token; live connections pass it as the token query
// parameter.
type Gate struct {
	verifier *auth.Verifier
	users    userLookup
	logger   *slog.Logger
}

func NewGate(verifier *auth.Verifier, users userLookup, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gate{verifier: verifier, users: users, logger: logger}
}

// Authorize validates the bearer token and confirms the user still exists.
// Errors are ErrMissingCredential or wrap auth.ErrExpiredToken /
// auth.ErrInvalidToken.
func (g *Gate) Authorize(r *http.Request) (auth.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		g.logger.Info("request rejected", "reason", "missing", "path", r.URL.Path)
		return auth.Identity{}, ErrMissingCredential
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Info("request rejected", "reason", credentialReason(err), "path", r.URL.Path)
		return auth.Identity{}, err
	}
	if g.users == nil {
		return identity, nil
	}
	if _, err := g.users.GetUserByID(r.Context(), identity.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Info("request rejected", "reason", "unknown_user", "user_id", identity.UserID)
			return auth.Identity{}, fmt.Errorf("%w: user no longer exists", auth.ErrInvalidToken)
		}
		return auth.Identity{}, fmt.Errorf("lookup token user: %w", err)
	}
	return identity, nil
}

// AuthorizeConnection checks only the token's signature and expiry.
func (g *Gate) AuthorizeConnection(r *http.Request) (auth.Identity, error) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		return auth.Identity{}, ErrMissingCredential
	}
	return g.verifier.Verify(token)
}

func credentialReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing"
	case errors.Is(err, auth.ErrExpiredToken):
		return "expired"
	default:
		return "malformed"
	}
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity attached by the gate.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(auth.Identity)
	return identity, ok
}
