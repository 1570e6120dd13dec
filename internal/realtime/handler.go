package realtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notesync/api/internal/auth"
	"notesync/api/internal/logging"
	"notesync/api/internal/observability"
)

// Authenticator resolves the identity presented at connection time.
type Authenticator interface {
	AuthorizeConnection(r *http.Request) (auth.Identity, error)
}

// Handler upgrades requests to websocket connections. Connections without
// a valid token are accepted but never joined to a room.
type Handler struct {
	registry *Registry
	authn    Authenticator
	metrics  *observability.Metrics
	logger   *slog.Logger
	opts     ClientOptions
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, authn Authenticator, opts ClientOptions, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		registry: registry,
		authn:    authn,
		metrics:  metrics,
		logger:   logger,
		opts:     opts.normalized(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// WithOriginCheck restricts which browser origins may connect.
func (h *Handler) WithOriginCheck(check func(r *http.Request) bool) *Handler {
	h.upgrader.CheckOrigin = check
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authn.AuthorizeConnection(r)
	authenticated := err == nil
	if err != nil {
		h.logger.Info("live connection without identity", "reason", connectReason(err))
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(uuid.NewString(), ws, h.opts, h.logger)
	if authenticated {
		h.registry.Join(client, identity.UserID)
	}
	h.metrics.ConnectionOpened(authenticated)
	h.logger.Info("live connection opened",
		"connection_id", client.ID(),
		"identity_id", identity.UserID,
		"authenticated", authenticated,
	)

	hello, err := Event{
		Type:    EventConnected,
		Payload: ConnectedPayload{ConnectionID: client.ID(), Authenticated: authenticated},
	}.Encode()
	if err == nil {
		_ = client.Send(hello)
	}

	go client.writeLoop()
	client.readLoop()

	h.registry.Leave(client.ID())
	client.Close()
	h.metrics.ConnectionClosed(authenticated)
	h.logger.Info("live connection closed", "connection_id", client.ID(), "identity_id", identity.UserID)
}

func connectReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return "malformed"
	default:
		return "missing"
	}
}
