package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"notesync/api/internal/config"
	"notesync/api/internal/observability"
	"notesync/api/internal/realtime"
)

type liveHarness struct {
	*testHarness
	handler  http.Handler
	wsURL    string
	registry *realtime.Registry
}

// newLiveHarness wires the real registry and dispatcher behind the HTTP
// server so note mutations reach websocket clients.
func newLiveHarness(t *testing.T) *liveHarness {
	t.Helper()
	fs := newFakeStore()
	fsearch := &fakeSearch{}
	metrics := observability.New()
	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry, metrics, nil)
	cfg := config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour}
	h := &testHarness{svc: New(cfg, fs, dispatcher, fsearch, nil, nil), store: fs, search: fsearch}

	live := realtime.NewHandler(registry, h.svc.Gate(), realtime.ClientOptions{SendBuffer: 8}, metrics, nil)
	handler := NewHTTPServer(h.svc, "*").WithLive(live).WithMetrics(metrics).Handler()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &liveHarness{
		testHarness: h,
		handler:     handler,
		wsURL:       "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws",
		registry:    registry,
	}
}

func (h *liveHarness) connect(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	if event, data := readLiveFrame(t, ws); event != "connected" || data["authenticated"] != true {
		t.Fatalf("expected authenticated connected frame, got %s %v", event, data)
	}
	return ws
}

func (h *liveHarness) waitForRoom(t *testing.T, identityID string, size int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.registry.RoomSize(identityID) != size {
		if time.Now().After(deadline) {
			t.Fatalf("room %s never reached %d members", identityID, size)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readLiveFrame(t *testing.T, ws *websocket.Conn) (string, map[string]any) {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return frame.Event, frame.Data
}

func expectNoFrame(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	if _, raw, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
}

func TestNoteEventsReachOnlyOwnerConnections(t *testing.T) {
	h := newLiveHarness(t)
	h.store.addUser("alice", "alice")
	h.store.addUser("bob", "bob")
	alice := issueToken(t, h.svc, "alice")
	bob := issueToken(t, h.svc, "bob")

	aliceTab1 := h.connect(t, alice)
	aliceTab2 := h.connect(t, alice)
	bobTab := h.connect(t, bob)
	h.waitForRoom(t, "alice", 2)
	h.waitForRoom(t, "bob", 1)

	rr, created := doJSON(t, h.handler, http.MethodPost, "/api/notes", alice, `{"title":"x","content":"y"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	noteID := created["_id"].(string)

	for _, ws := range []*websocket.Conn{aliceTab1, aliceTab2} {
		event, data := readLiveFrame(t, ws)
		if event != "note_created" {
			t.Fatalf("expected note_created, got %s", event)
		}
		if data["_id"] != noteID || data["title"] != "x" || data["content"] != "y" || data["user_id"] != "alice" {
			t.Fatalf("unexpected note_created payload: %v", data)
		}
	}

	// Rejected mutations must not emit: the next frame alice sees is the delete.
	rr, _ = doJSON(t, h.handler, http.MethodPut, "/api/notes/"+noteID, alice, `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", rr.Code)
	}
	rr, _ = doJSON(t, h.handler, http.MethodPut, "/api/notes/"+noteID, bob, `{"title":"hijack"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign update, got %d", rr.Code)
	}

	rr, _ = doJSON(t, h.handler, http.MethodDelete, "/api/notes/"+noteID, alice, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 delete, got %d", rr.Code)
	}
	for _, ws := range []*websocket.Conn{aliceTab1, aliceTab2} {
		event, data := readLiveFrame(t, ws)
		if event != "note_deleted" || data["id"] != noteID || data["user_id"] != "alice" {
			t.Fatalf("expected note_deleted for %s, got %s %v", noteID, event, data)
		}
	}

	rr, _ = doJSON(t, h.handler, http.MethodDelete, "/api/notes/"+noteID, alice, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeated delete, got %d", rr.Code)
	}

	// A timed-out read leaves a websocket unusable, so silence is checked last.
	expectNoFrame(t, aliceTab1)
	expectNoFrame(t, aliceTab2)
	expectNoFrame(t, bobTab)
}

func TestAnonymousConnectionIsAcceptedButSilent(t *testing.T) {
	h := newLiveHarness(t)
	h.store.addUser("alice", "alice")
	alice := issueToken(t, h.svc, "alice")

	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer ws.Close()
	event, data := readLiveFrame(t, ws)
	if event != "connected" || data["authenticated"] != false {
		t.Fatalf("expected unauthenticated connected frame, got %s %v", event, data)
	}

	if rr, _ := doJSON(t, h.handler, http.MethodPost, "/api/notes", alice, `{"title":"x","content":"y"}`); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	expectNoFrame(t, ws)
	if h.registry.Len() != 0 {
		t.Fatalf("anonymous connection must not join a room, registry has %d", h.registry.Len())
	}
}
