package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"notesync/api/internal/store"
)

type EventType string

const (
	EventNoteCreated EventType = "note_created"
	EventNoteUpdated EventType = "note_updated"
	EventNoteDeleted EventType = "note_deleted"
	EventConnected   EventType = "connected"
)

// NoteTimeFormat is the createdAt layout sent to clients.
const NoteTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Event is one change notification scoped to a single identity.
type Event struct {
	Type       EventType
	IdentityID string
	Payload    any
}

type frame struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}

// Encode renders the event as the websocket frame clients receive.
func (e Event) Encode() ([]byte, error) {
	raw, err := json.Marshal(frame{Event: e.Type, Data: e.Payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", e.Type, err)
	}
	return raw, nil
}

type NotePayload struct {
	ID        string `json:"_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	UserID    string `json:"user_id"`
}

type DeletedPayload struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

type ConnectedPayload struct {
	ConnectionID  string `json:"connection_id"`
	Authenticated bool   `json:"authenticated"`
}

func FormatNote(note store.Note) NotePayload {
	return NotePayload{
		ID:        note.ID,
		Title:     note.Title,
		Content:   note.Content,
		CreatedAt: FormatTime(note.CreatedAt),
		UserID:    note.OwnerID,
	}
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(NoteTimeFormat)
}

func NoteCreated(note store.Note) Event {
	return Event{Type: EventNoteCreated, IdentityID: note.OwnerID, Payload: FormatNote(note)}
}

func NoteUpdated(note store.Note) Event {
	return Event{Type: EventNoteUpdated, IdentityID: note.OwnerID, Payload: FormatNote(note)}
}

func NoteDeleted(noteID, ownerID string) Event {
	return Event{Type: EventNoteDeleted, IdentityID: ownerID, Payload: DeletedPayload{ID: noteID, UserID: ownerID}}
}
