package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("NOTESYNC_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("NOTESYNC_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn, DefaultPoolOptions())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestPostgresStoreScopesNotesByOwner(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	alice, err := s.CreateUser(ctx, "alice", "hash-a")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := s.CreateUser(ctx, "bob", "hash-b")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}

	noteID := uuid.NewString()
	if _, err := s.InsertNote(ctx, Note{ID: noteID, OwnerID: alice.ID, Title: "x", Content: "y"}); err != nil {
		t.Fatalf("insert note: %v", err)
	}

	if _, err := s.FindNote(ctx, noteID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	title := "stolen"
	if n, err := s.UpdateNote(ctx, noteID, bob.ID, NoteFields{Title: &title}); err != nil || n != 0 {
		t.Fatalf("expected 0 rows for foreign update, got %d err=%v", n, err)
	}
	if n, err := s.DeleteNote(ctx, noteID, bob.ID); err != nil || n != 0 {
		t.Fatalf("expected 0 rows for foreign delete, got %d err=%v", n, err)
	}

	title = "renamed"
	if n, err := s.UpdateNote(ctx, noteID, alice.ID, NoteFields{Title: &title}); err != nil || n != 1 {
		t.Fatalf("expected 1 row for owner update, got %d err=%v", n, err)
	}
	note, err := s.FindNote(ctx, noteID, alice.ID)
	if err != nil {
		t.Fatalf("find note: %v", err)
	}
	if note.Title != "renamed" || note.Content != "y" {
		t.Fatalf("unexpected note after partial update: %+v", note)
	}

	notes, err := s.FindNotesByOwner(ctx, bob.ID)
	if err != nil || len(notes) != 0 {
		t.Fatalf("expected bob to own no notes, got %d err=%v", len(notes), err)
	}

	if n, err := s.DeleteNote(ctx, noteID, alice.ID); err != nil || n != 1 {
		t.Fatalf("expected 1 row for owner delete, got %d err=%v", n, err)
	}
	if n, err := s.DeleteNote(ctx, noteID, alice.ID); err != nil || n != 0 {
		t.Fatalf("expected 0 rows for repeated delete, got %d err=%v", n, err)
	}
}

func TestPostgresStoreRejectsDuplicateUsername(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	if _, err := s.CreateUser(ctx, "alice", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice", "hash"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
