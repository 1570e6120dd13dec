package search

import (
	"context"
	"log/slog"
	"sync"

	"notesync/api/internal/logging"
)

const (
	backendMeili = "meilisearch"
	backendPgFTS = "postgres"
)

type indexingSearcher interface {
	Searcher
	Indexer
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]NoteRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  indexingSearcher
	fallback Searcher
	logger   *slog.Logger

	// Index writes still waiting, per note id. A note id is present while
	// a drain goroutine owns it.
	mu      sync.Mutex
	pending map[string][]indexOp
}

type indexOp struct {
	note   NoteRecord
	remove bool
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	s := &Service{logger: logger}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: backendMeili}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: backendPgFTS}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: backendPgFTS}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: backendPgFTS}
}

// IndexNote indexes a note in the background. Writes for the same note are
// applied in call order.
func (s *Service) IndexNote(note NoteRecord) {
	if !s.primaryReady() {
		return
	}
	s.enqueue(note.ID, indexOp{note: note})
}

// DeleteNote removes a note from the search index in the background, after
// any earlier write for the same note.
func (s *Service) DeleteNote(id string) {
	if !s.primaryReady() {
		return
	}
	s.enqueue(id, indexOp{note: NoteRecord{ID: id}, remove: true})
}

func (s *Service) enqueue(id string, op indexOp) {
	s.mu.Lock()
	if s.pending == nil {
		s.pending = make(map[string][]indexOp)
	}
	queue, draining := s.pending[id]
	s.pending[id] = append(queue, op)
	s.mu.Unlock()
	if !draining {
		go s.drain(id)
	}
}

func (s *Service) drain(id string) {
	for {
		s.mu.Lock()
		queue := s.pending[id]
		if len(queue) == 0 {
			delete(s.pending, id)
			s.mu.Unlock()
			return
		}
		op := queue[0]
		s.pending[id] = queue[1:]
		s.mu.Unlock()

		if op.remove {
			if err := s.primary.DeleteNote(id); err != nil {
				s.logger.Warn("delete note from index", "note_id", id, "error", err)
			}
			continue
		}
		if err := s.primary.IndexNote(op.note); err != nil {
			s.logger.Warn("index note", "note_id", id, "error", err)
		}
	}
}

// ReindexAllFromPG pushes every note from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	loader, ok := s.fallback.(recordLoader)
	if !s.primaryReady() || !ok {
		return
	}
	notes, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexNotes(notes); err != nil {
		s.logger.Warn("reindex notes", "count", len(notes), "error", err)
		return
	}
	s.logger.Info("reindexed notes", "count", len(notes))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
