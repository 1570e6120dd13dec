// Package search provides owner-scoped full-text search over notes.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"_id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. OwnerID is mandatory; a query never
// crosses identities.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push notes into a search index.
type Indexer interface {
	IndexNote(note NoteRecord) error
	DeleteNote(id string) error
	IndexNotes(notes []NoteRecord) error
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	OwnerID string `json:"ownerId"`
}

const defaultLimit = 20

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}
