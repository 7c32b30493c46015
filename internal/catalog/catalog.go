// Package catalog is the movie search service measured by the load harness:
// title search and title details served cache-first from a pool of database
// connections.
package catalog

import (
	"context"
	"errors"

	"github.com/FairForge/loadlab/internal/pool"
)

var ErrNotFound = errors.New("title not found")

// Title is one search result.
type Title struct {
	ID             string  `json:"tconst"`
	Title          string  `json:"title"`
	Year           int     `json:"year,omitempty"`
	RuntimeMinutes int     `json:"runtime,omitempty"`
	Genres         string  `json:"genres,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
	Votes          int64   `json:"votes"`
}

// Credit is a cast member and the character played.
type Credit struct {
	Name      string `json:"name"`
	Character string `json:"character,omitempty"`
}

// Details is a title with its crew.
type Details struct {
	Title
	Directors []string `json:"directors"`
	Actors    []Credit `json:"actors"`
}

// Popularity pairs a title with its vote count, used to weight synthetic
// queries.
type Popularity struct {
	Title string `json:"title"`
	Votes int64  `json:"votes"`
}

// MaxActors is the number of billed actors returned with details.
const MaxActors = 5

// Conn is an exclusive connection to a title store. Implementations are not
// safe for concurrent use; the pool hands each one to a single caller.
type Conn interface {
	pool.Poolable

	// SearchTitles returns titles whose name contains query
	// (case-insensitive), most voted first.
	SearchTitles(ctx context.Context, query string, limit int) ([]Title, error)

	// TitleDetails returns ErrNotFound for an unknown id.
	TitleDetails(ctx context.Context, id string) (*Details, error)

	// PopularTitles lists every title with at least one vote.
	PopularTitles(ctx context.Context) ([]Popularity, error)
}
