package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/FairForge/loadlab/internal/pool"
)

var errConnClosed = errors.New("connection closed")

// MemoryStore serves a Dataset from memory. Every query costs ServiceTime,
// simulating a database round trip, so pooled connections behave like a
// server with a fixed service rate.
type MemoryStore struct {
	titles      []Title // most voted first
	byID        map[string]*Details
	popularity  []Popularity
	serviceTime time.Duration

	opened atomic.Int64
}

// NewMemoryStore indexes ds.
func NewMemoryStore(ds *Dataset, serviceTime time.Duration) *MemoryStore {
	s := &MemoryStore{
		titles:      append([]Title(nil), ds.Titles...),
		byID:        make(map[string]*Details, len(ds.Titles)),
		popularity:  ds.Popularity(),
		serviceTime: serviceTime,
	}
	sort.SliceStable(s.titles, func(i, j int) bool { return s.titles[i].Votes > s.titles[j].Votes })

	for _, t := range s.titles {
		s.byID[t.ID] = &Details{Title: t, Directors: []string{}, Actors: []Credit{}}
	}
	for _, row := range ds.directorRows() {
		d := s.byID[row[0]]
		d.Directors = append(d.Directors, ds.People[row[1]])
	}
	for _, d := range s.byID {
		sort.Strings(d.Directors)
	}

	castings := ds.knownCastings()
	sort.SliceStable(castings, func(i, j int) bool { return castings[i].Ordering < castings[j].Ordering })
	for _, c := range castings {
		d, ok := s.byID[c.TitleID]
		if !ok || len(d.Actors) >= MaxActors {
			continue
		}
		d.Actors = append(d.Actors, Credit{Name: ds.People[c.PersonID], Character: c.Character})
	}
	return s
}

// Factory returns a pool factory handing out connections to the store.
func (s *MemoryStore) Factory() pool.Factory[Conn] {
	return func(ctx context.Context) (Conn, error) {
		s.opened.Add(1)
		return &MemoryConn{store: s}, nil
	}
}

// Opened returns the number of connections created so far.
func (s *MemoryStore) Opened() int64 {
	return s.opened.Load()
}

// MemoryConn is a connection to a MemoryStore.
type MemoryConn struct {
	store  *MemoryStore
	closed atomic.Bool
}

// Close closes the connection
func (c *MemoryConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *MemoryConn) IsHealthy() bool { return !c.closed.Load() }

func (c *MemoryConn) Reset() error {
	if c.closed.Load() {
		return errConnClosed
	}
	return nil
}

// work spends one service time, or returns early on cancellation.
func (c *MemoryConn) work(ctx context.Context) error {
	if c.closed.Load() {
		return errConnClosed
	}
	if c.store.serviceTime <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.store.serviceTime)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MemoryConn) SearchTitles(ctx context.Context, query string, limit int) ([]Title, error) {
	if err := c.work(ctx); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var out []Title
	for _, t := range c.store.titles {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(t.Title), needle) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *MemoryConn) TitleDetails(ctx context.Context, id string) (*Details, error) {
	if err := c.work(ctx); err != nil {
		return nil, err
	}
	d, ok := c.store.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *d
	out.Directors = append([]string(nil), d.Directors...)
	out.Actors = append([]Credit(nil), d.Actors...)
	return &out, nil
}

func (c *MemoryConn) PopularTitles(ctx context.Context) ([]Popularity, error) {
	if err := c.work(ctx); err != nil {
		return nil, err
	}
	return append([]Popularity(nil), c.store.popularity...), nil
}

// SampleDataset is a small built-in catalog for demos and tests.
func SampleDataset() *Dataset {
	return &Dataset{
		Titles: []Title{
			{ID: "tt0111161", Title: "The Shawshank Redemption", Year: 1994, RuntimeMinutes: 142, Genres: "Drama", Rating: 9.3, Votes: 2900000},
			{ID: "tt0068646", Title: "The Godfather", Year: 1972, RuntimeMinutes: 175, Genres: "Crime,Drama", Rating: 9.2, Votes: 2000000},
			{ID: "tt0071562", Title: "The Godfather Part II", Year: 1974, RuntimeMinutes: 202, Genres: "Crime,Drama", Rating: 9.0, Votes: 1360000},
			{ID: "tt0133093", Title: "The Matrix", Year: 1999, RuntimeMinutes: 136, Genres: "Action,Sci-Fi", Rating: 8.7, Votes: 2100000},
			{ID: "tt0234215", Title: "The Matrix Reloaded", Year: 2003, RuntimeMinutes: 138, Genres: "Action,Sci-Fi", Rating: 7.2, Votes: 640000},
			{ID: "tt0110912", Title: "Pulp Fiction", Year: 1994, RuntimeMinutes: 154, Genres: "Crime,Drama", Rating: 8.9, Votes: 2200000},
			{ID: "tt0113277", Title: "Heat", Year: 1995, RuntimeMinutes: 170, Genres: "Action,Crime,Drama", Rating: 8.3, Votes: 700000},
			{ID: "tt0468569", Title: "The Dark Knight", Year: 2008, RuntimeMinutes: 152, Genres: "Action,Crime,Drama", Rating: 9.0, Votes: 2900000},
			{ID: "tt1375666", Title: "Inception", Year: 2010, RuntimeMinutes: 148, Genres: "Action,Adventure,Sci-Fi", Rating: 8.8, Votes: 2600000},
			{ID: "tt0076759", Title: "Star Wars", Year: 1977, RuntimeMinutes: 121, Genres: "Action,Adventure,Fantasy", Rating: 8.6, Votes: 1450000},
			{ID: "tt9999999", Title: "Unreleased Project", Year: 0},
		},
		People: map[string]string{
			"nm0001104": "Frank Darabont",
			"nm0000209": "Tim Robbins",
			"nm0000151": "Morgan Freeman",
			"nm0000338": "Francis Ford Coppola",
			"nm0000008": "Marlon Brando",
			"nm0000199": "Al Pacino",
			"nm0905154": "Lana Wachowski",
			"nm0905152": "Lilly Wachowski",
			"nm0000206": "Keanu Reeves",
			"nm0000401": "Laurence Fishburne",
			"nm0000233": "Quentin Tarantino",
			"nm0000237": "John Travolta",
			"nm0000235": "Uma Thurman",
			"nm0000520": "Michael Mann",
			"nm0000134": "Robert De Niro",
			"nm0634240": "Christopher Nolan",
			"nm0000288": "Christian Bale",
			"nm0005132": "Heath Ledger",
			"nm0000138": "Leonardo DiCaprio",
			"nm0000184": "George Lucas",
			"nm0000434": "Mark Hamill",
		},
		Directors: map[string][]string{
			"tt0111161": {"nm0001104"},
			"tt0068646": {"nm0000338"},
			"tt0071562": {"nm0000338"},
			"tt0133093": {"nm0905154", "nm0905152"},
			"tt0234215": {"nm0905154", "nm0905152"},
			"tt0110912": {"nm0000233"},
			"tt0113277": {"nm0000520"},
			"tt0468569": {"nm0634240"},
			"tt1375666": {"nm0634240"},
			"tt0076759": {"nm0000184"},
		},
		Actors: []Casting{
			{TitleID: "tt0111161", PersonID: "nm0000209", Ordering: 1, Character: "Andy Dufresne"},
			{TitleID: "tt0111161", PersonID: "nm0000151", Ordering: 2, Character: "Ellis Boyd 'Red' Redding"},
			{TitleID: "tt0068646", PersonID: "nm0000008", Ordering: 1, Character: "Don Vito Corleone"},
			{TitleID: "tt0068646", PersonID: "nm0000199", Ordering: 2, Character: "Michael Corleone"},
			{TitleID: "tt0071562", PersonID: "nm0000199", Ordering: 1, Character: "Michael"},
			{TitleID: "tt0071562", PersonID: "nm0000134", Ordering: 3, Character: "Vito Corleone"},
			{TitleID: "tt0133093", PersonID: "nm0000206", Ordering: 1, Character: "Neo"},
			{TitleID: "tt0133093", PersonID: "nm0000401", Ordering: 2, Character: "Morpheus"},
			{TitleID: "tt0234215", PersonID: "nm0000206", Ordering: 1, Character: "Neo"},
			{TitleID: "tt0110912", PersonID: "nm0000237", Ordering: 1, Character: "Vincent Vega"},
			{TitleID: "tt0110912", PersonID: "nm0000235", Ordering: 3, Character: "Mia Wallace"},
			{TitleID: "tt0113277", PersonID: "nm0000199", Ordering: 1, Character: "Lt. Vincent Hanna"},
			{TitleID: "tt0113277", PersonID: "nm0000134", Ordering: 2, Character: "Neil McCauley"},
			{TitleID: "tt0468569", PersonID: "nm0000288", Ordering: 1, Character: "Bruce Wayne"},
			{TitleID: "tt0468569", PersonID: "nm0005132", Ordering: 2, Character: "Joker"},
			{TitleID: "tt1375666", PersonID: "nm0000138", Ordering: 1, Character: "Cobb"},
			{TitleID: "tt0076759", PersonID: "nm0000434", Ordering: 1, Character: "Luke Skywalker"},
		},
	}
}
