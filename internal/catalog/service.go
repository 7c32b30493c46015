package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/cache"
	"github.com/FairForge/loadlab/internal/loadtest"
	"github.com/FairForge/loadlab/internal/pool"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var ErrEmptyQuery = errors.New("empty search query")

// Service answers searches from the cache when it can and from a pooled
// connection otherwise, caching what the connection returns.
type Service struct {
	pool   *pool.Pool[Conn]
	cache  *cache.Cache
	logger *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a service. A nil cache disables caching.
func NewService(p *pool.Pool[Conn], c *cache.Cache, opts ...ServiceOption) *Service {
	s := &Service{
		pool:   p,
		cache:  c,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pool returns the connection pool.
func (s *Service) Pool() *pool.Pool[Conn] { return s.pool }

// Cache returns the result cache, nil if disabled.
func (s *Service) Cache() *cache.Cache { return s.cache }

// NormalizeLimit applies the default and the cap.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func searchKey(query string, limit int) string {
	return strings.ToLower(query) + "|" + strconv.Itoa(limit)
}

// Search returns up to limit titles matching query, most voted first.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Title, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit = NormalizeLimit(limit)
	key := searchKey(query, limit)

	if s.cache != nil {
		if titles, ok := cache.GetAs[[]Title](s.cache, cache.RegionSearch, key); ok {
			return slices.Clone(titles), nil
		}
	}

	var titles []Title
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		titles, err = c.SearchTitles(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if titles == nil {
		titles = []Title{}
	}

	s.store(cache.RegionSearch, key, slices.Clone(titles))
	return titles, nil
}

// Details returns one title with its crew, or ErrNotFound.
func (s *Service) Details(ctx context.Context, id string) (*Details, error) {
	if s.cache != nil {
		if d, ok := cache.GetAs[Details](s.cache, cache.RegionDetails, id); ok {
			d.Directors = slices.Clone(d.Directors)
			d.Actors = slices.Clone(d.Actors)
			return &d, nil
		}
	}

	var details *Details
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		details, err = c.TitleDetails(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.store(cache.RegionDetails, id, *details)
	return details, nil
}

// InvalidateTitle drops a title's cached details along with every cached
// search, since any of them may list it.
func (s *Service) InvalidateTitle(id string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(cache.RegionDetails, id); err != nil {
		return err
	}
	return s.cache.Clear(cache.RegionSearch)
}

// PopularQueries returns up to n titles as load-test queries weighted by vote
// count, most voted first. n <= 0 returns all of them.
func (s *Service) PopularQueries(ctx context.Context, n int) ([]loadtest.Query, error) {
	var popular []Popularity
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		popular, err = c.PopularTitles(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Titles are not unique; remakes share a query.
	votes := make(map[string]int64, len(popular))
	for _, p := range popular {
		votes[p.Title] += p.Votes
	}

	queries := make([]loadtest.Query, 0, len(votes))
	for title, v := range votes {
		queries = append(queries, loadtest.Query{Text: title, Weight: float64(v)})
	}
	sort.Slice(queries, func(i, j int) bool {
		if queries[i].Weight != queries[j].Weight {
			return queries[i].Weight > queries[j].Weight
		}
		return queries[i].Text < queries[j].Text
	})

	if n > 0 && len(queries) > n {
		queries = queries[:n]
	}
	return queries, nil
}

// Do serves a load-test query as a default-sized search.
func (s *Service) Do(ctx context.Context, q loadtest.Query) error {
	_, err := s.Search(ctx, q.Text, DefaultLimit)
	return err
}

// withConn runs fn on a pooled connection. The connection always goes back to
// the pool, which retires it if it reports itself broken.
func (s *Service) withConn(ctx context.Context, fn func(Conn) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}

	err = fn(conn)

	if rerr := s.pool.Release(conn); rerr != nil && !errors.Is(rerr, pool.ErrPoolClosed) {
		s.logger.Warn("failed to release connection", zap.Error(rerr))
	}
	return err
}

func (s *Service) store(region, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(region, key, value, 0); err != nil {
		s.logger.Debug("cache put skipped", zap.String("region", region), zap.Error(err))
	}
}
