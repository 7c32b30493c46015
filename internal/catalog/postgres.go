package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // PostgreSQL driver

	"github.com/FairForge/loadlab/internal/pool"
)

// PostgresConfig holds database configuration
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	SSLMode  string `yaml:"sslmode" json:"sslmode"`
}

// DSN renders the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslMode)
}

// OpenPostgres opens a database handle able to back a connection pool of
// poolSize plus one spare connection for administrative statements.
func OpenPostgres(cfg PostgresConfig, poolSize int) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(poolSize + 1)
	db.SetMaxIdleConns(poolSize + 1)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

var errBrokenConn = errors.New("connection is broken")

// PostgresConn is a single dedicated database session.
type PostgresConn struct {
	conn   *sql.Conn
	broken bool
}

// NewPostgresConn wraps a dedicated connection.
func NewPostgresConn(conn *sql.Conn) *PostgresConn {
	return &PostgresConn{conn: conn}
}

// PostgresFactory opens a dedicated session from db for each pooled handle.
func PostgresFactory(db *sql.DB) pool.Factory[Conn] {
	return func(ctx context.Context) (Conn, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("open connection: %w", err)
		}
		return NewPostgresConn(conn), nil
	}
}

// Close closes the connection
func (c *PostgresConn) Close() error {
	return c.conn.Close()
}

// IsHealthy reports whether the session has seen a broken connection.
// Liveness pings are left to database/sql so a lend costs no round trip.
func (c *PostgresConn) IsHealthy() bool {
	return !c.broken
}

// Reset refuses a connection the driver reported as bad so the pool retires it.
func (c *PostgresConn) Reset() error {
	if c.broken {
		return errBrokenConn
	}
	return nil
}

func (c *PostgresConn) track(err error) error {
	if errors.Is(err, driver.ErrBadConn) {
		c.broken = true
	}
	return err
}

const searchTitlesQuery = `
	SELECT m.tconst, m.primary_title, m.start_year, m.runtime_minutes,
	       m.genres, r.average_rating, r.num_votes
	FROM movies m
	LEFT JOIN ratings r ON m.tconst = r.tconst
	WHERE m.primary_title ILIKE $1 ESCAPE '\'
	ORDER BY r.num_votes DESC NULLS LAST
	LIMIT $2`

// SearchTitles runs a substring match on the primary title.
func (c *PostgresConn) SearchTitles(ctx context.Context, query string, limit int) ([]Title, error) {
	rows, err := c.conn.QueryContext(ctx, searchTitlesQuery, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search titles: %w", c.track(err))
	}
	defer func() { _ = rows.Close() }()

	var titles []Title
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search titles: %w", c.track(err))
	}
	return titles, nil
}

const (
	titleQuery = `
	SELECT m.tconst, m.primary_title, m.start_year, m.runtime_minutes,
	       m.genres, r.average_rating, r.num_votes
	FROM movies m
	LEFT JOIN ratings r ON m.tconst = r.tconst
	WHERE m.tconst = $1`

	directorsQuery = `
	SELECT p.primary_name
	FROM directors d
	JOIN people p ON d.nconst = p.nconst
	WHERE d.tconst = $1
	ORDER BY p.primary_name`

	actorsQuery = `
	SELECT p.primary_name, a.characters
	FROM actors a
	JOIN people p ON a.nconst = p.nconst
	WHERE a.tconst = $1
	ORDER BY a.ordering
	LIMIT $2`
)

// TitleDetails loads a title with its directors and top billed actors.
func (c *PostgresConn) TitleDetails(ctx context.Context, id string) (*Details, error) {
	t, err := scanTitle(c.conn.QueryRowContext(ctx, titleQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get title: %w", c.track(err))
	}

	details := &Details{Title: t, Directors: []string{}, Actors: []Credit{}}

	rows, err := c.conn.QueryContext(ctx, directorsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get directors: %w", c.track(err))
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan director: %w", err)
		}
		details.Directors = append(details.Directors, name)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get directors: %w", c.track(err))
	}

	rows, err = c.conn.QueryContext(ctx, actorsQuery, id, MaxActors)
	if err != nil {
		return nil, fmt.Errorf("get actors: %w", c.track(err))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var credit Credit
		var character sql.NullString
		if err := rows.Scan(&credit.Name, &character); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		credit.Character = character.String
		details.Actors = append(details.Actors, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get actors: %w", c.track(err))
	}

	return details, nil
}

const popularTitlesQuery = `
	SELECT m.primary_title, r.num_votes
	FROM movies m
	JOIN ratings r ON m.tconst = r.tconst
	WHERE r.num_votes > 0`

// PopularTitles lists titles with their vote counts.
func (c *PostgresConn) PopularTitles(ctx context.Context) ([]Popularity, error) {
	rows, err := c.conn.QueryContext(ctx, popularTitlesQuery)
	if err != nil {
		return nil, fmt.Errorf("popular titles: %w", c.track(err))
	}
	defer func() { _ = rows.Close() }()

	var out []Popularity
	for rows.Next() {
		var p Popularity
		if err := rows.Scan(&p.Title, &p.Votes); err != nil {
			return nil, fmt.Errorf("scan popularity: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("popular titles: %w", c.track(err))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTitle(s scanner) (Title, error) {
	var (
		t       Title
		year    sql.NullInt64
		runtime sql.NullInt64
		genres  sql.NullString
		rating  sql.NullFloat64
		votes   sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.Title, &year, &runtime, &genres, &rating, &votes); err != nil {
		return Title{}, err
	}
	t.Year = int(year.Int64)
	t.RuntimeMinutes = int(runtime.Int64)
	t.Genres = genres.String
	t.Rating = rating.Float64
	t.Votes = votes.Int64
	return t, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// CreateSchema creates the tables and indexes
func CreateSchema(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS movies (
			tconst VARCHAR(16) PRIMARY KEY,
			title_type VARCHAR(32),
			primary_title TEXT NOT NULL,
			start_year INTEGER,
			runtime_minutes INTEGER,
			genres TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS people (
			nconst VARCHAR(16) PRIMARY KEY,
			primary_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ratings (
			tconst VARCHAR(16) PRIMARY KEY REFERENCES movies(tconst),
			average_rating REAL,
			num_votes INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS directors (
			tconst VARCHAR(16) REFERENCES movies(tconst),
			nconst VARCHAR(16) REFERENCES people(nconst),
			PRIMARY KEY (tconst, nconst)
		)`,
		`CREATE TABLE IF NOT EXISTS actors (
			tconst VARCHAR(16) REFERENCES movies(tconst),
			nconst VARCHAR(16) REFERENCES people(nconst),
			ordering INTEGER,
			characters TEXT,
			PRIMARY KEY (tconst, nconst)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movies_title ON movies (primary_title)`,
		`CREATE INDEX IF NOT EXISTS idx_ratings_votes ON ratings (num_votes)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// ImportDataset replaces the table contents with ds using COPY. Credits that
// reference people missing from ds are dropped.
func ImportDataset(ctx context.Context, db *sql.DB, ds *Dataset) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `TRUNCATE actors, directors, ratings, movies, people`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	err = copyRows(ctx, tx, "movies", []string{"tconst", "primary_title", "start_year", "runtime_minutes", "genres"},
		len(ds.Titles), func(i int) []any {
			t := ds.Titles[i]
			return []any{t.ID, t.Title, nullInt(t.Year), nullInt(t.RuntimeMinutes), nullString(t.Genres)}
		})
	if err != nil {
		return err
	}

	rated := make([]Title, 0, len(ds.Titles))
	for _, t := range ds.Titles {
		if t.Votes > 0 || t.Rating > 0 {
			rated = append(rated, t)
		}
	}
	err = copyRows(ctx, tx, "ratings", []string{"tconst", "average_rating", "num_votes"},
		len(rated), func(i int) []any {
			return []any{rated[i].ID, rated[i].Rating, rated[i].Votes}
		})
	if err != nil {
		return err
	}

	people := ds.sortedPeople()
	err = copyRows(ctx, tx, "people", []string{"nconst", "primary_name"},
		len(people), func(i int) []any {
			return []any{people[i].ID, people[i].Name}
		})
	if err != nil {
		return err
	}

	directors := ds.directorRows()
	err = copyRows(ctx, tx, "directors", []string{"tconst", "nconst"},
		len(directors), func(i int) []any {
			return []any{directors[i][0], directors[i][1]}
		})
	if err != nil {
		return err
	}

	actors := ds.knownCastings()
	err = copyRows(ctx, tx, "actors", []string{"tconst", "nconst", "ordering", "characters"},
		len(actors), func(i int) []any {
			a := actors[i]
			return []any{a.TitleID, a.PersonID, a.Ordering, nullString(a.Character)}
		})
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func copyRows(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(int) []any) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("copy %s row %d: %w", table, i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	return nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
