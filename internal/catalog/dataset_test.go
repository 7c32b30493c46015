package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTSV(t *testing.T, dir, name string, rows ...string) {
	t.Helper()
	data := strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o600))
}

func writeTSVGz(t *testing.T, dir, name string, rows ...string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name+".gz"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(rows, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
}

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeTSVGz(t, dir, fileBasics,
		"tconst\ttitleType\tprimaryTitle\toriginalTitle\tisAdult\tstartYear\tendYear\truntimeMinutes\tgenres",
		"tt0133093\tmovie\tThe Matrix\tThe Matrix\t0\t1999\t\\N\t136\tAction,Sci-Fi",
		"tt0106062\ttvSeries\tMatrix\tMatrix\t0\t1993\t1993\t60\tAction",
		"tt0410519\ttvMovie\tThe Matrix Revisited\tThe Matrix Revisited\t0\t2001\t\\N\t\\N\t\\N",
	)
	writeTSV(t, dir, fileRatings,
		"tconst\taverageRating\tnumVotes",
		"tt0133093\t8.7\t2100000",
		"tt0106062\t7.5\t200",
	)
	writeTSV(t, dir, fileCrew,
		"tconst\tdirectors\twriters",
		"tt0133093\tnm0905154,nm0905152\tnm0905154",
		"tt0410519\t\\N\t\\N",
	)
	writeTSV(t, dir, filePrincipals,
		"tconst\tordering\tnconst\tcategory\tjob\tcharacters",
		"tt0133093\t1\tnm0000206\tactor\t\\N\t[\"Neo\"]",
		"tt0133093\t5\tnm0905154\tdirector\t\\N\t\\N",
		"tt0133093\t3\tnm0000401\tactor\t\\N\t[\"Morpheus\"]",
		"tt0133093\t9\tnm0000206\tactor\t\\N\t[\"Thomas Anderson\"]",
		"tt0106062\t1\tnm9999999\tactor\t\\N\t[\"Owen\"]",
	)
	writeTSV(t, dir, fileNames,
		"nconst\tprimaryName\tbirthYear\tdeathYear\tprimaryProfession\tknownForTitles",
		"nm0000206\tKeanu Reeves\t1964\t\\N\tactor\ttt0133093",
		"nm0000401\tLaurence Fishburne\t1961\t\\N\tactor\ttt0133093",
		"nm0905154\tLana Wachowski\t1965\t\\N\tdirector\ttt0133093",
		"nm0905152\tLilly Wachowski\t1967\t\\N\tdirector\ttt0133093",
		"nm9999999\tUnrelated Person\t\\N\t\\N\tactor\ttt0106062",
	)
	return dir
}

func TestLoadDataset(t *testing.T) {
	ds, err := LoadDataset(writeFixture(t))
	require.NoError(t, err)

	t.Run("keeps movies only", func(t *testing.T) {
		require.Len(t, ds.Titles, 2)
		assert.Equal(t, Title{ID: "tt0133093", Title: "The Matrix", Year: 1999, RuntimeMinutes: 136,
			Genres: "Action,Sci-Fi", Rating: 8.7, Votes: 2100000}, ds.Titles[0])
		assert.Equal(t, Title{ID: "tt0410519", Title: "The Matrix Revisited", Year: 2001}, ds.Titles[1])
	})

	t.Run("credits", func(t *testing.T) {
		assert.Equal(t, []string{"nm0905154", "nm0905152"}, ds.Directors["tt0133093"])
		assert.NotContains(t, ds.Directors, "tt0410519")

		require.Len(t, ds.Actors, 2, "directors in principals and repeated roles are dropped")
		assert.Equal(t, Casting{TitleID: "tt0133093", PersonID: "nm0000206", Ordering: 1, Character: "Neo"}, ds.Actors[0])
	})

	t.Run("only referenced people", func(t *testing.T) {
		assert.Len(t, ds.People, 4)
		assert.NotContains(t, ds.People, "nm9999999")
	})

	t.Run("popularity skips unrated", func(t *testing.T) {
		assert.Equal(t, []Popularity{{Title: "The Matrix", Votes: 2100000}}, ds.Popularity())
	})
}

func TestLoadDataset_MissingFile(t *testing.T) {
	_, err := LoadDataset(t.TempDir())
	assert.ErrorContains(t, err, fileBasics)
}

func TestMemoryStore_FromLoadedDataset(t *testing.T) {
	ds, err := LoadDataset(writeFixture(t))
	require.NoError(t, err)

	store := NewMemoryStore(ds, 0)
	conn, err := store.Factory()(context.Background())
	require.NoError(t, err)

	d, err := conn.TitleDetails(context.Background(), "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, []string{"Lana Wachowski", "Lilly Wachowski"}, d.Directors)
	assert.Equal(t, []Credit{
		{Name: "Keanu Reeves", Character: "Neo"},
		{Name: "Laurence Fishburne", Character: "Morpheus"},
	}, d.Actors)

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsHealthy())
	assert.Error(t, conn.Reset())
	_, err = conn.SearchTitles(context.Background(), "matrix", 10)
	assert.Error(t, err)
}

func TestMemoryConn_ServiceTime(t *testing.T) {
	store := NewMemoryStore(SampleDataset(), 30*time.Millisecond)
	conn, err := store.Factory()(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = conn.SearchTitles(context.Background(), "heat", 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = conn.SearchTitles(ctx, "heat", 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseCharacters(t *testing.T) {
	assert.Equal(t, "Neo", parseCharacters(`["Neo"]`))
	assert.Equal(t, "Neo, Thomas Anderson", parseCharacters(`["Neo","Thomas Anderson"]`))
	assert.Equal(t, "", parseCharacters(`\N`))
	assert.Equal(t, "raw", parseCharacters("raw"))
}
