package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Person is a cast or crew member.
type Person struct {
	ID   string `json:"nconst"`
	Name string `json:"name"`
}

// Casting links an actor to a title.
type Casting struct {
	TitleID   string `json:"tconst"`
	PersonID  string `json:"nconst"`
	Ordering  int    `json:"ordering"`
	Character string `json:"character,omitempty"`
}

// Dataset is a catalog snapshot in memory, loaded from the IMDb TSV exports
// or built by hand.
type Dataset struct {
	Titles    []Title
	People    map[string]string   // nconst -> name
	Directors map[string][]string // tconst -> nconsts
	Actors    []Casting
}

// IMDb export file names, optionally with a .gz suffix.
const (
	fileBasics     = "title.basics.tsv"
	fileRatings    = "title.ratings.tsv"
	fileCrew       = "title.crew.tsv"
	filePrincipals = "title.principals.tsv"
	fileNames      = "name.basics.tsv"
)

const imdbNull = `\N`

var movieTypes = map[string]bool{"movie": true, "tvMovie": true}

// LoadDataset reads the IMDb exports in dir. Only movies are kept, and only
// people credited on a kept movie are loaded.
func LoadDataset(dir string) (*Dataset, error) {
	ds := &Dataset{
		People:    make(map[string]string),
		Directors: make(map[string][]string),
	}
	index := make(map[string]int)

	err := readTSV(dir, fileBasics, func(rec map[string]string) error {
		if !movieTypes[rec["titleType"]] {
			return nil
		}
		t := Title{
			ID:             rec["tconst"],
			Title:          rec["primaryTitle"],
			Year:           atoi(rec["startYear"]),
			RuntimeMinutes: atoi(rec["runtimeMinutes"]),
			Genres:         nullable(rec["genres"]),
		}
		index[t.ID] = len(ds.Titles)
		ds.Titles = append(ds.Titles, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTSV(dir, fileRatings, func(rec map[string]string) error {
		i, ok := index[rec["tconst"]]
		if !ok {
			return nil
		}
		ds.Titles[i].Rating, _ = strconv.ParseFloat(rec["averageRating"], 64)
		ds.Titles[i].Votes, _ = strconv.ParseInt(rec["numVotes"], 10, 64)
		return nil
	})
	if err != nil {
		return nil, err
	}

	needed := make(map[string]bool)
	err = readTSV(dir, fileCrew, func(rec map[string]string) error {
		id := rec["tconst"]
		if _, ok := index[id]; !ok {
			return nil
		}
		directors := nullable(rec["directors"])
		if directors == "" {
			return nil
		}
		for _, n := range strings.Split(directors, ",") {
			ds.Directors[id] = append(ds.Directors[id], n)
			needed[n] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[[2]string]int)
	err = readTSV(dir, filePrincipals, func(rec map[string]string) error {
		category := rec["category"]
		if category != "actor" && category != "actress" {
			return nil
		}
		c := Casting{
			TitleID:   rec["tconst"],
			PersonID:  rec["nconst"],
			Ordering:  atoi(rec["ordering"]),
			Character: parseCharacters(rec["characters"]),
		}
		if _, ok := index[c.TitleID]; !ok {
			return nil
		}
		// An actor in several roles keeps the first billing.
		key := [2]string{c.TitleID, c.PersonID}
		if i, ok := seen[key]; ok {
			if c.Ordering < ds.Actors[i].Ordering {
				ds.Actors[i] = c
			}
			return nil
		}
		seen[key] = len(ds.Actors)
		ds.Actors = append(ds.Actors, c)
		needed[c.PersonID] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTSV(dir, fileNames, func(rec map[string]string) error {
		if id := rec["nconst"]; needed[id] {
			ds.People[id] = rec["primaryName"]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ds, nil
}

// readTSV streams the rows of name (or name.gz) in dir as header-keyed maps.
func readTSV(dir, name string, fn func(map[string]string) error) error {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		path += ".gz"
		f, err = os.Open(path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", name, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read %s header: %w", name, err)
	}
	header = append([]string(nil), header...)

	rec := make(map[string]string, len(header))
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s line %d: %w", name, line, err)
		}
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = imdbNull
			}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func nullable(s string) string {
	if s == imdbNull {
		return ""
	}
	return s
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// parseCharacters turns `["Neo","Thomas Anderson"]` into "Neo, Thomas Anderson".
func parseCharacters(s string) string {
	s = nullable(s)
	if s == "" {
		return ""
	}
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return s
	}
	return strings.Join(names, ", ")
}

// Popularity lists titles with votes, as PopularTitles would.
func (ds *Dataset) Popularity() []Popularity {
	out := make([]Popularity, 0, len(ds.Titles))
	for _, t := range ds.Titles {
		if t.Votes > 0 {
			out = append(out, Popularity{Title: t.Title, Votes: t.Votes})
		}
	}
	return out
}

func (ds *Dataset) sortedPeople() []Person {
	people := make([]Person, 0, len(ds.People))
	for id, name := range ds.People {
		people = append(people, Person{ID: id, Name: name})
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
	return people
}

// directorRows returns (tconst, nconst) pairs whose person is known.
func (ds *Dataset) directorRows() [][2]string {
	var rows [][2]string
	ids := make([]string, 0, len(ds.Directors))
	for id := range ds.Directors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		seen := make(map[string]bool)
		for _, n := range ds.Directors[id] {
			if _, ok := ds.People[n]; ok && !seen[n] {
				seen[n] = true
				rows = append(rows, [2]string{id, n})
			}
		}
	}
	return rows
}

func (ds *Dataset) knownCastings() []Casting {
	out := make([]Casting, 0, len(ds.Actors))
	for _, c := range ds.Actors {
		if _, ok := ds.People[c.PersonID]; ok {
			out = append(out, c)
		}
	}
	return out
}
