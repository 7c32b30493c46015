package loadtest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// QuerySet is a saved list of queries, so that separate runs replay the same
// workload.
type QuerySet struct {
	GeneratedAt time.Time `json:"generated_at"`
	Source      string    `json:"source,omitempty"`
	Queries     []Query   `json:"queries"`
}

const querySetSchema = `{
  "type": "object",
  "required": ["queries"],
  "properties": {
    "generated_at": {"type": "string"},
    "source": {"type": "string"},
    "queries": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["text", "weight"],
        "properties": {
          "text": {"type": "string", "minLength": 1},
          "weight": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

var querySetLoader = gojsonschema.NewStringLoader(querySetSchema)

// SaveQueries writes a query set as indented JSON.
func SaveQueries(path string, set *QuerySet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode query set: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write query set: %w", err)
	}
	return nil
}

// LoadQueries reads a query set and checks it against the query set schema
// before decoding.
func LoadQueries(path string) (*QuerySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query set: %w", err)
	}
	return ParseQueries(data)
}

// ParseQueries validates and decodes a JSON query set.
func ParseQueries(data []byte) (*QuerySet, error) {
	result, err := gojsonschema.Validate(querySetLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, fmt.Errorf("invalid query set: %s", strings.Join(errs, "; "))
	}

	var set QuerySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode query set: %w", err)
	}
	return &set, nil
}

// Sampler builds a weighted sampler over the set.
func (s *QuerySet) Sampler() (*WeightedSampler, error) {
	return NewWeightedSampler(s.Queries)
}
