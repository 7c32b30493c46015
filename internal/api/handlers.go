package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/catalog"
	"github.com/FairForge/loadlab/internal/logging"
	"github.com/FairForge/loadlab/internal/pool"
)

// SearchResponse is the body of GET /search/{query}.
type SearchResponse struct {
	Query   string          `json:"query"`
	Limit   int             `json:"limit"`
	Results []catalog.Title `json:"results"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := mux.Vars(r)["query"]

	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit = catalog.NormalizeLimit(limit)

	results, err := s.service.Search(r.Context(), query, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Limit: limit, Results: results})
}

func (s *Server) handleMovie(w http.ResponseWriter, r *http.Request) {
	details, err := s.service.Details(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if n <= 0 {
		n = catalog.DefaultLimit
	}

	queries, err := s.service.PopularQueries(r.Context(), n)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queries)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	c := s.service.Cache()
	if c == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"size":    c.Len(),
		"regions": c.Stats(),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.InvalidateTitle(mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Pool().GenerateReport())
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + name + ": " + raw)
	}
	return n, nil
}

// writeServiceError maps service errors onto HTTP status codes. Pool
// exhaustion is reported as 503 so load generators count it as a failure
// distinct from a crash.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrPoolExhausted), errors.Is(err, pool.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
