package loadtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Target is the service entry point under test. Do returns nil on success and
// an error for any failed request; it should honor ctx but is not required to.
type Target interface {
	Do(ctx context.Context, q Query) error
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context, q Query) error

func (f TargetFunc) Do(ctx context.Context, q Query) error { return f(ctx, q) }

// StatusError is returned by HTTPTarget for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("loadtest: %s returned %d", e.URL, e.StatusCode)
}

// HTTPTarget issues GET {BaseURL}/search/{query}?limit={Limit}.
type HTTPTarget struct {
	BaseURL string
	Limit   int
	Client  *http.Client
}

// NewHTTPTarget creates a target with a pooled client sized for concurrency
// idle connections per host.
func NewHTTPTarget(baseURL string, concurrency int) *HTTPTarget {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = concurrency
	transport.MaxIdleConnsPerHost = concurrency
	transport.IdleConnTimeout = 90 * time.Second

	return &HTTPTarget{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Limit:   10,
		Client:  &http.Client{Transport: transport},
	}
}

// Do performs one search request.
func (t *HTTPTarget) Do(ctx context.Context, q Query) error {
	u := t.BaseURL + "/search/" + url.PathEscape(q.Text)
	if t.Limit > 0 {
		u += "?limit=" + strconv.Itoa(t.Limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection is reused.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, URL: u}
	}
	return nil
}
