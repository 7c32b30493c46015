package loadtest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestHTTPTarget_Do(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.EscapedPath()
		gotLimit = r.URL.Query().Get("limit")
		mu.Unlock()
		switch r.URL.Path {
		case "/search/broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/search/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			_, _ = w.Write([]byte(`{"results":[]}`))
		}
	}))
	defer srv.Close()

	target := NewHTTPTarget(srv.URL+"/", 4)
	target.Limit = 5

	t.Run("success", func(t *testing.T) {
		if err := target.Do(context.Background(), Query{Text: "pulp fiction"}); err != nil {
			t.Fatal(err)
		}
		mu.Lock()
		defer mu.Unlock()
		if gotPath != "/search/pulp%20fiction" {
			t.Errorf("unexpected path %q", gotPath)
		}
		if gotLimit != "5" {
			t.Errorf("expected limit 5, got %q", gotLimit)
		}
	})

	t.Run("non-2xx is a service error", func(t *testing.T) {
		err := target.Do(context.Background(), Query{Text: "broken"})
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 StatusError, got %v", err)
		}
		if classify(err) != FailureServiceError {
			t.Error("expected service error classification")
		}
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := target.Do(ctx, Query{Text: "slow"})
		if err == nil {
			t.Fatal("expected error")
		}
		if classify(err) != FailureTimeout {
			t.Errorf("expected timeout classification, got %v", err)
		}
	})
}

func TestHTTPTarget_ThroughHarness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, err := New(&Config{RequestTimeout: time.Second, ThinkTime: 5 * time.Millisecond}, NewHTTPTarget(srv.URL, 2))
	if err != nil {
		t.Fatal(err)
	}

	summary, err := h.Run(context.Background(), 2, 100*time.Millisecond, testSampler(t))
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRequests == 0 || summary.SuccessRate != 100 {
		t.Errorf("expected successful requests, got %+v", summary)
	}
}
