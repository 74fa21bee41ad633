package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = 10 * time.Millisecond
	opts.RetryMaxBackoff = 50 * time.Millisecond
	return opts
}

func TestCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("User-Agent"); got != "docharvest-test" {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><form></form></html>"))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.UserAgent = "docharvest-test"
	info, err := NewClient(opts).Check(context.Background(), server.URL+"/login")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if info.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", info.StatusCode)
	}
	if info.ContentType != "text/html" {
		t.Errorf("expected content-type 'text/html', got %s", info.ContentType)
	}
	if info.FinalURL != server.URL+"/login" {
		t.Errorf("unexpected final url %s", info.FinalURL)
	}
	if info.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", info.Attempts)
	}
}

func TestCheckFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {})
	server := httptest.NewServer(mux)
	defer server.Close()

	info, err := NewClient(DefaultOptions()).Check(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if info.FinalURL != server.URL+"/login" {
		t.Errorf("expected redirect to be followed, got %s", info.FinalURL)
	}
}

func TestCheckNotFound(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient(fastOptions()).Check(context.Background(), server.URL)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
	}))
	defer server.Close()

	info, err := NewClient(fastOptions()).Check(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if info.Attempts != 3 {
		t.Errorf("expected 3 attempts reported, got %d", info.Attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	opts := fastOptions()
	opts.RetryAttempts = 2
	_, err := NewClient(opts).Check(context.Background(), server.URL)
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
}

func TestCheckUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	opts := fastOptions()
	opts.RetryAttempts = 1
	_, err := NewClient(opts).Check(context.Background(), url)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestCheckStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusNoContent, nil},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusUnauthorized, ErrUnauthorized},
	}

	for _, tt := range tests {
		if got := checkStatusCode(tt.code); got != tt.want {
			t.Errorf("checkStatusCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if checkStatusCode(http.StatusTeapot) == nil {
		t.Error("expected error for 418")
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(DefaultOptions()).Check(ctx, server.URL)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}
