package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHTTPBackendAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer")
		}
		w.Header().Set("X-Cache", "HIT")
		w.Header().Set("X-User-Validated", "true")
		w.Write([]byte(`{"summary":"fine","final_verdict":"Good","overall_score":70,"confidence":0.7}`))
	}))
	defer srv.Close()

	res, err := NewHTTPBackend(srv.URL).Analyze(context.Background(), snapA(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached || !res.Validated {
		t.Errorf("headers not parsed: %+v", res)
	}
	if res.Analysis.Summary != "fine" {
		t.Errorf("analysis = %+v", res.Analysis)
	}
}

func TestHTTPBackend429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":42}`))
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL).Analyze(context.Background(), snapA(), "")
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if rl.RetryAfter != 42*time.Second {
		t.Errorf("RetryAfter = %s", rl.RetryAfter)
	}
}

func TestHTTPBackendAuthStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"authenticated":true,"validated":true,"user":{"id":"u1","email":"a@b.test"}}`))
	}))
	defer srv.Close()

	st, err := NewHTTPBackend(srv.URL).AuthStatus(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Authenticated || !st.Validated || st.User == nil || st.User.ID != "u1" {
		t.Errorf("status = %+v", st)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	data := `
endpoint: https://edge.example.com
free_limit: 7
min_interval: 20s
request_timeout: 30s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "https://edge.example.com" || cfg.FreeLimit != 7 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MinInterval != 20*time.Second {
		t.Errorf("MinInterval = %s", cfg.MinInterval)
	}
	// Defaults fill the unset fields.
	if cfg.CooldownFloor != 30*time.Second || cfg.PhaseThreshold != 6*time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
