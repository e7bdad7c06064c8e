package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/marktorrescoding/straightshotauto/auth"
	"github.com/marktorrescoding/straightshotauto/cache"
	"github.com/marktorrescoding/straightshotauto/coerce"
	"github.com/marktorrescoding/straightshotauto/dbopen"
	"github.com/marktorrescoding/straightshotauto/gateway"
	"github.com/marktorrescoding/straightshotauto/shield"
)

type stubProvider struct {
	reply string
	err   error
	calls int
}

func (p *stubProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *stubProvider) Name() string { return "stub" }

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T, p gateway.Provider) *server {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(cache.Schema))
	return &server{
		store:     cache.New(db),
		gw:        gateway.New(p, gateway.WithBackoff(time.Millisecond)),
		limiter:   shield.NewRateLimiter(shield.Limits{MinInterval: 0, MaxPerWindow: 1000, Window: time.Hour}),
		jwtSecret: testSecret,
		origins:   []string{"*"},
		logger:    slog.Default(),
	}
}

const listingBody = `{"url":"https://cars.example.com/listing/42","year":2014,"make":"Honda","model":"Civic","price_usd":7200}`

func postAnalyze(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeMissThenHit(t *testing.T) {
	p := &stubProvider{reply: `{"summary":"well kept commuter","final_verdict":"Good deal at this price","confidence":0.8,"overall_score":68,"upsides":["one owner"],"issues":[],"risks":[],"questions_to_ask":[],"negotiation_tips":[]}`}
	h := newTestServer(t, p).routes()

	rec := postAnalyze(h, listingBody, nil)
	if rec.Code != 200 {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if got := rec.Header().Get("X-User-Validated"); got != "false" {
		t.Errorf("X-User-Validated = %q, want false", got)
	}
	var a coerce.Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.OverallScore != 68 || a.FinalVerdict != "Good deal at this price" {
		t.Errorf("analysis = %+v", a)
	}

	rec = postAnalyze(h, listingBody, nil)
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (hit must not call the model)", p.calls)
	}
}

func TestAnalyzeRejectsInvalidSnapshot(t *testing.T) {
	p := &stubProvider{reply: "{}"}
	h := newTestServer(t, p).routes()

	for _, body := range []string{
		`not json`,
		`{"year":2014,"make":"Honda"}`,                  // no url
		`{"url":"https://cars.example.com/listing/42"}`, // no year or make
	} {
		rec := postAnalyze(h, body, nil)
		if rec.Code != 400 {
			t.Errorf("body %q: code = %d, want 400", body, rec.Code)
		}
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times on invalid input", p.calls)
	}
}

func TestAnalyzeValidatedHeader(t *testing.T) {
	p := &stubProvider{reply: `{"summary":"s","final_verdict":"Fair","confidence":0.5}`}
	h := newTestServer(t, p).routes()

	token, err := auth.GenerateToken(testSecret, &auth.Claims{UserID: "u1", Validated: true}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec := postAnalyze(h, listingBody, map[string]string{"Authorization": "Bearer " + token})
	if got := rec.Header().Get("X-User-Validated"); got != "true" {
		t.Errorf("X-User-Validated = %q, want true", got)
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	p := &stubProvider{reply: `{"summary":"s","final_verdict":"Fair","confidence":0.5}`}
	srv := newTestServer(t, p)
	srv.limiter = shield.NewRateLimiter(shield.Limits{MinInterval: 10 * time.Second, MaxPerWindow: 30, Window: time.Hour})
	h := srv.routes()

	if rec := postAnalyze(h, listingBody, nil); rec.Code != 200 {
		t.Fatalf("first code = %d", rec.Code)
	}
	rec := postAnalyze(h, listingBody, nil)
	if rec.Code != 429 {
		t.Fatalf("second code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	var body struct {
		RetryAfterSeconds int `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.RetryAfterSeconds < 1 {
		t.Errorf("body = %s (err %v)", rec.Body.String(), err)
	}
}

func TestAnalyzeUpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		p       *stubProvider
		details string
	}{
		{"transport", &stubProvider{err: errors.New("connection refused")}, "unreachable"},
		{"format", &stubProvider{reply: "I cannot help with that."}, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.p).routes()
			rec := postAnalyze(h, listingBody, nil)
			if rec.Code != 502 {
				t.Fatalf("code = %d, want 502", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.details) {
				t.Errorf("body = %s, want details containing %q", rec.Body.String(), tt.details)
			}
		})
	}
}

func TestAuthStatus(t *testing.T) {
	h := newTestServer(t, &stubProvider{}).routes()

	req := httptest.NewRequest("POST", "/auth/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("anonymous code = %d", rec.Code)
	}
	var st auth.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Authenticated || st.Validated || st.User != nil {
		t.Errorf("anonymous status = %+v", st)
	}

	token, err := auth.GenerateToken(testSecret, &auth.Claims{UserID: "u1", Email: "u@example.com", Validated: true}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest("POST", "/auth/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Authenticated || !st.Validated || st.User == nil || st.User.ID != "u1" {
		t.Errorf("status = %+v", st)
	}
}

func TestAdminStats(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	h := srv.routes()

	// No hash configured: the route does not exist.
	req := httptest.NewRequest("GET", "/admin/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Errorf("unconfigured code = %d, want 404", rec.Code)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv.adminUser = "admin"
	srv.adminHash = hash

	req = httptest.NewRequest("GET", "/admin/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Errorf("wrong password code = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/admin/stats", nil)
	req.SetBasicAuth("admin", "hunter2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "limiter_clients") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealthAndPreflight(t *testing.T) {
	h := newTestServer(t, &stubProvider{}).routes()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("health code = %d", rec.Code)
	}

	req = httptest.NewRequest("OPTIONS", "/analyze", nil)
	req.Header.Set("Origin", "https://marketplace.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Errorf("preflight code = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://marketplace.example.com" {
		t.Errorf("allow-origin = %q", got)
	}
}
