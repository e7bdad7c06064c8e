package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/marktorrescoding/straightshotauto/auth"
	"github.com/marktorrescoding/straightshotauto/coerce"
	"github.com/marktorrescoding/straightshotauto/snapshot"
)

// Result is one analysis response from the edge.
type Result struct {
	Analysis  coerce.Analysis
	Cached    bool // X-Cache: HIT
	Validated bool // X-User-Validated: true
}

// RateLimitedError reports a 429 with the server's retry hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Backend is the edge service as seen from the client.
type Backend interface {
	Analyze(ctx context.Context, snap snapshot.Snapshot, bearer string) (*Result, error)
	AuthStatus(ctx context.Context, bearer string) (auth.StatusResponse, error)
}

// HTTPBackend is the production Backend over net/http.
type HTTPBackend struct {
	baseURL string
	http    *http.Client
}

// NewHTTPBackend creates a backend client for the edge at baseURL. Call
// deadlines come from the caller's context, not the http.Client.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{baseURL: baseURL, http: &http.Client{}}
}

// Analyze POSTs the snapshot to /analyze.
func (b *HTTPBackend) Analyze(ctx context.Context, snap snapshot.Snapshot, bearer string) (*Result, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: retryAfterFrom(resp, body)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("analyze returned %d: %s", resp.StatusCode, body)
	}

	var a coerce.Analysis
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("analyze response decode: %w", err)
	}
	return &Result{
		Analysis:  a,
		Cached:    resp.Header.Get("X-Cache") == "HIT",
		Validated: resp.Header.Get("X-User-Validated") == "true",
	}, nil
}

// AuthStatus POSTs to /auth/status with the bearer token.
func (b *HTTPBackend) AuthStatus(ctx context.Context, bearer string) (auth.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/auth/status", nil)
	if err != nil {
		return auth.StatusResponse{}, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return auth.StatusResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return auth.StatusResponse{}, fmt.Errorf("auth status returned %d", resp.StatusCode)
	}

	var st auth.StatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&st); err != nil {
		return auth.StatusResponse{}, fmt.Errorf("auth status decode: %w", err)
	}
	return st, nil
}

// retryAfterFrom reads the retry hint from the Retry-After header, falling
// back to the JSON body's retry_after_seconds.
func retryAfterFrom(resp *http.Response, body []byte) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if sec, err := strconv.Atoi(h); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	var parsed struct {
		RetryAfterSeconds int `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfterSeconds > 0 {
		return time.Duration(parsed.RetryAfterSeconds) * time.Second
	}
	return 0
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
