package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps collaborator responses read into memory.
const maxResponseBody = 256 * 1024

// RefreshLeeway is how close to expiry a session counts as expiring.
// Refreshing early keeps an analysis call from racing token expiry
// mid-flight.
const RefreshLeeway = 2 * time.Minute

// Client talks to the external token collaborator. The collaborator owns
// issuance entirely; this client only exchanges codes and refreshes.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a collaborator client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ExchangeCode trades an emailed one-time code for a session.
func (c *Client) ExchangeCode(ctx context.Context, email, code string) (Session, error) {
	return c.post(ctx, "/token/exchange", map[string]string{"email": email, "code": code})
}

// Refresh trades the session's refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, s Session) (Session, error) {
	return c.post(ctx, "/token/refresh", map[string]string{"refresh_token": s.RefreshToken})
}

func (c *Client) post(ctx context.Context, path string, body map[string]string) (Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("auth collaborator: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Session{}, fmt.Errorf("auth collaborator: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("auth collaborator returned %d: %s", resp.StatusCode, raw)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("auth collaborator: decode: %w", err)
	}
	if s.AccessToken == "" {
		return Session{}, fmt.Errorf("auth collaborator: response missing access_token")
	}
	return s, nil
}

// ExpiringSoon reports whether s expires within RefreshLeeway of now.
func ExpiringSoon(s Session, now time.Time) bool {
	return time.Unix(s.ExpiresAt, 0).Before(now.Add(RefreshLeeway))
}

// StatusResponse is the edge's answer to POST /auth/status.
type StatusResponse struct {
	Authenticated bool  `json:"authenticated"`
	Validated     bool  `json:"validated"`
	User          *User `json:"user,omitempty"`
}
