// Package auth owns session identity on both halves of the system: JWT
// validation on the edge, and the client for the external token collaborator
// (refresh and code exchange) on the client side. Gating decisions are NOT
// made here — the orchestrator consults validation state, it never enforces
// it.
package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the bearer-token claims structure accepted by the edge service.
// It embeds jwt.RegisteredClaims for standard fields (exp, iat, etc.) and
// adds the user identity plus the paid-tier validation flag.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Validated bool   `json:"validated"`
}

// User is the collaborator-supplied profile carried inside a Session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Session is the persisted client-side auth state, as issued by the external
// collaborator: tokens plus an absolute expiry in epoch seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}
