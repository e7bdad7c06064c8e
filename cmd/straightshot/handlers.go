package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/marktorrescoding/straightshotauto/auth"
	"github.com/marktorrescoding/straightshotauto/cache"
	"github.com/marktorrescoding/straightshotauto/coerce"
	"github.com/marktorrescoding/straightshotauto/gateway"
	"github.com/marktorrescoding/straightshotauto/kit"
	"github.com/marktorrescoding/straightshotauto/shield"
	"github.com/marktorrescoding/straightshotauto/snapshot"
)

const maxBodyBytes = 64 * 1024

type server struct {
	store     *cache.Store
	gw        *gateway.Gateway
	limiter   *shield.RateLimiter
	jwtSecret []byte
	origins   []string
	adminUser string
	adminHash []byte // bcrypt hash; admin routes disabled when empty
	logger    *slog.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(shield.TraceID)
	r.Use(shield.CORS(s.origins))
	r.Use(shield.MaxJSONBody(maxBodyBytes))
	r.Use(auth.Middleware(s.jwtSecret)) // soft: parses bearer token, never rejects

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.With(s.limiter.Middleware).Post("/analyze", s.handleAnalyze)
	r.Post("/auth/status", s.handleAuthStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/admin/stats", s.handleStats)
	})

	return r
}

// handleAnalyze runs the full pipeline: validate, cache lookup, model call,
// coercion, cache store. The rate limiter has already admitted the request.
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	var snap snapshot.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, 400, err)
		return
	}
	snap = snap.Normalize()
	snap.URL = snapshot.NormalizeListingURL(snap.URL)
	if err := snap.Validate(); err != nil {
		writeError(w, 400, err)
		return
	}

	validated := kit.GetValidated(r.Context())
	w.Header().Set("X-User-Validated", boolHeader(validated))

	if a, ok, err := s.store.Lookup(r.Context(), snap); err != nil {
		log.Error("cache lookup", "error", err)
	} else if ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, 200, a)
		return
	}

	raw, err := s.gw.Analyze(r.Context(), snap)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrUpstreamFormat):
			log.Error("model output unusable", "error", err)
			writeJSON(w, 502, map[string]string{
				"error":   "analysis unavailable",
				"details": "model returned malformed output",
			})
		default:
			log.Error("model call failed", "error", err)
			writeJSON(w, 502, map[string]string{
				"error":   "analysis unavailable",
				"details": "upstream model unreachable",
			})
		}
		return
	}

	a := coerce.Coerce(raw, snap)
	if err := s.store.Store(r.Context(), snap, a); err != nil {
		log.Error("cache store", "error", err)
	}
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, 200, a)
}

// handleAuthStatus reports what the edge believes about the bearer token.
// Anonymous callers get a 200 with authenticated=false, never a 401: the
// client treats this as advisory state, not a gate.
func (s *server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	c := auth.GetClaims(r.Context())
	if c == nil {
		writeJSON(w, 200, auth.StatusResponse{})
		return
	}
	writeJSON(w, 200, auth.StatusResponse{
		Authenticated: true,
		Validated:     c.Validated,
		User:          &auth.User{ID: c.UserID, Email: c.Email},
	})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]any{
		"cache":           st,
		"limiter_clients": s.limiter.Clients(),
	})
}

// requireAdmin guards admin routes with Basic Auth against a bcrypt hash.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.adminHash) == 0 {
			writeJSON(w, 404, map[string]string{"error": "not found"})
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.adminUser)) != 1 ||
			bcrypt.CompareHashAndPassword(s.adminHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="straightshot"`)
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
