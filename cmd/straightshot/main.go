// Entry point for the straightshot edge service — chi router, rate limiting,
// response cache, model gateway, optional MCP stdio transport.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/marktorrescoding/straightshotauto/cache"
	"github.com/marktorrescoding/straightshotauto/dbopen"
	"github.com/marktorrescoding/straightshotauto/gateway"
	"github.com/marktorrescoding/straightshotauto/shield"
)

func main() {
	port := env("PORT", "8092")
	cachePath := env("CACHE_DB", "db/cache.db")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	secretInput := os.Getenv("SESSION_SECRET")
	if secretInput == "" {
		slog.Error("SESSION_SECRET is required")
		os.Exit(1)
	}
	// Derive a 32-byte JWT secret via SHA-256 (satisfies auth.MinSecretLen).
	secretHash := sha256.Sum256([]byte(secretInput))
	jwtSecret := secretHash[:]

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Cache DB.
	cacheDB, err := dbopen.Open(cachePath, dbopen.WithMkdirAll(), dbopen.WithSchema(cache.Schema))
	if err != nil {
		slog.Error("cache db", "error", err)
		os.Exit(1)
	}
	defer cacheDB.Close()

	store := cache.New(cacheDB)
	store.StartSweeper(ctx, ctx.Done())

	// Rate limiter.
	limiter := shield.NewRateLimiter(shield.DefaultLimits())
	limiter.StartGC(ctx.Done())

	// Model provider.
	provider, err := gateway.ProviderFromEnv()
	if err != nil {
		slog.Error("model provider", "error", err)
		os.Exit(1)
	}
	gw := gateway.New(provider, gateway.WithLogger(logger))
	slog.Info("model provider ready", "provider", provider.Name())

	srv := &server{
		store:     store,
		gw:        gw,
		limiter:   limiter,
		jwtSecret: jwtSecret,
		origins:   splitOrigins(env("ALLOWED_ORIGINS", "*")),
		adminUser: env("ADMIN_USER", "admin"),
		adminHash: []byte(os.Getenv("ADMIN_PASS_HASH")),
		logger:    logger,
	}

	// Optional MCP stdio transport: the same analyze pipeline exposed as a
	// tool. HTTP keeps serving alongside it.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "straightshot",
			Version: "1.0.0",
		}, nil)
		srv.registerMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
