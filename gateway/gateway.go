// Package gateway calls the upstream language model and normalizes its
// failures into two operator-distinguishable classes: transport problems
// (network, non-200) and format problems (the model answered but not with
// the JSON we asked for). The distinction is what lets an operator tell
// prompt or schema drift apart from an outage.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marktorrescoding/straightshotauto/snapshot"
)

var (
	// ErrUpstreamTransport marks network or HTTP failures talking to the
	// model. Surfaced as 502; retried once inside the gateway.
	ErrUpstreamTransport = errors.New("upstream transport error")
	// ErrUpstreamFormat marks non-JSON or schema-violating model output.
	// Never retried: a drifted prompt fails the same way every time.
	ErrUpstreamFormat = errors.New("upstream format error")
)

// Provider produces raw text for a prompt. Implementations live in
// anthropic.go and openai.go.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Gateway wraps a Provider with a call deadline, a single retry on
// transport errors, and JSON extraction.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-call deadline. Default: 60s — generous because
// there is no way to cancel an upstream completion once issued.
func WithTimeout(d time.Duration) Option { return func(g *Gateway) { g.timeout = d } }

// WithBackoff sets the wait before the single transport retry. Default: 2s.
func WithBackoff(d time.Duration) Option { return func(g *Gateway) { g.backoff = d } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.logger = l } }

// New creates a gateway over the given provider.
func New(p Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: p,
		timeout:  60 * time.Second,
		backoff:  2 * time.Second,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Analyze prompts the model with the snapshot and returns the decoded raw
// analysis object. The result is untrusted: callers must pass it through
// coerce before serving it.
func (g *Gateway) Analyze(ctx context.Context, snap snapshot.Snapshot) (map[string]any, error) {
	prompt := BuildPrompt(snap)

	text, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(text)
	if err != nil {
		g.logger.WarnContext(ctx, "gateway: unparseable model output",
			"provider", g.provider.Name(), "error", err)
		return nil, err
	}
	return raw, nil
}

// complete runs the provider call under the deadline, retrying once on
// transport failure. Format errors are classified later and never retried.
func (g *Gateway) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, err := g.provider.Complete(callCtx, prompt)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt == 0 {
			g.logger.WarnContext(ctx, "gateway: retrying upstream call",
				"provider", g.provider.Name(), "backoff_ms", g.backoff.Milliseconds(), "error", err)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUpstreamTransport, ctx.Err())
			case <-time.After(g.backoff):
			}
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUpstreamTransport, lastErr)
}
