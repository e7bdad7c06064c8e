// Package orchestrator drives the client-side analysis lifecycle: it
// decides when a DOM-triggered snapshot becomes a backend call, collapses
// overlapping triggers, fences asynchronous completions by sequence number,
// tracks the free-tier quota, and recovers from rate limits and failures.
//
// All state lives in one Orchestrator value with single-writer discipline:
// every mutation happens under its mutex, and an in-flight completion may
// only touch state while its stamped sequence number is still current.
// Dropped completions are the mechanism, not an error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marktorrescoding/straightshotauto/auth"
	"github.com/marktorrescoding/straightshotauto/coerce"
	"github.com/marktorrescoding/straightshotauto/snapshot"
)

// ErrKind classifies a failed attempt for the UI layer.
type ErrKind string

const (
	ErrKindNone        ErrKind = ""
	ErrKindTimeout     ErrKind = "timeout"
	ErrKindRequest     ErrKind = "request failed"
	ErrKindIncomplete  ErrKind = "incomplete response"
	ErrKindRateLimited ErrKind = "rate limited"
)

// SkipReason explains why Request declined to start an attempt.
type SkipReason string

const (
	SkipNone        SkipReason = ""             // attempt admitted
	SkipNoKey       SkipReason = "no identity"  // snapshot below minimum identity
	SkipInFlight    SkipReason = "in flight"    // same key already being analyzed
	SkipBusy        SkipReason = "busy"         // another request in progress
	SkipDuplicate   SkipReason = "duplicate"    // key already the last requested
	SkipCoolingDown SkipReason = "cooling down" // server 429 cool-down not elapsed
	SkipTooSoon     SkipReason = "too soon"     // client min interval not elapsed
	SkipUnchanged   SkipReason = "unchanged"    // key already analyzed to completion
)

// Loading phase labels surfaced to the overlay. Cosmetic only.
const (
	PhaseAnalyzing = "Analyzing this listing…"
	PhaseStillAtIt = "Still working — checking the details…"
)

// State is the published analysis state, one logical analysis at a time.
// Consumers receive copies; only the Orchestrator mutates the original.
type State struct {
	Loading  bool
	Ready    bool
	Retrying bool
	Gated    bool
	Phase    string
	Err      string
	ErrKind  ErrKind
	Data     *coerce.Analysis

	Seq           uint64
	RequestedKey  string
	LastKey       string
	NextAllowedAt time.Time
	LastCallAt    time.Time

	FreeCount int
	Validated bool
}

// Store is the persisted client state consumed by the orchestrator.
// *clientstore.Store satisfies it.
type Store interface {
	Session(ctx context.Context) (*auth.Session, error)
	SetSession(ctx context.Context, s auth.Session) error
	FreeCount(ctx context.Context) (int, error)
	CountFreeAnalysis(ctx context.Context, listingKey string) (count int, counted bool, err error)
}

// TokenRefresher renews an expiring session. *auth.Client satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context, s auth.Session) (auth.Session, error)
}

// Orchestrator is the client-side analysis state machine.
type Orchestrator struct {
	cfg       Config
	backend   Backend
	store     Store
	refresher TokenRefresher
	logger    *slog.Logger
	now       func() time.Time
	onChange  func(State)

	mu         sync.Mutex
	state      State
	inflight   map[string]uint64 // key -> stamped seq
	retrySnap  *snapshot.Snapshot
	retryTimer *time.Timer
	wg         sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithClock sets a custom clock (for testing).
func WithClock(fn func() time.Time) Option { return func(o *Orchestrator) { o.now = fn } }

// WithOnChange registers a callback invoked with a state copy after every
// mutation. Called outside the orchestrator lock.
func WithOnChange(fn func(State)) Option { return func(o *Orchestrator) { o.onChange = fn } }

// New creates an orchestrator. The refresher may be nil when the host has
// no auth collaborator configured.
func New(cfg Config, backend Backend, store Store, refresher TokenRefresher, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:       cfg,
		backend:   backend,
		store:     store,
		refresher: refresher,
		logger:    slog.Default(),
		now:       time.Now,
		inflight:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(o)
	}
	if count, err := store.FreeCount(context.Background()); err == nil {
		o.state.FreeCount = count
	}
	return o
}

// State returns a copy of the current analysis state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Request evaluates the admission rules for snap and, when admitted, starts
// an asynchronous analysis attempt. force bypasses every skip rule (manual
// refresh). Returns the skip reason, or SkipNone when an attempt started.
func (o *Orchestrator) Request(ctx context.Context, snap snapshot.Snapshot, force bool) SkipReason {
	return o.request(ctx, snap, force, false)
}

func (o *Orchestrator) request(ctx context.Context, snap snapshot.Snapshot, force, retry bool) SkipReason {
	key, ok := snapshot.Key(snap)
	if !ok {
		return SkipNoKey
	}

	o.mu.Lock()
	if reason := o.admit(key, force, retry); reason != SkipNone {
		o.mu.Unlock()
		o.logger.Debug("analysis skipped", "key", key, "reason", string(reason))
		return reason
	}

	o.state.Seq++
	seq := o.state.Seq
	o.state.Loading = true
	o.state.Retrying = retry
	o.state.RequestedKey = key
	o.state.Phase = PhaseAnalyzing
	o.state.Err = ""
	o.state.ErrKind = ErrKindNone
	o.inflight[key] = seq
	o.mu.Unlock()
	o.notify()

	// Advance the loading label if the call outlives the threshold.
	time.AfterFunc(o.cfg.PhaseThreshold, func() {
		o.mu.Lock()
		changed := o.state.Seq == seq && o.state.Loading
		if changed {
			o.state.Phase = PhaseStillAtIt
		}
		o.mu.Unlock()
		if changed {
			o.notify()
		}
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, snap, key, seq)
	}()
	return SkipNone
}

// admit applies the skip rules in order. Caller holds o.mu.
func (o *Orchestrator) admit(key string, force, retry bool) SkipReason {
	if force {
		return SkipNone
	}
	if _, ok := o.inflight[key]; ok {
		return SkipInFlight
	}
	if o.state.Loading && !retry {
		return SkipBusy
	}
	if key == o.state.RequestedKey && !retry {
		return SkipDuplicate
	}
	now := o.now()
	if now.Before(o.state.NextAllowedAt) {
		return SkipCoolingDown
	}
	if !o.state.LastCallAt.IsZero() && now.Sub(o.state.LastCallAt) < o.cfg.MinInterval {
		return SkipTooSoon
	}
	if key == o.state.LastKey && (o.state.Data != nil || o.state.Err != "") {
		return SkipUnchanged
	}
	return SkipNone
}

// run executes one attempt end to end, then hands the outcome to complete.
func (o *Orchestrator) run(ctx context.Context, snap snapshot.Snapshot, key string, seq uint64) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	bearer, validated := o.resolveAuth(callCtx)

	result, err := o.backend.Analyze(callCtx, snap, bearer)
	if result != nil {
		validated = validated || result.Validated
	}
	o.complete(snap, key, seq, result, validated, err)
}

// resolveAuth loads the persisted session, refreshes it when it is about to
// expire, and asks the edge whether the identity is validated. Purely
// advisory: any failure here degrades to an unauthenticated call.
func (o *Orchestrator) resolveAuth(ctx context.Context) (bearer string, validated bool) {
	sess, err := o.store.Session(ctx)
	if err != nil || sess == nil {
		return "", false
	}

	if auth.ExpiringSoon(*sess, o.now()) && o.refresher != nil {
		refreshed, err := o.refresher.Refresh(ctx, *sess)
		if err != nil {
			o.logger.Warn("session refresh failed", "error", err)
		} else {
			if err := o.store.SetSession(ctx, refreshed); err != nil {
				o.logger.Warn("session persist failed", "error", err)
			}
			sess = &refreshed
		}
	}

	status, err := o.backend.AuthStatus(ctx, sess.AccessToken)
	if err != nil {
		o.logger.Warn("auth status check failed", "error", err)
		return sess.AccessToken, false
	}
	return sess.AccessToken, status.Validated
}

// complete resolves one attempt. Stale completions (a newer attempt has
// been stamped since) release their single-flight slot and change nothing
// else.
func (o *Orchestrator) complete(snap snapshot.Snapshot, key string, seq uint64, result *Result, validated bool, err error) {
	o.mu.Lock()

	if cur, ok := o.inflight[key]; ok && cur == seq {
		delete(o.inflight, key)
	}
	if o.state.Seq != seq {
		o.mu.Unlock()
		o.logger.Debug("stale completion discarded", "key", key, "seq", seq)
		return
	}

	now := o.now()
	o.state.Loading = false
	o.state.Retrying = false
	o.state.Phase = ""
	o.state.LastCallAt = now
	o.state.Validated = validated

	var rl *RateLimitedError
	switch {
	case errors.As(err, &rl):
		cooldown := rl.RetryAfter
		if cooldown < o.cfg.CooldownFloor {
			cooldown = o.cfg.CooldownFloor
		}
		o.state.NextAllowedAt = now.Add(cooldown)
		o.state.ErrKind = ErrKindRateLimited
		o.state.Err = fmt.Sprintf("rate limited, retrying in %s", cooldown.Round(time.Second))
		o.state.Retrying = true
		o.scheduleRetry(snap, cooldown)

	case IsTimeout(err):
		o.state.ErrKind = ErrKindTimeout
		o.state.Err = "analysis timed out"

	case err != nil:
		o.state.ErrKind = ErrKindRequest
		o.state.Err = "analysis request failed"

	case !result.Analysis.Complete():
		// Transport succeeded but the narrative is blank: the client
		// judges completeness independently of HTTP status.
		o.state.ErrKind = ErrKindIncomplete
		o.state.Err = "analysis came back incomplete"

	default:
		a := result.Analysis
		o.state.Data = &a
		o.state.Ready = true
		o.state.LastKey = key
		if !validated {
			if count, _, cerr := o.store.CountFreeAnalysis(context.Background(), key); cerr != nil {
				o.logger.Warn("free tier count failed", "error", cerr)
			} else {
				o.state.FreeCount = count
			}
		}
	}

	o.state.Gated = !o.state.Validated && o.state.FreeCount >= o.cfg.FreeLimit

	if o.state.ErrKind != ErrKindNone {
		o.logger.Info("analysis attempt failed",
			"key", key, "kind", string(o.state.ErrKind), "cached_data_kept", o.state.Data != nil)
	}
	o.mu.Unlock()
	o.notify()
}

// scheduleRetry arms a single pending retry for snap once the cool-down
// and the client spacing have both elapsed. Caller holds o.mu.
func (o *Orchestrator) scheduleRetry(snap snapshot.Snapshot, cooldown time.Duration) {
	wait := cooldown
	if o.cfg.MinInterval > wait {
		wait = o.cfg.MinInterval
	}
	wait += 250 * time.Millisecond

	s := snap
	o.retrySnap = &s
	if o.retryTimer != nil {
		o.retryTimer.Stop()
	}
	o.retryTimer = time.AfterFunc(wait, func() {
		o.mu.Lock()
		pending := o.retrySnap
		o.retrySnap = nil
		o.mu.Unlock()
		if pending != nil {
			o.request(context.Background(), *pending, false, true)
		}
	})
}

// Dismiss discards the current analysis: navigation to a new listing or an
// explicit close. In-flight completions become stale and are dropped.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	o.state.Seq++
	o.state.Loading = false
	o.state.Ready = false
	o.state.Retrying = false
	o.state.Phase = ""
	o.state.Err = ""
	o.state.ErrKind = ErrKindNone
	o.state.Data = nil
	o.state.RequestedKey = ""
	o.state.LastKey = ""
	o.retrySnap = nil
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.mu.Unlock()
	o.notify()
}

// Close stops pending timers and waits for in-flight attempts to resolve.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.retrySnap = nil
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) notify() {
	if o.onChange == nil {
		return
	}
	o.onChange(o.State())
}
