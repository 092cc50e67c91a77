package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai_feed/internal/model"
)

// ProbePrompt is sent by TestProvider.
const ProbePrompt = "Reply only with 'OK' if you can understand me."

const defaultMaxRetries = 3

// Store is the subset of storage used by the Orchestrator.
type Store interface {
	WindowStore
	ListActiveProviders(ctx context.Context) ([]model.Provider, error)
	RecordProviderCall(ctx context.Context, id string, success bool, at time.Time) error
}

// Result is a successful generation.
type Result struct {
	Text         string
	ProviderID   string
	ProviderName string
	// Round is the 1-based fallback round that produced the answer.
	Round int
}

// Orchestrator generates text with the best available provider, falling back
// to the next one on failure and retrying whole rounds with exponential backoff.
type Orchestrator struct {
	store      Store
	registry   Registry
	limiter    *RateLimiter
	log        *slog.Logger
	maxRetries int
	sleeper    func(time.Duration)
	now        func() time.Time
}

// Option customizes the Orchestrator.
type Option func(*Orchestrator)

// WithMaxRetries sets the number of fallback rounds (defaults to 3).
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		o.maxRetries = n
	}
}

// WithSleeper overrides how backoff sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(o *Orchestrator) {
		o.sleeper = sleeper
	}
}

// WithClock overrides the time source used for rate windows and stats.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store Store, registry Registry, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		registry:   registry,
		log:        log,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxRetries <= 0 {
		o.maxRetries = 1
	}
	o.limiter = NewRateLimiter(store, o.now)
	return o
}

// Generate returns the first successful answer to prompt. Providers are tried
// by priority, then success rate; rate-limited ones are skipped. After a round
// without success it sleeps 2^round seconds unless it was the last round.
func (o *Orchestrator) Generate(ctx context.Context, prompt string) (Result, error) {
	providers, err := o.store.ListActiveProviders(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list providers: %w", err)
	}
	if len(providers) == 0 {
		return Result{}, ErrNoProviders
	}

	var lastErr error
	for round := range o.maxRetries {
		for _, p := range providers {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}

			allowed, err := o.limiter.Allow(ctx, p.ID)
			if err != nil {
				o.log.Warn("rate limit check failed", "provider", p.Name, "error", err)
				lastErr = err
				continue
			}
			if !allowed {
				o.log.Warn("provider rate limited, skipping", "provider", p.Name)
				continue
			}

			o.log.Debug("calling provider", "provider", p.Name, "round", round+1)
			text, err := o.call(ctx, p, prompt)
			if err != nil {
				o.log.Warn("provider failed", "provider", p.Name, "round", round+1, "error", err)
				lastErr = err
				continue
			}
			return Result{Text: text, ProviderID: p.ID, ProviderName: p.Name, Round: round + 1}, nil
		}

		if round < o.maxRetries-1 {
			if err := o.sleep(ctx, time.Duration(1<<round)*time.Second); err != nil {
				return Result{}, err
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("every provider was rate limited")
	}
	return Result{}, fmt.Errorf("%w after %d rounds: %w", ErrProvidersExhausted, o.maxRetries, lastErr)
}

// TestProvider sends ProbePrompt to a single provider, bypassing fallback and
// rate limiting. The call is recorded in the provider stats.
func (o *Orchestrator) TestProvider(ctx context.Context, id string) (string, error) {
	p, err := o.store.GetProvider(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load provider: %w", err)
	}
	return o.call(ctx, *p, ProbePrompt)
}

func (o *Orchestrator) call(ctx context.Context, p model.Provider, prompt string) (string, error) {
	text, err := o.dispatch(ctx, p, prompt)
	if statsErr := o.store.RecordProviderCall(ctx, p.ID, err == nil, o.now()); statsErr != nil {
		o.log.Error("record provider call", "provider", p.Name, "error", statsErr)
	}
	return text, err
}

func (o *Orchestrator) dispatch(ctx context.Context, p model.Provider, prompt string) (string, error) {
	adapter, err := o.registry.Lookup(p.Type)
	if err != nil {
		return "", err
	}
	return adapter.Generate(ctx, Request{
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Prompt:  prompt,
		Options: p.Options,
	})
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.sleeper != nil {
		o.sleeper(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
