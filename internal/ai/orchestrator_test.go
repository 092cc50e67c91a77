package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ai_feed/internal/model"
	"ai_feed/internal/storage"
)

type adapterFunc func(ctx context.Context, req Request) (string, error)

func (f adapterFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// byModel answers with the text mapped to the request model, or fails when the
// model is not mapped.
func byModel(answers map[string]string) Registry {
	a := adapterFunc(func(_ context.Context, req Request) (string, error) {
		if text, ok := answers[req.Model]; ok {
			return text, nil
		}
		return "", errors.New(req.Model + " unavailable")
	})
	return Registry{model.ProviderOpenAI: a, model.ProviderGroq: a}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addProvider(t *testing.T, s *storage.SQLite, name, modelID string, priority, limit int) model.Provider {
	t.Helper()
	p := model.Provider{
		Name: name, Type: model.ProviderOpenAI, Model: modelID,
		Priority: priority, IsActive: true, MaxRequestsPerMinute: limit,
	}
	if err := s.CreateProvider(context.Background(), &p); err != nil {
		t.Fatalf("create provider: %v", err)
	}
	return p
}

func TestGenerateFallsBackToNextProvider(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p1 := addProvider(t, store, "primary", "broken", 1, 60)
	p2 := addProvider(t, store, "secondary", "works", 2, 60)

	var sleeps []time.Duration
	o := NewOrchestrator(store, byModel(map[string]string{"works": "answer"}), testLogger(),
		WithSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }))

	got, err := o.Generate(ctx, "prompt")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := Result{Text: "answer", ProviderID: p2.ID, ProviderName: "secondary", Round: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
	if len(sleeps) != 0 {
		t.Errorf("unexpected backoff sleeps: %v", sleeps)
	}

	type counters struct{ Total, Failed int64 }
	for _, tc := range []struct {
		id   string
		want counters
	}{
		{p1.ID, counters{1, 1}},
		{p2.ID, counters{1, 0}},
	} {
		p, err := store.GetProvider(ctx, tc.id)
		if err != nil {
			t.Fatalf("get provider: %v", err)
		}
		if diff := cmp.Diff(tc.want, counters{p.TotalRequests, p.FailedRequests}); diff != "" {
			t.Errorf("counters of %s mismatch (-want +got):\n%s", p.Name, diff)
		}
	}
}

func TestGenerateBackoffBetweenRounds(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantSleeps []time.Duration
	}{
		{name: "three rounds", maxRetries: 3, wantSleeps: []time.Duration{time.Second, 2 * time.Second}},
		{name: "four rounds", maxRetries: 4, wantSleeps: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{name: "single round", maxRetries: 1, wantSleeps: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			p1 := addProvider(t, store, "a", "down-a", 1, 1000)
			addProvider(t, store, "b", "down-b", 2, 1000)

			var sleeps []time.Duration
			o := NewOrchestrator(store, byModel(nil), testLogger(),
				WithMaxRetries(tt.maxRetries),
				WithSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }))

			_, err := o.Generate(ctx, "prompt")
			if !errors.Is(err, ErrProvidersExhausted) {
				t.Fatalf("expected ErrProvidersExhausted, got %v", err)
			}
			if diff := cmp.Diff(tt.wantSleeps, sleeps); diff != "" {
				t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
			}

			p, err := store.GetProvider(ctx, p1.ID)
			if err != nil {
				t.Fatalf("get provider: %v", err)
			}
			if p.FailedRequests != int64(tt.maxRetries) {
				t.Errorf("failed requests = %d, want %d", p.FailedRequests, tt.maxRetries)
			}
		})
	}
}

func TestGenerateExhaustedWrapsLastError(t *testing.T) {
	store := newStore(t)
	addProvider(t, store, "a", "down-a", 1, 60)
	addProvider(t, store, "b", "down-b", 2, 60)

	o := NewOrchestrator(store, byModel(nil), testLogger(), WithMaxRetries(1))
	_, err := o.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "all ai providers failed after 1 rounds: down-b unavailable"
	if diff := cmp.Diff(want, err.Error()); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateNoProviders(t *testing.T) {
	o := NewOrchestrator(newStore(t), byModel(nil), testLogger())
	if _, err := o.Generate(context.Background(), "prompt"); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestGenerateSkipsRateLimitedProvider(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	limited := addProvider(t, store, "limited", "works", 1, 0)
	open := addProvider(t, store, "open", "works", 2, 60)

	o := NewOrchestrator(store, byModel(map[string]string{"works": "ok"}), testLogger())
	got, err := o.Generate(ctx, "prompt")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.ProviderID != open.ID {
		t.Errorf("answered by %s, want %s", got.ProviderName, open.Name)
	}

	p, err := store.GetProvider(ctx, limited.ID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if p.TotalRequests != 0 {
		t.Errorf("rate limited provider must not be called, total=%d", p.TotalRequests)
	}
}

func TestGenerateUnsupportedTypeCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	odd := model.Provider{Name: "odd", Type: "cohere", Model: "x", Priority: 1, IsActive: true, MaxRequestsPerMinute: 60}
	if err := store.CreateProvider(ctx, &odd); err != nil {
		t.Fatalf("create provider: %v", err)
	}
	addProvider(t, store, "good", "works", 2, 60)

	o := NewOrchestrator(store, byModel(map[string]string{"works": "ok"}), testLogger())
	got, err := o.Generate(ctx, "prompt")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.ProviderName != "good" {
		t.Errorf("answered by %s, want good", got.ProviderName)
	}
	p, err := store.GetProvider(ctx, odd.ID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if p.FailedRequests != 1 {
		t.Errorf("failed requests = %d, want 1", p.FailedRequests)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := addProvider(t, store, "p", "m", 1, 2)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(store, clock.Now)

	for i := range 2 {
		ok, err := rl.Allow(ctx, p.ID)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("call %d should be allowed", i)
		}
		if err := store.RecordProviderCall(ctx, p.ID, true, clock.Now()); err != nil {
			t.Fatalf("record: %v", err)
		}
		clock.Advance(10 * time.Second)
	}

	ok, err := rl.Allow(ctx, p.ID)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("third call within the window must be blocked")
	}

	clock.Advance(40 * time.Second)
	ok, err = rl.Allow(ctx, p.ID)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !ok {
		t.Fatal("call after 60s must be allowed")
	}

	stored, err := store.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if stored.CurrentRequests != 0 {
		t.Errorf("current requests = %d, want 0 after reset", stored.CurrentRequests)
	}
	if stored.WindowResetAt == nil || !stored.WindowResetAt.Equal(clock.Now()) {
		t.Errorf("window reset at %v, want %v", stored.WindowResetAt, clock.Now())
	}
}

func TestTestProvider(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := addProvider(t, store, "p", "echo", 1, 60)

	var prompt string
	reg := Registry{model.ProviderOpenAI: adapterFunc(func(_ context.Context, req Request) (string, error) {
		prompt = req.Prompt
		return "OK", nil
	})}
	o := NewOrchestrator(store, reg, testLogger())

	got, err := o.TestProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("test provider: %v", err)
	}
	if got != "OK" || prompt != ProbePrompt {
		t.Errorf("got %q for prompt %q", got, prompt)
	}

	stored, err := store.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if stored.TotalRequests != 1 {
		t.Errorf("total requests = %d, want 1", stored.TotalRequests)
	}

	if _, err := o.TestProvider(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
