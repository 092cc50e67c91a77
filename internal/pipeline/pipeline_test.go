package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ai_feed/internal/ai"
	"ai_feed/internal/model"
	"ai_feed/internal/storage"
	"ai_feed/internal/taxonomy"
)

type stubGenerator struct {
	text    string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (ai.Result, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return ai.Result{}, g.err
	}
	return ai.Result{Text: g.text, ProviderID: "prov-1", ProviderName: "stub", Round: 1}, nil
}

// handoffGenerator runs takeover before answering the first prompt, standing
// in for a worker that gets its claim reclaimed while the provider is slow.
type handoffGenerator struct {
	stubGenerator
	takeover func()
}

func (g *handoffGenerator) Generate(ctx context.Context, prompt string) (ai.Result, error) {
	if g.takeover != nil {
		g.takeover()
		g.takeover = nil
	}
	return g.stubGenerator.Generate(ctx, prompt)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, n int) (*storage.SQLite, model.Source) {
	t.Helper()
	ctx := context.Background()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	src := model.Source{Name: "Feed", URL: "https://example.com/rss", IsActive: true, FetchIntervalSeconds: 3600}
	if err := s.CreateSource(ctx, &src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	for i := range n {
		item := model.Item{
			SourceID:    src.ID,
			Title:       "Item " + string(rune('a'+i)),
			Description: strings.Repeat("d", 250),
			DedupKey:    string(rune('a' + i)),
		}
		if _, err := s.CreateItem(ctx, &item); err != nil {
			t.Fatalf("create item: %v", err)
		}
	}
	return s, src
}

var ignoreItemMeta = cmpopts.IgnoreFields(model.Item{},
	"ID", "SourceID", "Title", "Description", "DedupKey", "CreatedAt", "StatusChangedAt", "ProcessedAt")

func TestCategorizeSourceWithValidAnswer(t *testing.T) {
	ctx := context.Background()
	store, src := setup(t, 2)
	gen := &stubGenerator{text: `{"topic":"Tech","subtopic":"AI","tags":["llm","go"],"sentiment":"Positive","importance_score":0.9,"summary":"Short."}`}
	c := New(store, gen, taxonomy.New(store), testLogger(), 10)

	sum, err := c.CategorizeSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("categorize: %v", err)
	}
	if diff := cmp.Diff(Summary{Processed: 2, Completed: 2}, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	items, err := store.ListItems(ctx, src.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	want := model.Item{
		Summary: "Short.", Topic: "Tech", Subtopic: "AI", Tags: []string{"llm", "go"},
		Sentiment: model.SentimentPositive, Importance: 0.9, Status: model.StatusCompleted,
		ProviderID: "prov-1", ProviderName: "stub",
	}
	for _, it := range items {
		if diff := cmp.Diff(want, it, ignoreItemMeta); diff != "" {
			t.Errorf("item %s mismatch (-want +got):\n%s", it.Title, diff)
		}
		if it.ProcessedAt == nil {
			t.Errorf("item %s has no ProcessedAt", it.Title)
		}
	}

	topics, err := store.ListTopics(ctx)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	counts := map[string]int{}
	for _, tp := range topics {
		counts[tp.Name] = tp.ItemCount
	}
	if diff := cmp.Diff(map[string]int{"Tech": 2, "AI": 2}, counts); diff != "" {
		t.Errorf("topic counts mismatch (-want +got):\n%s", diff)
	}
}

func TestCategorizeSourceFallsBackOnInvalidJSON(t *testing.T) {
	ctx := context.Background()
	store, src := setup(t, 1)
	c := New(store, &stubGenerator{text: "not json"}, taxonomy.New(store), testLogger(), 10)

	sum, err := c.CategorizeSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("categorize: %v", err)
	}
	if diff := cmp.Diff(Summary{Processed: 1, Completed: 1, Fallback: 1}, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	items, err := store.ListItems(ctx, src.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	want := model.Item{
		Summary: strings.Repeat("d", 200) + "...", Topic: "General", Subtopic: "Uncategorized",
		Tags: []string{"rss", "feed"}, Sentiment: model.SentimentNeutral, Importance: 0.5,
		Status: model.StatusCompleted, ProviderID: "prov-1", ProviderName: "stub",
	}
	if diff := cmp.Diff(want, items[0], ignoreItemMeta); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}
}

func TestCategorizeSourceMarksFailedOnExhaustion(t *testing.T) {
	ctx := context.Background()
	store, src := setup(t, 2)
	gen := &stubGenerator{err: ai.ErrProvidersExhausted}
	c := New(store, gen, taxonomy.New(store), testLogger(), 10)

	sum, err := c.CategorizeSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("categorize: %v", err)
	}
	if diff := cmp.Diff(Summary{Processed: 2, Failed: 2}, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	n, err := store.CountItems(ctx, src.ID, model.StatusFailed)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("failed items = %d, want 2", n)
	}

	items, err := store.ListItems(ctx, src.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if items[0].Topic != "" || items[0].ProcessedAt != nil {
		t.Errorf("failed item must not carry AI fields: %+v", items[0])
	}

	// Failed items are not picked up again.
	sum, err = c.CategorizeSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("categorize again: %v", err)
	}
	if sum.Processed != 0 {
		t.Errorf("processed %d failed items again", sum.Processed)
	}
}

func TestCategorizeSourceRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	store, src := setup(t, 3)
	gen := &stubGenerator{text: `{"topic":"Tech"}`}
	c := New(store, gen, taxonomy.New(store), testLogger(), 2)

	sum, err := c.CategorizeSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("categorize: %v", err)
	}
	if sum.Completed != 2 {
		t.Errorf("completed = %d, want 2", sum.Completed)
	}
	if !strings.Contains(gen.prompts[0], "TITLE: Item a") || !strings.Contains(gen.prompts[1], "TITLE: Item b") {
		t.Errorf("items not processed in insertion order: %q", gen.prompts)
	}

	n, err := store.CountItems(ctx, src.ID, model.StatusPending)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestCategorizeSourceStopsOnCancel(t *testing.T) {
	store, src := setup(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(store, &stubGenerator{text: "{}"}, taxonomy.New(store), testLogger(), 10)
	_, err := c.CategorizeSource(ctx, src.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCategorizeSourceDropsResultAfterReclaim(t *testing.T) {
	tests := []struct {
		name string
		slow stubGenerator
	}{
		{name: "late completion", slow: stubGenerator{text: `{"topic":"Slow","subtopic":"Late"}`}},
		{name: "late failure", slow: stubGenerator{err: ai.ErrProvidersExhausted}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, src := setup(t, 1)
			tax := taxonomy.New(store)

			fast := New(store, &stubGenerator{text: `{"topic":"Fast","subtopic":"Winner"}`}, tax, testLogger(), 10)
			gen := &handoffGenerator{stubGenerator: tt.slow}
			gen.takeover = func() {
				if _, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(time.Hour), time.Now()); err != nil {
					t.Fatalf("reclaim: %v", err)
				}
				sum, err := fast.CategorizeSource(ctx, src.ID)
				if err != nil || sum.Completed != 1 {
					t.Fatalf("second worker: sum=%+v err=%v", sum, err)
				}
			}
			slow := New(store, gen, tax, testLogger(), 10)

			sum, err := slow.CategorizeSource(ctx, src.ID)
			if err != nil {
				t.Fatalf("categorize: %v", err)
			}
			if diff := cmp.Diff(Summary{Processed: 1, Lost: 1}, sum); diff != "" {
				t.Errorf("summary mismatch (-want +got):\n%s", diff)
			}

			items, err := store.ListItems(ctx, src.ID)
			if err != nil {
				t.Fatalf("list items: %v", err)
			}
			if items[0].Status != model.StatusCompleted || items[0].Topic != "Fast" {
				t.Errorf("item = %s/%s, want completed/Fast", items[0].Status, items[0].Topic)
			}

			topics, err := store.ListTopics(ctx)
			if err != nil {
				t.Fatalf("list topics: %v", err)
			}
			counts := map[string]int{}
			for _, tp := range topics {
				counts[tp.Name] = tp.ItemCount
			}
			if diff := cmp.Diff(map[string]int{"Fast": 1, "Winner": 1}, counts); diff != "" {
				t.Errorf("topic counts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCategorization(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    model.Categorization
		wantErr bool
	}{
		{
			name: "full object",
			in:   `{"topic":"Science","subtopic":"Space","tags":["nasa"],"sentiment":"negative","importance_score":0.3,"summary":"S"}`,
			want: model.Categorization{Topic: "Science", Subtopic: "Space", Tags: []string{"nasa"},
				Sentiment: model.SentimentNegative, Importance: 0.3, Summary: "S"},
		},
		{
			name: "code fence",
			in:   "```json\n{\"topic\":\"Tech\",\"importance_score\":1.7}\n```",
			want: model.Categorization{Topic: "Tech", Sentiment: model.SentimentNeutral, Importance: 1},
		},
		{
			name: "defaults",
			in:   `{"sentiment":"ecstatic","tags":[" ", "x"]}`,
			want: model.Categorization{Topic: "General", Tags: []string{"x"}, Sentiment: model.SentimentNeutral, Importance: 0.5},
		},
		{name: "plain text", in: "not json", wantErr: true},
		{name: "prose around json", in: `Sure! {"topic":"Tech"}`, wantErr: true},
		{name: "array", in: `[{"topic":"Tech"}]`, wantErr: true},
		{name: "wrong type", in: `{"importance_score":"high"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCategorization(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseCategorization mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	item := model.Item{
		Title:       "Big <em>news</em>",
		Description: "<p>Short description</p>",
		Content:     "<div>" + strings.Repeat("c", 600) + "</div>",
	}
	got := BuildPrompt(item)

	for _, want := range []string{
		"TITLE: Big news\n",
		"DESCRIPTION: Short description\n",
		"CONTENT: " + strings.Repeat("c", 500) + "...\n",
		`"importance_score": 0.8`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, strings.Repeat("c", 501)) {
		t.Error("prompt body not truncated")
	}
}

func TestBuildPromptWithoutBody(t *testing.T) {
	got := BuildPrompt(model.Item{Title: "Headline", Description: "<p>Only a teaser</p>"})
	if !strings.Contains(got, "CONTENT: \n") {
		t.Errorf("expected empty content line:\n%s", got)
	}
	if n := strings.Count(got, "Only a teaser"); n != 1 {
		t.Errorf("description appears %d times in prompt, want 1:\n%s", n, got)
	}
}

func TestFallbackCategorizationShortDescription(t *testing.T) {
	got := FallbackCategorization(model.Item{Description: "tiny"})
	want := model.Categorization{
		Topic: "General", Subtopic: "Uncategorized", Tags: []string{"rss", "feed"},
		Sentiment: model.SentimentNeutral, Importance: 0.5, Summary: "tiny",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FallbackCategorization mismatch (-want +got):\n%s", diff)
	}
}
