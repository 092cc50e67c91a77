// Package pipeline categorizes pending items through the AI orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ai_feed/internal/ai"
	"ai_feed/internal/model"
)

const defaultBatchSize = 10

// Store is the subset of storage used by the Categorizer.
type Store interface {
	ListPendingItems(ctx context.Context, sourceID string, limit int) ([]model.Item, error)
	MarkItemProcessing(ctx context.Context, id string, at time.Time) (bool, error)
	CompleteItem(ctx context.Context, id string, c model.Categorization, providerID, providerName string, at time.Time) (bool, error)
	FailItem(ctx context.Context, id string, at time.Time) (bool, error)
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (ai.Result, error)
}

// Taxonomy records the topic attribution of a categorized item.
type Taxonomy interface {
	Register(ctx context.Context, topic, subtopic string) error
}

// Summary counts what one batch did.
type Summary struct {
	Processed int
	Completed int
	Failed    int
	// Fallback counts completed items that got the default categorization.
	Fallback int
	// Lost counts items whose claim was reclaimed before the result was stored.
	Lost int
}

// Categorizer drives pending items of a source through the Generator.
type Categorizer struct {
	store     Store
	gen       Generator
	taxonomy  Taxonomy
	log       *slog.Logger
	batchSize int
	now       func() time.Time
}

// New creates a Categorizer that handles up to batchSize items per call.
func New(store Store, gen Generator, taxonomy Taxonomy, log *slog.Logger, batchSize int) *Categorizer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Categorizer{
		store:     store,
		gen:       gen,
		taxonomy:  taxonomy,
		log:       log,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// CategorizeSource processes one batch of pending items of sourceID, in
// insertion order and one at a time.
func (c *Categorizer) CategorizeSource(ctx context.Context, sourceID string) (Summary, error) {
	var sum Summary

	items, err := c.store.ListPendingItems(ctx, sourceID, c.batchSize)
	if err != nil {
		return sum, fmt.Errorf("list pending items: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		claimed, err := c.store.MarkItemProcessing(ctx, item.ID, c.now())
		if err != nil {
			return sum, fmt.Errorf("claim item %s: %w", item.ID, err)
		}
		if !claimed {
			continue
		}
		sum.Processed++

		res, err := c.gen.Generate(ctx, BuildPrompt(item))
		if err != nil {
			if ctx.Err() != nil {
				// Left in processing; reclaimed as stale later.
				return sum, ctx.Err()
			}
			c.log.Error("categorization failed", "item_id", item.ID, "source_id", sourceID, "error", err)
			stored, err := c.store.FailItem(ctx, item.ID, c.now())
			if err != nil {
				return sum, fmt.Errorf("fail item %s: %w", item.ID, err)
			}
			if !stored {
				c.log.Warn("claim lost, dropping failure", "item_id", item.ID, "source_id", sourceID)
				sum.Lost++
				continue
			}
			sum.Failed++
			continue
		}

		cat, err := ParseCategorization(res.Text)
		fallback := err != nil
		if fallback {
			c.log.Warn("unparseable categorization, using default", "item_id", item.ID, "provider", res.ProviderName, "error", err)
			cat = FallbackCategorization(item)
		}

		stored, err := c.store.CompleteItem(ctx, item.ID, cat, res.ProviderID, res.ProviderName, c.now())
		if err != nil {
			return sum, fmt.Errorf("complete item %s: %w", item.ID, err)
		}
		if !stored {
			// Another worker owns the item now; its result wins.
			c.log.Warn("claim lost, dropping result", "item_id", item.ID, "source_id", sourceID)
			sum.Lost++
			continue
		}
		sum.Completed++
		if fallback {
			sum.Fallback++
		}

		if err := c.taxonomy.Register(ctx, cat.Topic, cat.Subtopic); err != nil {
			c.log.Warn("register topic", "item_id", item.ID, "topic", cat.Topic, "error", err)
		}
	}

	if sum.Processed > 0 {
		c.log.Info("categorized batch", "source_id", sourceID,
			"completed", sum.Completed, "failed", sum.Failed, "fallback", sum.Fallback, "lost", sum.Lost)
	}
	return sum, nil
}
