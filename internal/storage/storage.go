// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"ai_feed/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrTopicDepth is returned when a subtopic would be nested under another subtopic.
var ErrTopicDepth = errors.New("topic nesting deeper than two levels")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSource(ctx context.Context, src *model.Source) error
	UpsertSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)
	ListActiveSources(ctx context.Context) ([]model.Source, error)
	RecordFetchSuccess(ctx context.Context, id string, at time.Time, siteName string, newItems int) error
	RecordFetchError(ctx context.Context, id string, at time.Time, msg string) error

	ItemExists(ctx context.Context, sourceID, dedupKey string) (bool, error)
	CreateItem(ctx context.Context, item *model.Item) (bool, error)
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, sourceID string) ([]model.Item, error)
	ListPendingItems(ctx context.Context, sourceID string, limit int) ([]model.Item, error)
	CountItems(ctx context.Context, sourceID string, status model.ProcessingStatus) (int, error)
	MarkItemProcessing(ctx context.Context, id string, at time.Time) (bool, error)
	CompleteItem(ctx context.Context, id string, c model.Categorization, providerID, providerName string, at time.Time) (bool, error)
	FailItem(ctx context.Context, id string, at time.Time) (bool, error)
	ReclaimStaleProcessing(ctx context.Context, cutoff, at time.Time) (int64, error)

	CreateProvider(ctx context.Context, p *model.Provider) error
	UpsertProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	ListProviders(ctx context.Context) ([]model.Provider, error)
	ListActiveProviders(ctx context.Context) ([]model.Provider, error)
	ResetProviderWindow(ctx context.Context, id string, at time.Time) error
	RecordProviderCall(ctx context.Context, id string, success bool, at time.Time) error

	EnsureRootTopic(ctx context.Context, name string) (*model.Topic, error)
	EnsureSubtopic(ctx context.Context, parentID, name string) (*model.Topic, error)
	IncrementTopicCount(ctx context.Context, id string) error
	ListTopics(ctx context.Context) ([]model.Topic, error)

	Stats(ctx context.Context) (model.ProcessingStats, error)

	Close() error
}
