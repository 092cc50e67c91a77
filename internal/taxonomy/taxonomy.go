// Package taxonomy maintains the two-level topic tree attached to items.
package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"ai_feed/internal/model"
)

// Store is the subset of storage used by the Manager.
type Store interface {
	EnsureRootTopic(ctx context.Context, name string) (*model.Topic, error)
	EnsureSubtopic(ctx context.Context, parentID, name string) (*model.Topic, error)
	IncrementTopicCount(ctx context.Context, id string) error
}

// Manager gets or creates topics and counts the items attributed to them.
type Manager struct {
	store Store
}

// New creates a Manager.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// Register attributes one item to topic and, when it is set and differs from
// topic, to subtopic under it. Both nodes are created on first use.
func (m *Manager) Register(ctx context.Context, topic, subtopic string) error {
	topic = strings.TrimSpace(topic)
	subtopic = strings.TrimSpace(subtopic)
	if topic == "" {
		return nil
	}

	root, err := m.store.EnsureRootTopic(ctx, topic)
	if err != nil {
		return fmt.Errorf("ensure topic %q: %w", topic, err)
	}
	if err := m.store.IncrementTopicCount(ctx, root.ID); err != nil {
		return fmt.Errorf("count topic %q: %w", topic, err)
	}

	if subtopic == "" || subtopic == topic {
		return nil
	}
	child, err := m.store.EnsureSubtopic(ctx, root.ID, subtopic)
	if err != nil {
		return fmt.Errorf("ensure subtopic %q: %w", subtopic, err)
	}
	if err := m.store.IncrementTopicCount(ctx, child.ID); err != nil {
		return fmt.Errorf("count subtopic %q: %w", subtopic, err)
	}
	return nil
}
