package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"ai_feed/internal/model"
)

var topicColumns = []string{
	"id", "name", "parent_id", "description", "color", "icon", "item_count", "is_ai_generated", "created_at",
}

// EnsureRootTopic returns the root topic called name, creating it if needed.
func (s *SQLite) EnsureRootTopic(ctx context.Context, name string) (*model.Topic, error) {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO topics (id, name, parent_id, created_at, updated_at)
		 VALUES (?, ?, NULL, ?, ?)`,
		uuid.NewString(), name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert root topic: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnList(topicColumns)+` FROM topics WHERE name = ? AND parent_id IS NULL`, name)
	return scanTopic(row)
}

// EnsureSubtopic returns the child of parentID called name, creating it if needed.
// The parent must itself be a root topic.
func (s *SQLite) EnsureSubtopic(ctx context.Context, parentID, name string) (*model.Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnList(topicColumns)+` FROM topics WHERE id = ?`, parentID)
	parent, err := scanTopic(row)
	if err != nil {
		return nil, fmt.Errorf("load parent topic: %w", err)
	}
	if !parent.IsRoot() {
		return nil, fmt.Errorf("subtopic %q under %q: %w", name, parent.Name, ErrTopicDepth)
	}

	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO topics (id, name, parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), name, parentID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subtopic: %w", err)
	}
	row = s.db.QueryRowContext(ctx,
		`SELECT `+columnList(topicColumns)+` FROM topics WHERE name = ? AND parent_id = ?`, name, parentID)
	return scanTopic(row)
}

// IncrementTopicCount adds one to the topic's item counter.
func (s *SQLite) IncrementTopicCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE topics SET item_count = item_count + 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("increment topic count: %w", err)
	}
	return requireAffected(res, "increment topic count")
}

// ListTopics returns root topics first, then subtopics, each ordered by name.
func (s *SQLite) ListTopics(ctx context.Context) ([]model.Topic, error) {
	query, args, err := sq.Select(topicColumns...).From("topics").
		OrderBy("parent_id IS NOT NULL", "name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build topics query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var topics []model.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

func scanTopic(row scannable) (*model.Topic, error) {
	var t model.Topic
	var parent sql.NullString
	var isAI int
	var created string
	err := row.Scan(&t.ID, &t.Name, &parent, &t.Description, &t.Color, &t.Icon, &t.ItemCount, &isAI, &created)
	if err != nil {
		return nil, fmt.Errorf("scan topic: %w", notFound(err))
	}
	if parent.Valid {
		p := parent.String
		t.ParentID = &p
	}
	t.IsAIGenerated = isAI == 1
	t.CreatedAt = parseTime(created)
	return &t, nil
}
