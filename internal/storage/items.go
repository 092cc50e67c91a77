package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"ai_feed/internal/model"
)

var itemColumns = []string{
	"id", "source_id", "title", "description", "content", "url", "dedup_key", "author", "published_at",
	"ai_summary", "ai_topic", "ai_subtopic", "ai_tags", "ai_sentiment", "ai_importance",
	"status", "status_changed_at", "processed_at", "provider_id", "provider_name",
	"is_read", "is_bookmarked", "created_at",
}

// ItemExists reports whether an item with dedupKey was already stored for the source.
func (s *SQLite) ItemExists(ctx context.Context, sourceID, dedupKey string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE source_id = ? AND dedup_key = ?`,
		sourceID, dedupKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check item: %w", err)
	}
	return count > 0, nil
}

// CreateItem inserts a new pending item. It returns false without error when
// the (source, dedup key) pair already exists.
func (s *SQLite) CreateItem(ctx context.Context, item *model.Item) (bool, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items
		     (id, source_id, title, description, content, url, dedup_key, author, published_at,
		      status, status_changed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, item.SourceID, item.Title, item.Description, item.Content, item.URL, item.DedupKey, item.Author,
		formatTimePtr(item.PublishedAt), string(model.StatusPending), formatTime(now), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	item.ID = id
	item.Status = model.StatusPending
	item.StatusChangedAt = parseTime(formatTime(now))
	item.CreatedAt = item.StatusChangedAt
	return true, nil
}

// GetItem returns a single item by its ID.
func (s *SQLite) GetItem(ctx context.Context, id string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnList(itemColumns)+` FROM items WHERE id = ?`, id)
	return scanItem(row)
}

// ListItems returns all items of a source in insertion order.
func (s *SQLite) ListItems(ctx context.Context, sourceID string) ([]model.Item, error) {
	return s.queryItems(ctx, sq.Select(itemColumns...).From("items").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("rowid"))
}

// ListPendingItems returns up to limit pending items of a source in insertion order.
func (s *SQLite) ListPendingItems(ctx context.Context, sourceID string, limit int) ([]model.Item, error) {
	b := sq.Select(itemColumns...).From("items").
		Where(sq.Eq{"source_id": sourceID, "status": string(model.StatusPending)}).
		OrderBy("rowid")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryItems(ctx, b)
}

// CountItems counts items of a source; an empty status counts all of them.
func (s *SQLite) CountItems(ctx context.Context, sourceID string, status model.ProcessingStatus) (int, error) {
	where := sq.Eq{"source_id": sourceID}
	if status != "" {
		where["status"] = string(status)
	}
	query, args, err := sq.Select("COUNT(*)").From("items").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// MarkItemProcessing moves a pending item to processing. It returns false when
// the item was not pending anymore.
func (s *SQLite) MarkItemProcessing(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, status_changed_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusProcessing), formatTime(at), id, string(model.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processing rows affected: %w", err)
	}
	return n > 0, nil
}

// CompleteItem stores the categorization result and marks the item completed.
// It returns false when the item is no longer in processing, which means the
// claim was reclaimed as stale and possibly finished by another worker.
func (s *SQLite) CompleteItem(ctx context.Context, id string, c model.Categorization, providerID, providerName string, at time.Time) (bool, error) {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return false, fmt.Errorf("encode tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items
		 SET ai_summary = ?, ai_topic = ?, ai_subtopic = ?, ai_tags = ?, ai_sentiment = ?, ai_importance = ?,
		     status = ?, status_changed_at = ?, processed_at = ?, provider_id = ?, provider_name = ?
		 WHERE id = ? AND status = ?`,
		c.Summary, c.Topic, c.Subtopic, string(encoded), string(c.Sentiment), c.Importance,
		string(model.StatusCompleted), formatTime(at), formatTime(at), providerID, providerName,
		id, string(model.StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("complete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete item rows affected: %w", err)
	}
	return n > 0, nil
}

// FailItem marks a processing item whose categorization could not be produced.
// Like CompleteItem it returns false when the claim was lost.
func (s *SQLite) FailItem(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, status_changed_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusFailed), formatTime(at), id, string(model.StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("fail item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail item rows affected: %w", err)
	}
	return n > 0, nil
}

// ReclaimStaleProcessing returns items stuck in processing since before cutoff to pending.
func (s *SQLite) ReclaimStaleProcessing(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, status_changed_at = ?
		 WHERE status = ? AND status_changed_at < ?`,
		string(model.StatusPending), formatTime(at), string(model.StatusProcessing), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) queryItems(ctx context.Context, b sq.SelectBuilder) ([]model.Item, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var published, processed sql.NullString
	var tags, sentiment, status, statusChanged, created string
	var isRead, isBookmarked int
	err := row.Scan(&it.ID, &it.SourceID, &it.Title, &it.Description, &it.Content, &it.URL, &it.DedupKey,
		&it.Author, &published,
		&it.Summary, &it.Topic, &it.Subtopic, &tags, &sentiment, &it.Importance,
		&status, &statusChanged, &processed, &it.ProviderID, &it.ProviderName,
		&isRead, &isBookmarked, &created)
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", notFound(err))
	}
	if tags != "" && tags != "[]" {
		if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of item %s: %w", it.ID, err)
		}
	}
	it.Sentiment = model.Sentiment(sentiment)
	it.Status = model.ProcessingStatus(status)
	it.PublishedAt = parseTimePtr(published)
	it.ProcessedAt = parseTimePtr(processed)
	it.StatusChangedAt = parseTime(statusChanged)
	it.CreatedAt = parseTime(created)
	it.IsRead = isRead == 1
	it.IsBookmarked = isBookmarked == 1
	return &it, nil
}
