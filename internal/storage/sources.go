package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"ai_feed/internal/model"
)

var sourceColumns = []string{
	"id", "name", "url", "site_name", "is_active", "fetch_interval_seconds",
	"last_fetched_at", "last_error", "last_error_at", "total_items", "created_at",
}

// CreateSource inserts a new source and populates its ID and CreatedAt.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC()
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, url, site_name, is_active, fetch_interval_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.Name, src.URL, src.SiteName, boolToInt(src.IsActive), src.FetchIntervalSeconds,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	src.CreatedAt = parseTime(formatTime(now))
	return nil
}

// UpsertSource inserts src or updates the configuration of the source with the same URL.
// Fetch state and counters of an existing source are left untouched.
func (s *SQLite) UpsertSource(ctx context.Context, src *model.Source) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, url, site_name, is_active, fetch_interval_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET
		     name = excluded.name,
		     is_active = excluded.is_active,
		     fetch_interval_seconds = excluded.fetch_interval_seconds,
		     updated_at = excluded.updated_at`,
		uuid.NewString(), src.Name, src.URL, src.SiteName, boolToInt(src.IsActive), src.FetchIntervalSeconds, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnList(sourceColumns)+` FROM sources WHERE url = ?`, src.URL)
	stored, err := scanSource(row)
	if err != nil {
		return err
	}
	*src = *stored
	return nil
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnList(sourceColumns)+` FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// ListSources returns every source ordered by creation.
func (s *SQLite) ListSources(ctx context.Context) ([]model.Source, error) {
	return s.querySources(ctx, sq.Select(sourceColumns...).From("sources").OrderBy("created_at", "id"))
}

// ListActiveSources returns all sources with the activity flag set.
func (s *SQLite) ListActiveSources(ctx context.Context) ([]model.Source, error) {
	return s.querySources(ctx, sq.Select(sourceColumns...).From("sources").
		Where(sq.Eq{"is_active": 1}).
		OrderBy("created_at", "id"))
}

// RecordFetchSuccess stamps a successful fetch, clears the last error, and adds newItems to the item counter.
func (s *SQLite) RecordFetchSuccess(ctx context.Context, id string, at time.Time, siteName string, newItems int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources
		 SET last_fetched_at = ?, last_error = '', last_error_at = NULL,
		     site_name = CASE WHEN site_name = '' THEN ? ELSE site_name END,
		     total_items = total_items + ?, updated_at = ?
		 WHERE id = ?`,
		formatTime(at), siteName, newItems, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("record fetch success: %w", err)
	}
	return requireAffected(res, "record fetch success")
}

// RecordFetchError stores the error text of a failed fetch attempt.
func (s *SQLite) RecordFetchError(ctx context.Context, id string, at time.Time, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_error = ?, last_error_at = ?, updated_at = ? WHERE id = ?`,
		msg, formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("record fetch error: %w", err)
	}
	return requireAffected(res, "record fetch error")
}

func (s *SQLite) querySources(ctx context.Context, b sq.SelectBuilder) ([]model.Source, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var isActive int
	var lastFetched, lastErrorAt sql.NullString
	var created string
	err := row.Scan(&src.ID, &src.Name, &src.URL, &src.SiteName, &isActive, &src.FetchIntervalSeconds,
		&lastFetched, &src.LastError, &lastErrorAt, &src.TotalItems, &created)
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", notFound(err))
	}
	src.IsActive = isActive == 1
	src.LastFetchedAt = parseTimePtr(lastFetched)
	src.LastErrorAt = parseTimePtr(lastErrorAt)
	src.CreatedAt = parseTime(created)
	return &src, nil
}

func columnList(cols []string) string {
	return strings.Join(cols, ", ")
}
