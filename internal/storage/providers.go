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

var providerColumns = []string{
	"id", "name", "type", "api_key", "base_url", "model", "priority", "is_active",
	"max_requests_per_minute", "current_requests", "window_reset_at", "last_request_at",
	"total_requests", "failed_requests", "options", "created_at",
}

// CreateProvider inserts a new provider and populates its ID and CreatedAt.
func (s *SQLite) CreateProvider(ctx context.Context, p *model.Provider) error {
	opts, err := encodeOptions(p.Options)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers
		     (id, name, type, api_key, base_url, model, priority, is_active, max_requests_per_minute,
		      current_requests, window_reset_at, last_request_at, total_requests, failed_requests,
		      success_rate, options, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Type), p.APIKey, p.BaseURL, p.Model, p.Priority, boolToInt(p.IsActive),
		p.MaxRequestsPerMinute, p.CurrentRequests, formatTimePtr(p.WindowResetAt), formatTimePtr(p.LastRequestAt),
		p.TotalRequests, p.FailedRequests, p.SuccessRate(), opts, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	p.CreatedAt = parseTime(formatTime(now))
	return nil
}

// UpsertProvider inserts p or updates the configuration of the provider with the same name.
// Runtime counters of an existing provider are left untouched.
func (s *SQLite) UpsertProvider(ctx context.Context, p *model.Provider) error {
	opts, err := encodeOptions(p.Options)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers
		     (id, name, type, api_key, base_url, model, priority, is_active, max_requests_per_minute,
		      options, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		     type = excluded.type,
		     api_key = excluded.api_key,
		     base_url = excluded.base_url,
		     model = excluded.model,
		     priority = excluded.priority,
		     is_active = excluded.is_active,
		     max_requests_per_minute = excluded.max_requests_per_minute,
		     options = excluded.options,
		     updated_at = excluded.updated_at`,
		uuid.NewString(), p.Name, string(p.Type), p.APIKey, p.BaseURL, p.Model, p.Priority, boolToInt(p.IsActive),
		p.MaxRequestsPerMinute, opts, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnList(providerColumns)+` FROM providers WHERE name = ?`, p.Name)
	stored, err := scanProvider(row)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// GetProvider returns the current persisted state of a provider.
func (s *SQLite) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnList(providerColumns)+` FROM providers WHERE id = ?`, id)
	return scanProvider(row)
}

// ListProviders returns every provider in selection order.
func (s *SQLite) ListProviders(ctx context.Context) ([]model.Provider, error) {
	return s.queryProviders(ctx, sq.Select(providerColumns...).From("providers").
		OrderBy("priority ASC", "success_rate DESC", "name"))
}

// ListActiveProviders returns active providers ordered by priority ascending,
// then by success rate descending.
func (s *SQLite) ListActiveProviders(ctx context.Context) ([]model.Provider, error) {
	return s.queryProviders(ctx, sq.Select(providerColumns...).From("providers").
		Where(sq.Eq{"is_active": 1}).
		OrderBy("priority ASC", "success_rate DESC", "name"))
}

// ResetProviderWindow zeroes the per-minute request counter and restarts the window at at.
func (s *SQLite) ResetProviderWindow(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET current_requests = 0, window_reset_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("reset provider window: %w", err)
	}
	return requireAffected(res, "reset provider window")
}

// RecordProviderCall applies the outcome of one call to the provider counters
// and recomputes its success rate in a single statement.
func (s *SQLite) RecordProviderCall(ctx context.Context, id string, success bool, at time.Time) error {
	failed := 0
	if !success {
		failed = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers
		 SET total_requests = total_requests + 1,
		     current_requests = current_requests + 1,
		     failed_requests = failed_requests + ?,
		     success_rate = CAST(total_requests + 1 - failed_requests - ? AS REAL) / (total_requests + 1),
		     last_request_at = ?,
		     updated_at = ?
		 WHERE id = ?`,
		failed, failed, formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("record provider call: %w", err)
	}
	return requireAffected(res, "record provider call")
}

func (s *SQLite) queryProviders(ctx context.Context, b sq.SelectBuilder) ([]model.Provider, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build providers query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

func scanProvider(row scannable) (*model.Provider, error) {
	var p model.Provider
	var typ, opts, created string
	var isActive int
	var windowReset, lastRequest sql.NullString
	err := row.Scan(&p.ID, &p.Name, &typ, &p.APIKey, &p.BaseURL, &p.Model, &p.Priority, &isActive,
		&p.MaxRequestsPerMinute, &p.CurrentRequests, &windowReset, &lastRequest,
		&p.TotalRequests, &p.FailedRequests, &opts, &created)
	if err != nil {
		return nil, fmt.Errorf("scan provider: %w", notFound(err))
	}
	p.Type = model.ProviderType(typ)
	p.IsActive = isActive == 1
	p.WindowResetAt = parseTimePtr(windowReset)
	p.LastRequestAt = parseTimePtr(lastRequest)
	p.CreatedAt = parseTime(created)
	if opts != "" && opts != "{}" {
		if err := json.Unmarshal([]byte(opts), &p.Options); err != nil {
			return nil, fmt.Errorf("decode options of provider %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodeOptions(opts model.ProviderOptions) (string, error) {
	if len(opts) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode provider options: %w", err)
	}
	return string(b), nil
}
