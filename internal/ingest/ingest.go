// Package ingest turns fetched feed entries into stored items.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"ai_feed/internal/fetcher"
	"ai_feed/internal/model"
)

// FeedFetcher retrieves and parses one feed document.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Feed, error)
}

// ItemStore is the subset of storage used while persisting entries.
type ItemStore interface {
	ItemExists(ctx context.Context, sourceID, dedupKey string) (bool, error)
	CreateItem(ctx context.Context, item *model.Item) (bool, error)
}

// Store is the subset of storage used by the Ingester.
type Store interface {
	ItemStore
	RecordFetchSuccess(ctx context.Context, id string, at time.Time, siteName string, newItems int) error
}

// Deduplicator stores entries that were not seen before for their source.
type Deduplicator struct {
	store ItemStore
	log   *slog.Logger
}

// NewDeduplicator creates a Deduplicator.
func NewDeduplicator(store ItemStore, log *slog.Logger) *Deduplicator {
	return &Deduplicator{store: store, log: log}
}

// Persist stores the new entries of sourceID in feed order and returns how many were created.
// Known entries are skipped silently; a failing entry is logged and skipped.
func (d *Deduplicator) Persist(ctx context.Context, sourceID string, entries []fetcher.Entry) (int, error) {
	created := 0
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := d.persistOne(ctx, sourceID, &entries[i])
		if err != nil {
			d.log.Warn("skip entry", "source_id", sourceID, "index", i, "title", entries[i].Title, "error", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (d *Deduplicator) persistOne(ctx context.Context, sourceID string, e *fetcher.Entry) (created bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if e.Title == "" && e.Link == "" && e.GUID == "" {
		return false, fmt.Errorf("entry has no title, link or id")
	}

	key := fetcher.DedupKey(sourceID, *e)
	exists, err := d.store.ItemExists(ctx, sourceID, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	item := model.Item{
		SourceID:    sourceID,
		Title:       e.Title,
		Description: e.Summary,
		Content:     e.Content,
		URL:         e.Link,
		DedupKey:    key,
		Author:      e.Author,
		PublishedAt: e.Published,
	}
	return d.store.CreateItem(ctx, &item)
}

// Ingester fetches one source and persists its new entries.
type Ingester struct {
	store   Store
	fetcher FeedFetcher
	dedup   *Deduplicator
	log     *slog.Logger
	now     func() time.Time
}

// NewIngester creates an Ingester.
func NewIngester(store Store, f FeedFetcher, log *slog.Logger) *Ingester {
	return &Ingester{
		store:   store,
		fetcher: f,
		dedup:   NewDeduplicator(store, log),
		log:     log,
		now:     time.Now,
	}
}

// IngestSource fetches src, stores its new items and records the successful fetch.
// Fetch errors are returned untouched so the caller can record them against the source.
func (in *Ingester) IngestSource(ctx context.Context, src model.Source) (int, error) {
	feed, err := in.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	if feed.ParseWarning != nil {
		in.log.Warn("feed parsed with warnings", "source_id", src.ID, "entries", len(feed.Entries), "error", feed.ParseWarning)
	}

	created, err := in.dedup.Persist(ctx, src.ID, feed.Entries)
	if err != nil {
		return created, fmt.Errorf("persist entries: %w", err)
	}

	if err := in.store.RecordFetchSuccess(ctx, src.ID, in.now(), SiteName(src.URL), created); err != nil {
		return created, fmt.Errorf("record fetch: %w", err)
	}

	in.log.Info("source ingested", "source_id", src.ID, "entries", len(feed.Entries), "new", created)
	return created, nil
}

// SiteName derives a display name from a feed URL: the label before the
// public suffix, capitalized ("https://www.example.com/rss" gives "Example").
func SiteName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "Unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	labels := strings.Split(host, ".")
	name := labels[0]
	if len(labels) >= 2 {
		name = labels[len(labels)-2]
	}
	if name == "" {
		return "Unknown"
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
