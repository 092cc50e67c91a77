// Package fetcher downloads feed documents and normalizes their entries.
package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	userAgent    = "AI-Feed-RSS/1.0"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml, application/feed+json;q=0.9, */*;q=0.8"
	maxBodySize  = 5 * 1024 * 1024
	maxErrorBody = 2048
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned when the feed server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Feed is a parsed feed document.
type Feed struct {
	Title       string
	Description string
	Link        string
	Entries     []Entry

	// ParseWarning is set when the parser complained but still produced entries.
	ParseWarning error
}

// Entry is a single normalized feed entry.
type Entry struct {
	GUID         string
	Title        string
	Summary      string
	Content      string
	Link         string
	Author       string
	RawPublished string
	Published    *time.Time
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads and parses the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return Parse(string(body))
}

// Parse converts a raw feed document into a Feed. A malformed document is cut
// back to its last complete entry and parsed again; the original error is kept
// in ParseWarning. Parse fails only when no entry can be recovered.
func Parse(body string) (*Feed, error) {
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		parsed = reparseComplete(body)
		if parsed == nil || len(parsed.Items) == 0 {
			return nil, fmt.Errorf("parse feed: %w", err)
		}
	}
	if parsed == nil {
		return nil, errors.New("parse feed: empty document")
	}

	feed := &Feed{
		Title:        parsed.Title,
		Description:  parsed.Description,
		Link:         parsed.Link,
		ParseWarning: err,
	}
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		feed.Entries = append(feed.Entries, entryFromItem(it))
	}
	return feed, nil
}

func entryFromItem(it *gofeed.Item) Entry {
	e := Entry{
		GUID:         strings.TrimSpace(it.GUID),
		Title:        strings.TrimSpace(it.Title),
		Summary:      it.Description,
		Content:      it.Content,
		Link:         strings.TrimSpace(it.Link),
		RawPublished: it.Published,
	}
	switch {
	case len(it.Authors) > 0 && it.Authors[0] != nil:
		e.Author = it.Authors[0].Name
	case it.Author != nil:
		e.Author = it.Author.Name
	}
	// Unparseable dates leave Published nil.
	switch {
	case it.PublishedParsed != nil:
		t := it.PublishedParsed.UTC()
		e.Published = &t
	case it.UpdatedParsed != nil:
		t := it.UpdatedParsed.UTC()
		e.Published = &t
	}
	return e
}

// DedupKey returns the deduplication key for an entry of the given source.
// Entries without a GUID are keyed by a SHA-256 digest of source, title and link.
func DedupKey(sourceID string, e Entry) string {
	if e.GUID != "" {
		return e.GUID
	}
	h := sha256.Sum256([]byte(sourceID + "|" + e.Title + "|" + e.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
