// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// Source represents a syndication feed that is polled for new items.
type Source struct {
	ID                   string
	Name                 string
	URL                  string
	SiteName             string
	IsActive             bool
	FetchIntervalSeconds int
	LastFetchedAt        *time.Time
	LastError            string
	LastErrorAt          *time.Time
	TotalItems           int
	CreatedAt            time.Time
}

// FetchInterval returns the polling interval as a duration.
func (s Source) FetchInterval() time.Duration {
	return time.Duration(s.FetchIntervalSeconds) * time.Second
}

// IsDue reports whether the source should be fetched at now.
// A source is due when it is active and was never fetched or its interval has elapsed.
func (s Source) IsDue(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.LastFetchedAt == nil {
		return true
	}
	return now.Sub(*s.LastFetchedAt) >= s.FetchInterval()
}

// ProcessingStatus tracks where an item is in the categorization lifecycle.
type ProcessingStatus string

// Supported processing statuses.
const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Sentiment is the tone assigned to an item.
type Sentiment string

// Supported sentiments.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment normalizes s, mapping anything unknown to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Item is one normalized entry ingested from a source.
type Item struct {
	ID          string
	SourceID    string
	Title       string
	Description string
	Content     string
	URL         string
	DedupKey    string
	Author      string
	PublishedAt *time.Time

	Summary         string
	Topic           string
	Subtopic        string
	Tags            []string
	Sentiment       Sentiment
	Importance      float64
	Status          ProcessingStatus
	StatusChangedAt time.Time
	ProcessedAt     *time.Time
	ProviderID      string
	ProviderName    string

	IsRead       bool
	IsBookmarked bool
	CreatedAt    time.Time
}

// Categorization is the structured result attached to an item.
type Categorization struct {
	Topic      string    `json:"topic"`
	Subtopic   string    `json:"subtopic"`
	Tags       []string  `json:"tags"`
	Sentiment  Sentiment `json:"sentiment"`
	Importance float64   `json:"importance_score"`
	Summary    string    `json:"summary"`
}

// Topic is a node of the two-level taxonomy. Root topics have a nil ParentID.
type Topic struct {
	ID            string
	Name          string
	ParentID      *string
	Description   string
	Color         string
	Icon          string
	ItemCount     int
	IsAIGenerated bool
	CreatedAt     time.Time
}

// IsRoot reports whether the topic sits at the top of the taxonomy.
func (t Topic) IsRoot() bool {
	return t.ParentID == nil
}
