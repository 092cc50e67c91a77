package model

import "time"

// ProviderType selects the wire protocol used to talk to a backend.
type ProviderType string

// Supported provider types.
const (
	ProviderOpenAI      ProviderType = "openai"
	ProviderGroq        ProviderType = "groq"
	ProviderHuggingFace ProviderType = "huggingface"
	ProviderAnthropic   ProviderType = "anthropic"
)

// Valid reports whether t is one of the supported provider types.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderOpenAI, ProviderGroq, ProviderHuggingFace, ProviderAnthropic:
		return true
	}
	return false
}

// Provider is a configured AI text-generation backend.
type Provider struct {
	ID                   string
	Name                 string
	Type                 ProviderType
	APIKey               string
	BaseURL              string
	Model                string
	Priority             int
	IsActive             bool
	MaxRequestsPerMinute int

	CurrentRequests int
	WindowResetAt   *time.Time
	LastRequestAt   *time.Time
	TotalRequests   int64
	FailedRequests  int64

	Options   ProviderOptions
	CreatedAt time.Time
}

// SuccessRate returns (total - failed) / total, or 1 when nothing was requested yet.
func (p Provider) SuccessRate() float64 {
	return SuccessRate(p.TotalRequests, p.FailedRequests)
}

// SuccessRate computes the reliability ratio for the given counters.
func SuccessRate(total, failed int64) float64 {
	if total <= 0 {
		return 1
	}
	return float64(total-failed) / float64(total)
}

// ProviderOptions holds free-form backend-specific settings.
type ProviderOptions map[string]any

// Float returns the numeric option key, or def when missing or not a number.
func (o ProviderOptions) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int returns the integer option key, or def when missing or not a number.
func (o ProviderOptions) Int(key string, def int) int {
	switch v := o[key].(type) {
	case float64:
		return int(v)
	case float32:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// ProcessingStats summarizes ingestion and categorization progress.
type ProcessingStats struct {
	TotalSources    int
	ActiveSources   int
	TotalItems      int
	CompletedItems  int
	PendingItems    int
	ProcessingItems int
	FailedItems     int
}

// ProcessingRate returns completed/total, or 0 when there are no items.
func (s ProcessingStats) ProcessingRate() float64 {
	if s.TotalItems == 0 {
		return 0
	}
	return float64(s.CompletedItems) / float64(s.TotalItems)
}
