// Package ai talks to text-generation backends and falls back across them.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ai_feed/internal/model"
)

const maxResponseSize = 2 * 1024 * 1024

var (
	// ErrNoProviders is returned when no active provider is configured.
	ErrNoProviders = errors.New("no active ai providers")
	// ErrProvidersExhausted is returned when every provider failed in every round.
	ErrProvidersExhausted = errors.New("all ai providers failed")
	// ErrUnsupportedProvider is returned for a provider type without an adapter.
	ErrUnsupportedProvider = errors.New("unsupported provider type")
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is the backend-neutral input of one generation call.
type Request struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompt  string
	Options model.ProviderOptions
}

// Adapter translates a Request into one backend's wire protocol and returns plain text.
type Adapter interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Registry maps provider types to their adapters.
type Registry map[model.ProviderType]Adapter

// DefaultRegistry returns adapters for every supported provider type.
func DefaultRegistry(client HTTPClient) Registry {
	return Registry{
		model.ProviderOpenAI:      NewOpenAI(client),
		model.ProviderGroq:        NewGroq(client),
		model.ProviderHuggingFace: NewHuggingFace(client),
		model.ProviderAnthropic:   NewAnthropic(client),
	}
}

// Lookup returns the adapter registered for t.
func (r Registry) Lookup(t model.ProviderType) (Adapter, error) {
	a, ok := r[model.ProviderType(strings.ToLower(string(t)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, t)
	}
	return a, nil
}

// StatusError is returned when a backend answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// postJSON sends payload as JSON and returns the raw response body of a 2xx answer.
func postJSON(ctx context.Context, client HTTPClient, provider, url string, headers map[string]string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s api: encode body: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%s api: new request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s api: http error: %w", provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s api: read body: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func baseURL(configured, def string) string {
	if configured == "" {
		configured = def
	}
	return strings.TrimRight(configured, "/")
}
