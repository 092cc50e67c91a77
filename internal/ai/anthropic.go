package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Anthropic calls the versioned Messages API.
type Anthropic struct {
	client HTTPClient
}

// NewAnthropic returns the Anthropic Messages adapter.
func NewAnthropic(client HTTPClient) *Anthropic {
	return &Anthropic{client: client}
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate implements Adapter.
func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	payload := messagesRequest{
		Model:     req.Model,
		MaxTokens: req.Options.Int("max_tokens", defaultMaxTokens),
		Messages:  []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         req.APIKey,
		"anthropic-version": anthropicVersion,
	}

	body, err := postJSON(ctx, a.client, "anthropic", baseURL(req.BaseURL, anthropicBaseURL)+"/v1/messages", headers, payload)
	if err != nil {
		return "", err
	}
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("anthropic api: decode response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", errors.New("anthropic api: empty content")
	}
	return strings.TrimSpace(resp.Content[0].Text), nil
}
