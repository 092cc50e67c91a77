package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.7

	openAIBaseURL = "https://api.openai.com/v1"
	groqBaseURL   = "https://api.groq.com/openai/v1"
)

// ChatCompletion speaks the OpenAI chat completion protocol. Groq exposes the
// same protocol under a different base URL.
type ChatCompletion struct {
	client         HTTPClient
	name           string
	defaultBaseURL string
	systemPrompt   string
}

// NewOpenAI returns the adapter for OpenAI-compatible endpoints.
func NewOpenAI(client HTTPClient) *ChatCompletion {
	return &ChatCompletion{
		client:         client,
		name:           "openai",
		defaultBaseURL: openAIBaseURL,
		systemPrompt:   "You are an assistant specialized in analyzing and categorizing RSS content. Be precise and concise.",
	}
}

// NewGroq returns the adapter for the Groq API.
func NewGroq(client HTTPClient) *ChatCompletion {
	return &ChatCompletion{
		client:         client,
		name:           "groq",
		defaultBaseURL: groqBaseURL,
		systemPrompt:   "You are an assistant specialized in content analysis.",
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate implements Adapter.
func (c *ChatCompletion) Generate(ctx context.Context, req Request) (string, error) {
	payload := chatCompletionRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   req.Options.Int("max_tokens", defaultMaxTokens),
		Temperature: req.Options.Float("temperature", defaultTemperature),
	}
	headers := map[string]string{"Authorization": "Bearer " + req.APIKey}

	body, err := postJSON(ctx, c.client, c.name, baseURL(req.BaseURL, c.defaultBaseURL)+"/chat/completions", headers, payload)
	if err != nil {
		return "", err
	}
	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%s api: decode response: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(c.name + " api: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
