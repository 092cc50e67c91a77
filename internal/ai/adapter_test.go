package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ai_feed/internal/model"
)

type recordingClient struct {
	status  int
	body    string
	req     *http.Request
	payload map[string]any
}

func (c *recordingClient) Do(req *http.Request) (*http.Response, error) {
	c.req = req
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	c.payload = map[string]any{}
	if err := json.Unmarshal(raw, &c.payload); err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: c.status,
		Body:       io.NopCloser(bytes.NewBufferString(c.body)),
	}, nil
}

func TestAdapters(t *testing.T) {
	tests := []struct {
		name        string
		adapter     func(HTTPClient) Adapter
		req         Request
		respBody    string
		wantText    string
		wantURL     string
		wantHeaders map[string]string
		wantPayload map[string]any
	}{
		{
			name:     "openai defaults",
			adapter:  func(c HTTPClient) Adapter { return NewOpenAI(c) },
			req:      Request{APIKey: "sk-1", Model: "gpt-4o-mini", Prompt: "hello"},
			respBody: `{"choices":[{"message":{"role":"assistant","content":"  hi there \n"}}]}`,
			wantText: "hi there",
			wantURL:  "https://api.openai.com/v1/chat/completions",
			wantHeaders: map[string]string{
				"Authorization": "Bearer sk-1",
				"Content-Type":  "application/json",
			},
			wantPayload: map[string]any{
				"model": "gpt-4o-mini",
				"messages": []any{
					map[string]any{"role": "system", "content": "You are an assistant specialized in analyzing and categorizing RSS content. Be precise and concise."},
					map[string]any{"role": "user", "content": "hello"},
				},
				"max_tokens":  float64(500),
				"temperature": 0.7,
			},
		},
		{
			name:    "groq with options",
			adapter: func(c HTTPClient) Adapter { return NewGroq(c) },
			req: Request{APIKey: "gsk", Model: "llama3-8b", Prompt: "p",
				Options: model.ProviderOptions{"max_tokens": float64(128), "temperature": 0.1}},
			respBody: `{"choices":[{"message":{"content":"ok"}}]}`,
			wantText: "ok",
			wantURL:  "https://api.groq.com/openai/v1/chat/completions",
			wantHeaders: map[string]string{
				"Authorization": "Bearer gsk",
			},
			wantPayload: map[string]any{
				"model": "llama3-8b",
				"messages": []any{
					map[string]any{"role": "system", "content": "You are an assistant specialized in content analysis."},
					map[string]any{"role": "user", "content": "p"},
				},
				"max_tokens":  float64(128),
				"temperature": 0.1,
			},
		},
		{
			name:     "huggingface custom base",
			adapter:  func(c HTTPClient) Adapter { return NewHuggingFace(c) },
			req:      Request{APIKey: "hf", BaseURL: "https://hf.local/", Model: "gpt2", Prompt: "p"},
			respBody: `[{"generated_text":" generated "}]`,
			wantText: "generated",
			wantURL:  "https://hf.local/models/gpt2",
			wantHeaders: map[string]string{
				"Authorization": "Bearer hf",
			},
			wantPayload: map[string]any{
				"inputs":     "p",
				"parameters": map[string]any{},
			},
		},
		{
			name:     "huggingface non-list answer",
			adapter:  func(c HTTPClient) Adapter { return NewHuggingFace(c) },
			req:      Request{APIKey: "hf", Model: "org/model", Prompt: "p", Options: model.ProviderOptions{"max_new_tokens": float64(50)}},
			respBody: `{"warning":"loading"}`,
			wantText: `{"warning":"loading"}`,
			wantURL:  "https://api-inference.huggingface.co/models/org/model",
			wantPayload: map[string]any{
				"inputs":     "p",
				"parameters": map[string]any{"max_new_tokens": float64(50)},
			},
		},
		{
			name:     "anthropic",
			adapter:  func(c HTTPClient) Adapter { return NewAnthropic(c) },
			req:      Request{APIKey: "ak", Model: "claude-3-haiku", Prompt: "p"},
			respBody: `{"content":[{"type":"text","text":" answer "}]}`,
			wantText: "answer",
			wantURL:  "https://api.anthropic.com/v1/messages",
			wantHeaders: map[string]string{
				"x-api-key":         "ak",
				"anthropic-version": "2023-06-01",
			},
			wantPayload: map[string]any{
				"model":      "claude-3-haiku",
				"max_tokens": float64(500),
				"messages":   []any{map[string]any{"role": "user", "content": "p"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &recordingClient{status: 200, body: tt.respBody}
			got, err := tt.adapter(client).Generate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if diff := cmp.Diff(tt.wantText, got); diff != "" {
				t.Errorf("text mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantURL, client.req.URL.String()); diff != "" {
				t.Errorf("url mismatch (-want +got):\n%s", diff)
			}
			if client.req.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", client.req.Method)
			}
			for k, v := range tt.wantHeaders {
				if got := client.req.Header.Get(k); got != v {
					t.Errorf("header %s = %q, want %q", k, got, v)
				}
			}
			if diff := cmp.Diff(tt.wantPayload, client.payload); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdapterStatusError(t *testing.T) {
	client := &recordingClient{status: 429, body: "slow down\n"}
	_, err := NewAnthropic(client).Generate(context.Background(), Request{Model: "m", Prompt: "p"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	want := &StatusError{Provider: "anthropic", StatusCode: 429, Body: "slow down"}
	if diff := cmp.Diff(want, se); diff != "" {
		t.Errorf("StatusError mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := DefaultRegistry(&recordingClient{})
	for _, typ := range []model.ProviderType{model.ProviderOpenAI, model.ProviderGroq, model.ProviderHuggingFace, model.ProviderAnthropic, "OpenAI"} {
		if _, err := r.Lookup(typ); err != nil {
			t.Errorf("lookup %q: %v", typ, err)
		}
	}
	if _, err := r.Lookup("cohere"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected ErrUnsupportedProvider, got %v", err)
	}
}
