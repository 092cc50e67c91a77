package ai

import (
	"context"
	"encoding/json"
	"strings"

	"ai_feed/internal/model"
)

const huggingFaceBaseURL = "https://api-inference.huggingface.co"

// HuggingFace calls the hosted inference API.
type HuggingFace struct {
	client HTTPClient
}

// NewHuggingFace returns the HuggingFace inference adapter.
func NewHuggingFace(client HTTPClient) *HuggingFace {
	return &HuggingFace{client: client}
}

type inferenceRequest struct {
	Inputs     string                `json:"inputs"`
	Parameters model.ProviderOptions `json:"parameters"`
}

// Generate implements Adapter. Responses that are not a list of generations
// are returned verbatim.
func (h *HuggingFace) Generate(ctx context.Context, req Request) (string, error) {
	params := req.Options
	if params == nil {
		params = model.ProviderOptions{}
	}
	endpoint := baseURL(req.BaseURL, huggingFaceBaseURL) + "/models/" + req.Model

	headers := map[string]string{"Authorization": "Bearer " + req.APIKey}
	body, err := postJSON(ctx, h.client, "huggingface", endpoint, headers, inferenceRequest{Inputs: req.Prompt, Parameters: params})
	if err != nil {
		return "", err
	}

	var generations []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &generations); err == nil && len(generations) > 0 {
		return strings.TrimSpace(generations[0].GeneratedText), nil
	}
	return strings.TrimSpace(string(body)), nil
}
