package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai_feed/internal/model"
	"ai_feed/internal/textutil"
)

const (
	promptBodyLimit     = 500
	fallbackSummarySize = 200

	// FallbackTopic and FallbackSubtopic label items whose AI answer could not be parsed.
	FallbackTopic    = "General"
	FallbackSubtopic = "Uncategorized"
)

const promptTemplate = `Analyze the following RSS content and provide a structured categorization.

TITLE: %s
DESCRIPTION: %s
CONTENT: %s

Respond ONLY with valid JSON in this format:
{
    "topic": "main topic",
    "subtopic": "specific subtopic",
    "tags": ["tag1", "tag2", "tag3"],
    "sentiment": "positive/negative/neutral",
    "importance_score": 0.8,
    "summary": "summary in 2-3 sentences"
}`

// BuildPrompt renders the categorization prompt for item. Markup is stripped
// and the body is cut to its first 500 characters.
func BuildPrompt(item model.Item) string {
	return fmt.Sprintf(promptTemplate,
		textutil.StripHTML(item.Title),
		textutil.StripHTML(item.Description),
		textutil.Truncate(textutil.StripHTML(item.Content), promptBodyLimit),
	)
}

type categorizationPayload struct {
	Topic      string   `json:"topic"`
	Subtopic   string   `json:"subtopic"`
	Tags       []string `json:"tags"`
	Sentiment  string   `json:"sentiment"`
	Importance *float64 `json:"importance_score"`
	Summary    string   `json:"summary"`
}

// ParseCategorization decodes a model answer as the categorization JSON object.
// A surrounding markdown code fence is tolerated; anything else that is not a
// JSON object is an error. Missing fields take the fallback defaults.
func ParseCategorization(text string) (model.Categorization, error) {
	raw := stripCodeFence(strings.TrimSpace(text))
	if !strings.HasPrefix(raw, "{") {
		return model.Categorization{}, errors.New("answer is not a json object")
	}

	var p categorizationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.Categorization{}, fmt.Errorf("decode categorization: %w", err)
	}

	c := model.Categorization{
		Topic:      strings.TrimSpace(p.Topic),
		Subtopic:   strings.TrimSpace(p.Subtopic),
		Sentiment:  model.ParseSentiment(p.Sentiment),
		Importance: 0.5,
		Summary:    strings.TrimSpace(p.Summary),
	}
	if c.Topic == "" {
		c.Topic = FallbackTopic
	}
	if p.Importance != nil {
		c.Importance = clamp(*p.Importance)
	}
	for _, tag := range p.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			c.Tags = append(c.Tags, tag)
		}
	}
	return c, nil
}

// FallbackCategorization is applied when the model answered with something
// that is not the expected JSON object.
func FallbackCategorization(item model.Item) model.Categorization {
	return model.Categorization{
		Topic:      FallbackTopic,
		Subtopic:   FallbackSubtopic,
		Tags:       []string{"rss", "feed"},
		Sentiment:  model.SentimentNeutral,
		Importance: 0.5,
		Summary:    textutil.Truncate(item.Description, fallbackSummarySize),
	}
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
