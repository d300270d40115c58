package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/deusflow/herald/internal/news"
	"github.com/deusflow/herald/internal/ratelimit"
)

// ErrEmptyResponse is returned when Gemini answers without text.
var ErrEmptyResponse = errors.New("gemini: empty response")

const maxOverviewChars = 1200

type Client struct {
	client *genai.Client
	model  string
	budget *ratelimit.Budget
}

func NewClient(ctx context.Context, apiKey, model string, budget *ratelimit.Budget) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{client: client, model: model, budget: budget}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Overview asks Gemini for a short paragraph describing the selected items.
func (c *Client) Overview(ctx context.Context, items []news.ScoredItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	if c.budget != nil {
		if err := c.budget.Use(); err != nil {
			return "", err
		}
	}

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.3)
	model.SetMaxOutputTokens(400)

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(items)))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	return truncate(text, maxOverviewChars), nil
}

func buildPrompt(items []news.ScoredItem) string {
	var b strings.Builder
	b.WriteString("You write the opening paragraph of a daily tech news digest.\n")
	b.WriteString("In at most four plain sentences, describe the common threads in these headlines.\n")
	b.WriteString("Do not use markdown, lists or links. Do not invent facts beyond the headlines.\n\n")
	b.WriteString("HEADLINES:\n")
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, strings.Join(strings.Fields(it.Title), " "), it.Source)
	}
	return b.String()
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", ErrEmptyResponse
	}

	var parts []string
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			if s := strings.TrimSpace(string(t)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.Join(parts, "\n\n"), nil
}

// truncate cuts on a rune boundary and prefers to end at a sentence.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	trimmed := string(runes[:max])
	if idx := strings.LastIndex(trimmed, ". "); idx > max/3 {
		return trimmed[:idx+1]
	}
	return trimmed + "…"
}
