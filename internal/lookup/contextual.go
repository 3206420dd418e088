package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultModel is used when Contextual has no model configured.
const DefaultModel = "gpt-4o-mini"

const (
	systemPrompt = "You are a helpful reading assistant. Explain the contextual meaning of the selected text from a book in simple terms. Keep it concise and focused on what the selection means in this context."
	userPrompt   = "Selected text:\n\n\"\"\"%s\"\"\"\n\nExplain the contextual meaning, definitions of key words if helpful, and any implied subtext."
	temperature  = 0.3
)

// Contextual explains passages through an OpenAI-compatible chat
// completions endpoint.
type Contextual struct {
	base
	model string
}

// NewContextual returns a Contextual client for model.
func NewContextual(o Options, model string) *Contextual {
	if model == "" {
		model = DefaultModel
	}
	return &Contextual{base: newBase(o, "contextual"), model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Explain returns an explanation of passage in context.
func (c *Contextual) Explain(ctx context.Context, passage string) (string, error) {
	passage = strings.TrimSpace(passage)
	if passage == "" {
		return "", ErrEmptyInput
	}
	if c.key == "" {
		return "", ErrMissingKey
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPrompt, passage)},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	body, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		return resp.Choices[0].Message.Content, nil
	}
	return rawJSON(body), nil
}
