package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	base
	apiKey string
}

func NewClaudeClient(apiKey, model string, opts Options) *ClaudeClient {
	return &ClaudeClient{
		base:   newBase("claude", model, opts.withDefaults(anthropicBaseURL)),
		apiKey: apiKey,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one system + user turn and returns the text reply.
func (c *ClaudeClient) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.opts.MaxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: user},
		},
	}
	respBody, err := c.post(ctx, c.opts.BaseURL+"/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}, reqBody)
	if err != nil {
		return "", err
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	for _, block := range apiResp.Content {
		if block.Type == "text" || block.Type == "" {
			return stripCodeBlock(block.Text), nil
		}
	}
	return "", errors.New("empty response from claude")
}
