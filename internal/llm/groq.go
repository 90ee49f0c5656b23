package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient calls an OpenAI-compatible chat completions endpoint. Groq is
// the default; any compatible base URL works.
type GroqClient struct {
	base
	apiKey string
}

func NewGroqClient(apiKey, model string, opts Options) *GroqClient {
	return &GroqClient{
		base:   newBase("groq", model, opts.withDefaults(groqBaseURL)),
		apiKey: apiKey,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one system + user turn and returns the text reply.
func (c *GroqClient) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: c.opts.MaxTokens,
	}
	respBody, err := c.post(ctx, c.opts.BaseURL+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, reqBody)
	if err != nil {
		return "", err
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("groq error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", errors.New("empty response from groq")
	}
	return stripCodeBlock(apiResp.Choices[0].Message.Content), nil
}
