package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ZAI wire types, ported from the teacher's client_types.go ZAIRequest/
// ZAIResponse shapes (structured output + extended-reasoning "thinking").
type zaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type zaiRequest struct {
	Model       string       `json:"model"`
	Messages    []zaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type zaiResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// ZAIClient is a hand-rolled REST client for the Z.AI chat-completions API,
// used by the small cacheable-prompt TtsGate classification call (spec
// §4.12) where no tool-calling is needed.
type ZAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
}

// NewZAIClient builds a Z.AI provider.
func NewZAIClient(apiKey, baseURL, model string, timeout time.Duration, maxRetries int) *ZAIClient {
	if baseURL == "" {
		baseURL = "https://api.z.ai/api/paas/v4"
	}
	return &ZAIClient{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: &http.Client{Timeout: timeout}, maxRetries: maxRetries}
}

func (c *ZAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	req := zaiRequest{Model: c.model, MaxTokens: 1024}
	for _, m := range messages {
		req.Messages = append(req.Messages, zaiMessage{Role: string(m.Role), Content: m.Content})
	}

	var text string
	err := withBackoff(ctx, c.maxRetries, c.categorize, func() error {
		out, err := c.doRequest(ctx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}

func (c *ZAIClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (string, *ToolCall, error) {
	// Z.AI is used for the cheap classification-only path; tool calling is
	// not exercised against this alias.
	text, err := c.Chat(ctx, messages)
	return text, nil, err
}

func (c *ZAIClient) doRequest(ctx context.Context, req zaiRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", NewModelError("zai", CategorizeTransportError(err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewModelError("zai", CategoryNetwork, err)
	}
	if resp.StatusCode >= 300 {
		return "", NewModelError("zai", CategorizeHTTPStatus(resp.StatusCode), fmt.Errorf("status %d: %s", resp.StatusCode, string(data)))
	}

	var out zaiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", NewModelError("zai", CategoryUnknown, err)
	}
	if out.Error != nil {
		return "", NewModelError("zai", CategoryUnknown, fmt.Errorf("%s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", NewModelError("zai", CategoryUnknown, fmt.Errorf("empty choices"))
	}
	return out.Choices[0].Message.Content, nil
}

func (c *ZAIClient) categorize(err error) ErrorCategory {
	if me, ok := err.(*ModelError); ok {
		return me.Category
	}
	return CategorizeTransportError(err)
}
