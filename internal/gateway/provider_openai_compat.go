package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// openAICompatRequest/response mirror the teacher's hand-rolled
// client_openai.go/client_zai.go wire structs; OpenAI, xAI, and OpenRouter
// all speak this dialect (the teacher type-aliases XAIRequest/Response and
// OpenRouterRequest/Response to the OpenAI shapes — see client_types.go).
type openAICompatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAICompatRequest struct {
	Model       string                `json:"model"`
	Messages    []openAICompatMessage `json:"messages"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float64               `json:"temperature,omitempty"`
	Tools       []openAICompatTool    `json:"tools,omitempty"`
}

type openAICompatTool struct {
	Type     string               `json:"type"`
	Function openAICompatFunction `json:"function"`
}

type openAICompatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAICompatResponse struct {
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// OpenAICompatClient is a hand-rolled REST client shared by the OpenAI, xAI,
// and OpenRouter providers, which all speak the same chat-completions
// dialect.
type OpenAICompatClient struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	extraHdrs  map[string]string
}

// NewOpenAICompatClient builds a client for any OpenAI-compatible endpoint.
func NewOpenAICompatClient(name, apiKey, baseURL, model string, timeout time.Duration, maxRetries int, extraHdrs map[string]string) *OpenAICompatClient {
	return &OpenAICompatClient{
		name:       name,
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		extraHdrs:  extraHdrs,
	}
}

func (c *OpenAICompatClient) Chat(ctx context.Context, messages []Message) (string, error) {
	text, _, err := c.ChatWithTools(ctx, messages, nil)
	return text, err
}

func (c *OpenAICompatClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (string, *ToolCall, error) {
	req := openAICompatRequest{
		Model:     c.model,
		Messages:  toOpenAIMessages(messages),
		MaxTokens: 4096,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openAICompatTool{
			Type: "function",
			Function: openAICompatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	var text string
	var call *ToolCall
	err := withBackoff(ctx, c.maxRetries, c.categorize, func() error {
		resp, err := c.doRequest(ctx, req)
		if err != nil {
			return err
		}
		text, call = resp.text, resp.call
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return text, call, nil
}

type openAICompatResult struct {
	text string
	call *ToolCall
}

func (c *OpenAICompatClient) doRequest(ctx context.Context, req openAICompatRequest) (*openAICompatResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.extraHdrs {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewModelError(c.name, CategorizeTransportError(err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewModelError(c.name, CategoryNetwork, err)
	}

	if resp.StatusCode >= 300 {
		return nil, NewModelError(c.name, CategorizeHTTPStatus(resp.StatusCode), fmt.Errorf("status %d: %s", resp.StatusCode, string(data)))
	}

	var out openAICompatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, NewModelError(c.name, CategoryUnknown, err)
	}
	if out.Error != nil {
		return nil, NewModelError(c.name, CategoryUnknown, fmt.Errorf("%s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return nil, NewModelError(c.name, CategoryUnknown, fmt.Errorf("empty choices"))
	}

	choice := out.Choices[0].Message
	if len(choice.ToolCalls) > 0 {
		tc := choice.ToolCalls[0]
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		return &openAICompatResult{call: &ToolCall{Name: tc.Function.Name, Arguments: args}}, nil
	}
	return &openAICompatResult{text: choice.Content}, nil
}

func (c *OpenAICompatClient) categorize(err error) ErrorCategory {
	var modelErr *ModelError
	if me, ok := err.(*ModelError); ok {
		modelErr = me
		return modelErr.Category
	}
	return CategorizeTransportError(err)
}

func toOpenAIMessages(messages []Message) []openAICompatMessage {
	out := make([]openAICompatMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 {
			out = append(out, openAICompatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		parts := []map[string]any{{"type": "text", "text": m.Content}}
		for _, img := range m.Images {
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]string{
					"url": "data:image/png;base64," + img,
				},
			})
		}
		out = append(out, openAICompatMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

// STT sends the audio, base64-encoded as a data URL, as the text content of a
// single user message to the /chat/completions endpoint and returns the
// model's text reply. It does not call the /audio/transcriptions endpoint and
// does not use a multipart upload.
func (c *OpenAICompatClient) STT(ctx context.Context, audio []byte, mimeType string) (string, error) {
	var text string
	err := withBackoff(ctx, c.maxRetries, c.categorize, func() error {
		encoded := base64.StdEncoding.EncodeToString(audio)
		req := openAICompatRequest{Model: c.model, Messages: []openAICompatMessage{
			{Role: "user", Content: fmt.Sprintf("data:%s;base64,%s", mimeType, encoded)},
		}}
		resp, err := c.doRequest(ctx, req)
		if err != nil {
			return err
		}
		text = resp.text
		return nil
	})
	return text, err
}
