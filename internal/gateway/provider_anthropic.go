package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wraps the official anthropic-sdk-go client, used by the
// "anthropic" model alias for vision+chat.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	retries int
}

// NewAnthropicClient builds an Anthropic provider.
func NewAnthropicClient(apiKey, model string, timeout time.Duration, maxRetries int) *AnthropicClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: client, model: model, timeout: timeout, retries: maxRetries}
}

func (c *AnthropicClient) Chat(ctx context.Context, messages []Message) (string, error) {
	text, _, err := c.ChatWithTools(ctx, messages, nil)
	return text, err
}

func (c *AnthropicClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (string, *ToolCall, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var system string
	var msgs []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == RoleSystem {
			system += m.Content + "\n"
			continue
		}
		msgs = append(msgs, toAnthropicMessage(m))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: t.Parameters},
			},
		})
	}

	var text string
	var call *ToolCall
	err := withBackoff(cctx, c.retries, CategorizeTransportError, func() error {
		resp, err := c.client.Messages.New(cctx, params)
		if err != nil {
			return NewModelError("anthropic", CategorizeTransportError(err), err)
		}
		for _, block := range resp.Content {
			switch b := block.AsAny().(type) {
			case anthropic.TextBlock:
				text += b.Text
			case anthropic.ToolUseBlock:
				var args map[string]any
				_ = json.Unmarshal(b.Input, &args)
				call = &ToolCall{Name: b.Name, Arguments: args}
			}
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return text, call, nil
}

func toAnthropicMessage(m Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
	for _, img := range m.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", img))
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}
