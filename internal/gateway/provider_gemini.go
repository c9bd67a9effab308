package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiClient wraps the official google.golang.org/genai SDK, the domain
// dependency the teacher's Gemini provider (client_gemini.go) hand-rolls
// over REST; Lavis uses the maintained SDK instead since it already covers
// multimodal content parts and function-calling tool schemas natively.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	retries int
}

// NewGeminiClient builds a Gemini provider for the given model name.
func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration, maxRetries int) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewModelError("gemini", CategoryUnknown, err)
	}
	return &GeminiClient{client: client, model: model, timeout: timeout, retries: maxRetries}, nil
}

func (g *GeminiClient) Chat(ctx context.Context, messages []Message) (string, error) {
	text, _, err := g.ChatWithTools(ctx, messages, nil)
	return text, err
}

func (g *GeminiClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (string, *ToolCall, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents, systemInstruction := g.toContents(messages)
	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiFunctions(tools)}}
	}

	var text string
	var call *ToolCall
	err := withBackoff(cctx, g.retries, CategorizeTransportError, func() error {
		result, err := g.client.Models.GenerateContent(cctx, g.model, contents, config)
		if err != nil {
			return NewModelError("gemini", CategorizeTransportError(err), err)
		}
		if fns := result.FunctionCalls(); len(fns) > 0 {
			call = &ToolCall{Name: fns[0].Name, Arguments: fns[0].Args}
			return nil
		}
		text = result.Text()
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return text, call, nil
}

func (g *GeminiClient) toContents(messages []Message) ([]*genai.Content, string) {
	var system string
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == RoleSystem {
			system += m.Content + "\n"
			continue
		}
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(m.Content)}
		for _, img := range m.Images {
			parts = append(parts, genai.NewPartFromBytes(decodeBase64(img), "image/png"))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, system
}

func toGeminiFunctions(tools []ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.Parameters),
		})
	}
	return out
}

func toGeminiSchema(params map[string]any) *genai.Schema {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return &schema
}

// STT transcribes audio using Gemini's multimodal understanding: the audio
// bytes are supplied as an inline part alongside a transcription prompt.
func (g *GeminiClient) STT(ctx context.Context, audio []byte, mimeType string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromText("Transcribe this audio verbatim. Reply with only the transcription."),
		genai.NewPartFromBytes(audio, mimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var text string
	err := withBackoff(cctx, g.retries, CategorizeTransportError, func() error {
		result, err := g.client.Models.GenerateContent(cctx, g.model, contents, nil)
		if err != nil {
			return NewModelError("gemini", CategorizeTransportError(err), err)
		}
		text = result.Text()
		return nil
	})
	return text, err
}

// Embed produces a text embedding via Gemini's embedding model (spec §4.6:
// best-match skill lookup). gemini-embedding-001 emits 3072-dimensional
// vectors.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	dims := int32(3072)

	var out []float32
	err := withBackoff(cctx, g.retries, CategorizeTransportError, func() error {
		result, err := g.client.Models.EmbedContent(cctx, g.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dims,
		})
		if err != nil {
			return NewModelError("gemini", CategorizeTransportError(err), err)
		}
		if len(result.Embeddings) == 0 {
			return NewModelError("gemini", CategoryUnknown, fmt.Errorf("no embeddings returned"))
		}
		out = result.Embeddings[0].Values
		return nil
	})
	return out, err
}

func decodeBase64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
