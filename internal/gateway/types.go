// Package gateway implements ModelGateway (spec §4.3): a uniform facade over
// chat-vision, STT, and TTS providers configured by alias, cached by
// (alias, effective API key), with exponential-backoff retries and a stable
// error-category taxonomy for user-visible messaging.
package gateway

import "context"

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat turn. Images are base64-encoded PNG/JPEG payloads
// attached to a user message (vision input).
type Message struct {
	Role    Role
	Content string
	Images  []string
}

// ToolSpec is the JSON-schema tool description passed to chatWithTools,
// modeled as the plain value type spec §9 prescribes for dynamic tool
// mounting (name, description, parameter schema — no handler here; the
// handler lives in the caller, e.g. SkillRegistry or MicroExecutor).
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCall is what the model asked to invoke when chatWithTools decided to
// call a tool instead of replying with plain text.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Provider is the interface every hand-rolled REST client implements.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (string, *ToolCall, error)
}

// SpeechToText is implemented by providers that can transcribe audio.
type SpeechToText interface {
	STT(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// TextToSpeech is implemented by providers that can synthesize audio.
type TextToSpeech interface {
	TTS(ctx context.Context, text, voice, format string) ([]byte, error)
}

// Embedder is implemented by providers that can produce text embeddings for
// best-match skill lookup (spec §4.6 tool-spec derivation).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
