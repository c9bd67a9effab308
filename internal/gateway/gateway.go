package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leochame/lavis/internal/config"
	"github.com/leochame/lavis/internal/logging"
	"go.uber.org/zap"
)

// cacheKey identifies a cached provider instance by alias and the effective
// API key in use (spec §4.3: "instances are cached keyed by (alias,
// effectiveApiKey)").
type cacheKey struct {
	alias  string
	apiKey string
}

// ModelGateway is spec component C3.
type ModelGateway struct {
	mu sync.RWMutex

	aliases map[string]config.ModelAlias
	cache   map[cacheKey]any // Provider, or SpeechToText/TextToSpeech as applicable

	dynamicAPIKey string // process-wide override, empty = unset

	defaultChat      string
	defaultSTT       string
	defaultTTS       string
	defaultEmbedding string

	log *zap.Logger
}

// New builds a ModelGateway from the configured alias map.
func New(cfg config.ModelsConfig) *ModelGateway {
	return &ModelGateway{
		aliases:          cfg.Aliases,
		cache:            make(map[cacheKey]any),
		defaultChat:      cfg.DefaultChat,
		defaultSTT:       cfg.DefaultSTT,
		defaultTTS:       cfg.DefaultTTS,
		defaultEmbedding: cfg.DefaultEmbedding,
		log:              logging.Named("gateway"),
	}
}

// SetDynamicAPIKey overrides every alias's effective API key process-wide.
// Changing it invalidates the provider cache (spec §4.3).
func (g *ModelGateway) SetDynamicAPIKey(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dynamicAPIKey = key
	g.cache = make(map[cacheKey]any)
}

// ClearDynamicAPIKey removes the override, restoring each alias's configured
// key and invalidating the cache.
func (g *ModelGateway) ClearDynamicAPIKey() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dynamicAPIKey = ""
	g.cache = make(map[cacheKey]any)
}

func (g *ModelGateway) effectiveKey(alias config.ModelAlias) string {
	if g.dynamicAPIKey != "" {
		return g.dynamicAPIKey
	}
	return alias.APIKey
}

// resolve returns the cached (or freshly built) provider instance for alias.
func (g *ModelGateway) resolve(ctx context.Context, alias string) (any, config.ModelAlias, error) {
	g.mu.RLock()
	cfg, ok := g.aliases[alias]
	g.mu.RUnlock()
	if !ok {
		return nil, config.ModelAlias{}, fmt.Errorf("gateway: unknown model alias %q", alias)
	}

	key := cacheKey{alias: alias, apiKey: g.effectiveKey(cfg)}

	g.mu.RLock()
	if p, ok := g.cache[key]; ok {
		g.mu.RUnlock()
		return p, cfg, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.cache[key]; ok {
		return p, cfg, nil
	}

	provider, err := g.build(ctx, cfg, key.apiKey)
	if err != nil {
		return nil, cfg, err
	}
	g.cache[key] = provider
	return provider, cfg, nil
}

func (g *ModelGateway) build(ctx context.Context, cfg config.ModelAlias, apiKey string) (any, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(apiKey, cfg.ModelName, timeout, cfg.MaxRetries), nil
	case "gemini":
		return NewGeminiClient(ctx, apiKey, cfg.ModelName, timeout, cfg.MaxRetries)
	case "openai":
		return NewOpenAICompatClient("openai", apiKey, orDefault(cfg.BaseURL, "https://api.openai.com/v1"), cfg.ModelName, timeout, cfg.MaxRetries, nil), nil
	case "xai":
		return NewOpenAICompatClient("xai", apiKey, orDefault(cfg.BaseURL, "https://api.x.ai/v1"), cfg.ModelName, timeout, cfg.MaxRetries, nil), nil
	case "openrouter":
		return NewOpenAICompatClient("openrouter", apiKey, orDefault(cfg.BaseURL, "https://openrouter.ai/api/v1"), cfg.ModelName, timeout, cfg.MaxRetries, nil), nil
	case "zai":
		return NewZAIClient(apiKey, cfg.BaseURL, cfg.ModelName, timeout, cfg.MaxRetries), nil
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q for alias", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Chat sends messages (optionally with images) to the default chat alias.
func (g *ModelGateway) Chat(ctx context.Context, messages []Message) (string, error) {
	return g.ChatAlias(ctx, g.defaultChatAlias(), messages)
}

// ChatAlias sends messages to a specific alias.
func (g *ModelGateway) ChatAlias(ctx context.Context, alias string, messages []Message) (string, error) {
	p, _, err := g.resolve(ctx, alias)
	if err != nil {
		return "", err
	}
	provider, ok := p.(Provider)
	if !ok {
		return "", fmt.Errorf("gateway: alias %q is not a chat provider", alias)
	}
	return provider.Chat(ctx, messages)
}

// ChatWithTools sends messages plus a tool-spec list and returns either text
// or a requested tool call.
func (g *ModelGateway) ChatWithTools(ctx context.Context, alias string, messages []Message, tools []ToolSpec) (string, *ToolCall, error) {
	if alias == "" {
		alias = g.defaultChatAlias()
	}
	p, _, err := g.resolve(ctx, alias)
	if err != nil {
		return "", nil, err
	}
	provider, ok := p.(Provider)
	if !ok {
		return "", nil, fmt.Errorf("gateway: alias %q is not a chat provider", alias)
	}
	return provider.ChatWithTools(ctx, messages, tools)
}

// STT transcribes audio using the default STT alias.
func (g *ModelGateway) STT(ctx context.Context, audio []byte, mimeType string) (string, error) {
	alias := g.defaultSTT
	p, _, err := g.resolve(ctx, alias)
	if err != nil {
		return "", err
	}
	provider, ok := p.(SpeechToText)
	if !ok {
		return "", fmt.Errorf("gateway: alias %q does not support STT", alias)
	}
	return provider.STT(ctx, audio, mimeType)
}

// TTS synthesizes speech using the default TTS alias.
func (g *ModelGateway) TTS(ctx context.Context, text, voice, format string) ([]byte, error) {
	alias := g.defaultTTS
	p, _, err := g.resolve(ctx, alias)
	if err != nil {
		return nil, err
	}
	provider, ok := p.(TextToSpeech)
	if !ok {
		return nil, fmt.Errorf("gateway: alias %q does not support TTS", alias)
	}
	return provider.TTS(ctx, text, voice, format)
}

// Embed produces a text embedding using the configured embedding alias (spec
// §4.6 best-match skill lookup). Returns an error if no embedding alias is
// configured or the resolved provider doesn't implement Embedder; callers
// that treat best-match as an optimization rather than a required path
// should tolerate this.
func (g *ModelGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.RLock()
	alias := g.defaultEmbedding
	g.mu.RUnlock()
	if alias == "" {
		return nil, fmt.Errorf("gateway: no default embedding alias configured")
	}

	p, _, err := g.resolve(ctx, alias)
	if err != nil {
		return nil, err
	}
	provider, ok := p.(Embedder)
	if !ok {
		return nil, fmt.Errorf("gateway: alias %q does not support embeddings", alias)
	}
	return provider.Embed(ctx, text)
}

func (g *ModelGateway) defaultChatAlias() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaultChat
}
