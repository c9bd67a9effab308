// Package tts implements AsyncTts and TtsGate (spec §4.12): a gate that
// decides whether a reply merits speech, and a bounded worker pool that
// synthesizes and pushes the audio for replies that pass the gate.
package tts

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/leochame/lavis/internal/gateway"
	"github.com/leochame/lavis/internal/logging"
	"go.uber.org/zap"
)

var (
	fencedBlock    = regexp.MustCompile(`(?s)^\s*` + "```" + `.*` + "```" + `\s*$`)
	enumeratedStep = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
)

const maxEnumeratedSteps = 3

var acknowledgements = map[string]bool{
	"ok": true, "okay": true, "done": true, "got it": true, "sure": true,
	"noted": true, "on it": true, "will do": true, "yep": true, "yup": true,
}

const classifyPrompt = "Reply with exactly one word, YES or NO: would a human assistant normally SPEAK this reply aloud, " +
	"or is it the kind of reply (long list, code, pure status log) better left as text?"

// Gate is spec's TtsGate.
type Gate struct {
	gw    *gateway.ModelGateway
	alias string

	mu    sync.Mutex
	cache map[string]bool

	log *zap.Logger
}

// NewGate builds a TtsGate that uses alias for its classification calls.
func NewGate(gw *gateway.ModelGateway, alias string) *Gate {
	return &Gate{gw: gw, alias: alias, cache: make(map[string]bool), log: logging.Named("tts-gate")}
}

// ShouldSpeak implements chat.TtsGate. It rejects silent patterns and
// acknowledgements outright; otherwise it delegates to a cacheable
// classification call against a small chat model (spec §4.12).
func (g *Gate) ShouldSpeak(ctx context.Context, text string) (bool, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, nil
	}
	if fencedBlock.MatchString(trimmed) {
		return false, nil
	}
	if len(enumeratedStep.FindAllStringIndex(trimmed, -1)) > maxEnumeratedSteps {
		return false, nil
	}
	if acknowledgements[strings.ToLower(trimmed)] {
		return false, nil
	}

	key := strings.ToLower(trimmed)
	g.mu.Lock()
	if v, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	raw, err := g.gw.ChatAlias(ctx, g.alias, []gateway.Message{
		{Role: gateway.RoleSystem, Content: classifyPrompt},
		{Role: gateway.RoleUser, Content: trimmed},
	})
	if err != nil {
		// Classification failure is not fatal to the reply; err on the side
		// of speaking rather than silently dropping it.
		g.log.Warn("tts gate classification failed, defaulting to speak", zap.Error(err))
		return true, nil
	}

	speak := strings.Contains(strings.ToUpper(raw), "YES")
	g.mu.Lock()
	g.cache[key] = speak
	g.mu.Unlock()
	return speak, nil
}
