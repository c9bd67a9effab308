// Package chat implements UnifiedChatService (spec §4.9): normalizes text
// and audio inputs, routes to the fast path or TaskOrchestrator, and
// coordinates TTS.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leochame/lavis/internal/actuator"
	"github.com/leochame/lavis/internal/decision"
	"github.com/leochame/lavis/internal/gateway"
	"github.com/leochame/lavis/internal/logging"
	"github.com/leochame/lavis/internal/memory"
	"github.com/leochame/lavis/internal/plan"
	"github.com/leochame/lavis/internal/push"
	"github.com/leochame/lavis/internal/screen"
	"go.uber.org/zap"
)

// OrchestratorRunner is the subset of TaskOrchestrator the chat service
// drives for useOrchestrator=true requests.
type OrchestratorRunner interface {
	RunGoal(ctx context.Context, goal, connID string) (*plan.Plan, error)
	Interrupt()
}

// TtsGate decides whether a reply merits speech (spec §4.9: "short acks
// don't").
type TtsGate interface {
	ShouldSpeak(ctx context.Context, text string) (bool, error)
}

// AsyncTts submits a reply for background synthesis and push delivery.
type AsyncTts interface {
	Submit(sessionID, text, requestID string)
}

// Result is the normalized chat response (spec §6 POST /api/agent/chat).
type Result struct {
	Success          bool
	UserText         string
	AgentText        string
	RequestID        string
	AudioPending     bool
	DurationMs       int64
	OrchestratorState string
}

// Deps bundles UnifiedChatService's collaborators.
type Deps struct {
	Gateway      *gateway.ModelGateway
	Screen       *screen.ScreenSource
	Actuator     *actuator.SystemActuator
	Push         *push.PushBus
	Orchestrator OrchestratorRunner
	TurnMemory   *memory.TurnMemory
	TtsGate      TtsGate
	AsyncTts     AsyncTts
	ModelAlias   string
	ScreenW, ScreenH int
}

// UnifiedChatService is spec component C9.
type UnifiedChatService struct {
	deps Deps
	log  *zap.Logger
}

// New builds a UnifiedChatService.
func New(deps Deps) *UnifiedChatService {
	return &UnifiedChatService{deps: deps, log: logging.Named("chat")}
}

// NormalizeText handles a text input (spec §4.9 inputs).
func (s *UnifiedChatService) NormalizeText(ctx context.Context, text, wsSessionID string, useOrchestrator, needsTts bool) Result {
	start := time.Now()
	requestID := uuid.NewString()

	if useOrchestrator {
		return s.runOrchestrated(ctx, text, wsSessionID, needsTts, requestID, start)
	}
	return s.runFastPath(ctx, text, wsSessionID, needsTts, requestID, start)
}

// NormalizeAudio transcribes audio via ModelGateway.stt, mapping errors to
// the §4.3 user-visible categories, then proceeds exactly as NormalizeText.
func (s *UnifiedChatService) NormalizeAudio(ctx context.Context, audio []byte, mime, wsSessionID string, useOrchestrator, needsTts bool) Result {
	start := time.Now()
	text, err := s.deps.Gateway.STT(ctx, audio, mime)
	if err != nil {
		var modelErr *gateway.ModelError
		msg := "语音识别失败"
		if errors.As(err, &modelErr) {
			msg = modelErr.Category.UserMessage()
		}
		return Result{Success: false, AgentText: msg, DurationMs: time.Since(start).Milliseconds()}
	}
	return s.NormalizeText(ctx, text, wsSessionID, useOrchestrator, needsTts)
}

func (s *UnifiedChatService) runOrchestrated(ctx context.Context, goal, wsSessionID string, needsTts bool, requestID string, start time.Time) Result {
	p, err := s.deps.Orchestrator.RunGoal(ctx, goal, wsSessionID)
	if err != nil {
		return Result{Success: false, UserText: goal, AgentText: err.Error(), RequestID: requestID, DurationMs: time.Since(start).Milliseconds()}
	}

	agentText := summarizePlan(p)
	result := Result{
		Success:           p.Status == plan.PlanCompleted,
		UserText:          goal,
		AgentText:         agentText,
		RequestID:         requestID,
		OrchestratorState: string(p.Status),
		DurationMs:        time.Since(start).Milliseconds(),
	}
	s.coordinateTts(ctx, wsSessionID, agentText, requestID, needsTts, &result)
	return result
}

func summarizePlan(p *plan.Plan) string {
	if p.Status == plan.PlanCompleted {
		return fmt.Sprintf("Completed %q in %d steps.", p.Goal, len(p.Milestones))
	}
	if m := p.CurrentMilestone(); m != nil && m.PostMortem != nil {
		return fmt.Sprintf("Stopped on %q: %s", m.Description, m.PostMortem.FailureReason)
	}
	return fmt.Sprintf("Plan for %q ended with status %s.", p.Goal, p.Status)
}

// runFastPath is the "chat-with-screenshot" single decision cycle without
// milestone bookkeeping (spec §4.9 routing).
func (s *UnifiedChatService) runFastPath(ctx context.Context, text, wsSessionID string, needsTts bool, requestID string, start time.Time) Result {
	frame := s.deps.Screen.Capture(ctx)

	messages := []gateway.Message{
		{Role: gateway.RoleSystem, Content: "You are a desktop assistant. Reply conversationally; you may issue a single batch of GUI actions if the user asked for one."},
	}
	for _, e := range s.deps.TurnMemory.Messages() {
		messages = append(messages, gateway.Message{Role: e.Role, Content: e.Content, Images: e.Frames})
	}
	img := []string{}
	if frame.Error == screen.ErrorNone {
		img = []string{frame.Base64()}
	}
	messages = append(messages, gateway.Message{Role: gateway.RoleUser, Content: text, Images: img})

	raw, err := s.deps.Gateway.ChatAlias(ctx, s.deps.ModelAlias, messages)
	if err != nil {
		return Result{Success: false, UserText: text, AgentText: "model call failed: " + err.Error(), RequestID: requestID, DurationMs: time.Since(start).Milliseconds()}
	}

	s.deps.TurnMemory.Append(memory.Entry{Role: gateway.RoleUser, Content: text, Frames: img})

	agentText := raw
	if bundle, perr := decision.Parse(raw); perr == nil && bundle.HasActionsToExecute() {
		agentText = s.executeOnce(ctx, bundle, wsSessionID)
	}

	s.deps.TurnMemory.Append(memory.Entry{Role: gateway.RoleAssistant, Content: agentText})

	result := Result{Success: true, UserText: text, AgentText: agentText, RequestID: requestID, DurationMs: time.Since(start).Milliseconds()}
	s.coordinateTts(ctx, wsSessionID, agentText, requestID, needsTts, &result)
	return result
}

// executeOnce dispatches one action batch immediately, with no retry loop
// (the fast path has no milestone bookkeeping).
func (s *UnifiedChatService) executeOnce(ctx context.Context, bundle decision.Bundle, connID string) string {
	for _, act := range bundle.ExecuteNow.Actions {
		report := s.deps.Actuator.Dispatch(ctx, act, s.deps.ScreenW, s.deps.ScreenH)
		if s.deps.Push != nil && connID != "" {
			s.deps.Push.SendByID(connID, push.NewEvent(push.TypeActionExecuted, map[string]any{
				"action": act.Summary(), "success": report.Success,
			}, time.Now()))
		}
		if !report.Success {
			return bundle.Thought + " (action failed: " + report.Message + ")"
		}
	}
	if bundle.CompletionSummary != "" {
		return bundle.CompletionSummary
	}
	return bundle.Thought
}

// coordinateTts runs TtsGate and, if it says yes, submits the reply to
// AsyncTts, falling back to the first active push connection when
// wsSessionID has none (spec §4.9 TTS coordination).
func (s *UnifiedChatService) coordinateTts(ctx context.Context, wsSessionID, replyText, requestID string, needsTts bool, result *Result) {
	if !needsTts || s.deps.TtsGate == nil || s.deps.AsyncTts == nil {
		return
	}
	speak, err := s.deps.TtsGate.ShouldSpeak(ctx, replyText)
	if err != nil || !speak {
		return
	}

	target := wsSessionID
	if s.deps.Push != nil && !s.deps.Push.IsActive(target) {
		if first, ok := s.deps.Push.FirstActive(); ok {
			target = first
		} else {
			s.log.Warn("tts: no active push connection for reply", zap.String("requestId", requestID))
			result.AudioPending = false
			return
		}
	}

	s.deps.AsyncTts.Submit(target, replyText, requestID)
	result.AudioPending = true
}

// Reset clears turn memory and global context (spec §6 POST
// /api/agent/reset). GlobalContext has no state to clear here: the
// orchestrator owns one per run and constructs it fresh on every RunGoal
// call, so there is never a stale instance for Reset to touch.
func (s *UnifiedChatService) Reset() {
	s.deps.TurnMemory.Reset()
}

// Stop cancels any running orchestrated plan (spec §6 POST
// /api/agent/stop).
func (s *UnifiedChatService) Stop() {
	if s.deps.Orchestrator != nil {
		s.deps.Orchestrator.Interrupt()
	}
}
