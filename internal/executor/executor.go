// Package executor implements MicroExecutor (spec §4.7): the
// perceive-decide-act-reflect loop that drives one milestone to completion.
// This is the hardest part of the system; its contract defines the engine.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leochame/lavis/internal/action"
	"github.com/leochame/lavis/internal/actuator"
	"github.com/leochame/lavis/internal/decision"
	"github.com/leochame/lavis/internal/gateway"
	"github.com/leochame/lavis/internal/goalctx"
	"github.com/leochame/lavis/internal/logging"
	"github.com/leochame/lavis/internal/memory"
	"github.com/leochame/lavis/internal/plan"
	"github.com/leochame/lavis/internal/push"
	"github.com/leochame/lavis/internal/screen"
	"github.com/leochame/lavis/internal/skills"
	"go.uber.org/zap"
)

const (
	cycleCap           = 8
	redrawWait         = 150 * time.Millisecond
	consecutiveParseCap = 2
	hardFailureCap      = 3
)

// ToolProvider supplies the dynamic tool set the executor hands to the model
// alongside the fixed completeMilestone signal tool (spec §4.7 inputs).
type ToolProvider interface {
	Snapshot() []skills.ToolSpec
}

// RelevantToolProvider is the subset of SkillRegistry that can narrow the
// tool set to the ones most relevant to a milestone via best-match skill
// lookup (spec §4.6), used instead of the full Snapshot when the tool set is
// large enough that narrowing it is worthwhile.
type RelevantToolProvider interface {
	ToolProvider
	Relevant(ctx context.Context, query string, topK int) []skills.ToolSpec
}

// toolFilterThreshold is the tool-set size above which the executor asks for
// a best-match-narrowed subset instead of handing the model every tool.
const toolFilterThreshold = 12
const toolFilterTopK = 8

// Deps bundles everything MicroExecutor needs per invocation.
type Deps struct {
	Screen   *screen.ScreenSource
	Gateway  *gateway.ModelGateway
	Actuator *actuator.SystemActuator
	Push     *push.PushBus
	Tools    ToolProvider
	ModelAlias string
	ScreenW, ScreenH int
}

// MicroExecutor is spec component C7.
type MicroExecutor struct {
	deps Deps
	log  *zap.Logger
}

// New builds a MicroExecutor over the given dependencies.
func New(deps Deps) *MicroExecutor {
	return &MicroExecutor{deps: deps, log: logging.Named("executor")}
}

// Result is what RunMilestone returns: the final status, its summary (on
// success), and a PostMortem (on failure).
type Result struct {
	Success    bool
	Summary    string
	PostMortem *plan.PostMortem
}

// RunMilestone drives the given milestone to completion using turnMemory
// (scoped to the current turn) and goalCtx (shared across the whole plan).
// connID is the push connection to emit progress events on, "" to skip push.
func (e *MicroExecutor) RunMilestone(ctx context.Context, m *plan.Milestone, goalCtx *goalctx.GlobalContext, turnMemory *memory.TurnMemory, connID string) Result {
	maxCycles := m.MaxRetries
	if maxCycles <= 0 || maxCycles > cycleCap {
		maxCycles = cycleCap
	}

	goalCtx.StartMilestone(m)

	var reports []actuator.ExecutionReport
	var lastThought string
	consecutiveParseFailures := 0
	hardFailures := 0
	deadline := time.Now().Add(m.Timeout)

	for cycle := 1; cycle <= maxCycles; cycle++ {
		if m.Timeout > 0 && time.Now().After(deadline) {
			return e.fail(plan.ReasonTimeout, reports, lastThought, "milestone timeout expired")
		}
		select {
		case <-ctx.Done():
			return e.fail(plan.ReasonUnknown, reports, lastThought, "cancelled")
		default:
		}

		e.emit(connID, push.TypeIterationProgress, map[string]any{"current": cycle, "max": maxCycles})

		frame := e.perceive(ctx, connID)
		if frame.Error != screen.ErrorNone {
			hardFailures++
			if hardFailures >= hardFailureCap {
				return e.fail(plan.ReasonUnknown, reports, lastThought, "repeated capture failures: "+frame.ErrorMessage)
			}
			continue
		}

		e.emit(connID, push.TypeThinking, map[string]any{"milestone": m.Description})

		bundle, err := e.decide(ctx, m, goalCtx, turnMemory, frame)
		if err != nil {
			consecutiveParseFailures++
			e.log.Warn("decision parse failed", zap.Error(err), zap.Int("consecutive", consecutiveParseFailures))
			if consecutiveParseFailures >= consecutiveParseCap {
				return e.fail(plan.ReasonUnknown, reports, lastThought, "decision parser failed twice consecutively")
			}
			continue
		}
		consecutiveParseFailures = 0
		lastThought = bundle.Thought

		if bundle.IsGoalComplete {
			goalCtx.CompleteMilestone(bundle.CompletionSummary, true)
			return Result{Success: true, Summary: bundle.CompletionSummary}
		}

		cycleReports, completed, completeSummary, hardFailureThisCycle := e.act(ctx, m, bundle, goalCtx, turnMemory, connID)
		reports = append(reports, cycleReports...)
		if completed {
			goalCtx.CompleteMilestone(completeSummary, true)
			return Result{Success: true, Summary: completeSummary}
		}
		if hardFailureThisCycle {
			hardFailures++
			if hardFailures >= hardFailureCap {
				return e.fail(plan.ReasonElementNotFound, reports, lastThought, "repeated hard actuator failures")
			}
		}
	}

	return e.fail(plan.ReasonUnknown, reports, lastThought, "cycle cap reached")
}

// perceive captures one frame, bracketed by hide_window/show_window push
// events so the UI's own overlay never appears in the frame (spec §4.7
// step 1).
func (e *MicroExecutor) perceive(ctx context.Context, connID string) screen.Frame {
	e.emit(connID, push.TypeHideWindow, nil)
	waitForRedraw()
	frame := e.deps.Screen.Capture(ctx)
	e.emit(connID, push.TypeShowWindow, nil)
	waitForRedraw()
	return frame
}

func waitForRedraw() {
	time.Sleep(redrawWait)
}

// decide calls ModelGateway.chat with the full prompt context and parses the
// structured DecisionBundle (spec §4.7 step 2).
func (e *MicroExecutor) decide(ctx context.Context, m *plan.Milestone, goalCtx *goalctx.GlobalContext, turnMemory *memory.TurnMemory, frame screen.Frame) (decision.Bundle, error) {
	systemPrompt := buildSystemPrompt(ctx, m, e.deps.Tools)
	injection := goalCtx.GenerateContextInjection()

	messages := []gateway.Message{
		{Role: gateway.RoleSystem, Content: systemPrompt},
	}
	for _, entry := range turnMemory.Messages() {
		msg := gateway.Message{Role: entry.Role, Content: entry.Content}
		msg.Images = append(msg.Images, entry.Frames...)
		messages = append(messages, msg)
	}
	messages = append(messages, gateway.Message{
		Role:    gateway.RoleUser,
		Content: injection + "\n\nGoal reminder: " + m.Description,
		Images:  []string{frame.Base64()},
	})

	raw, err := e.deps.Gateway.ChatAlias(ctx, e.deps.ModelAlias, messages)
	if err != nil {
		return decision.Bundle{}, fmt.Errorf("executor: model call failed: %w", err)
	}
	return decision.Parse(raw)
}

// act executes executeNow.actions in order, returning the reports collected,
// whether completeMilestone was hit, its summary, and whether a hard
// (permission-denied class) failure occurred (spec §4.7 step 3).
func (e *MicroExecutor) act(ctx context.Context, m *plan.Milestone, bundle decision.Bundle, goalCtx *goalctx.GlobalContext, turnMemory *memory.TurnMemory, connID string) (reports []actuator.ExecutionReport, completed bool, summary string, hardFailure bool) {
	for _, act := range bundle.ExecuteNow.Actions {
		select {
		case <-ctx.Done():
			return reports, false, "", false
		default:
		}

		if act.Kind == action.KindCompleteMilestone {
			return reports, true, act.Summary, false
		}

		report := e.deps.Actuator.Dispatch(ctx, act, e.deps.ScreenW, e.deps.ScreenH)
		reports = append(reports, report)

		turnMemory.Append(memory.Entry{
			Role:    gateway.RoleAssistant,
			Content: fmt.Sprintf("action: %s -> %s", act.Summary(), reportSummary(report)),
		})
		goalCtx.AddActionSummary(act.Summary(), reportSummary(report), report.Success)

		e.emit(connID, push.TypeActionExecuted, map[string]any{
			"action":  act.Summary(),
			"success": report.Success,
		})

		if !report.Success {
			goalCtx.UpdateFromExecution("", reportSummary(report), false)
			if isHardFailure(report) {
				hardFailure = true
			}
			return reports, false, "", hardFailure
		}
	}
	goalCtx.UpdateFromExecution("", "batch executed", true)
	return reports, false, "", false
}

func isHardFailure(r actuator.ExecutionReport) bool {
	return strings.Contains(strings.ToLower(r.Message), "permission")
}

func reportSummary(r actuator.ExecutionReport) string {
	if r.Success {
		return "success"
	}
	return "failed: " + r.Message
}

func (e *MicroExecutor) emit(connID, eventType string, data map[string]any) {
	if e.deps.Push == nil || connID == "" {
		return
	}
	e.deps.Push.SendByID(connID, push.NewEvent(eventType, data, time.Now()))
}

// fail builds a failure Result with an inferred PostMortem (spec §4.7
// termination): failureReason is inferred from the last three reports and
// the latest thought.
func (e *MicroExecutor) fail(hint plan.FailureReason, reports []actuator.ExecutionReport, lastThought, note string) Result {
	reason := inferFailureReason(hint, reports, lastThought)
	pm := &plan.PostMortem{
		FailureReason:     reason,
		SuggestedRecovery: note,
	}
	if n := len(reports); n > 0 {
		pm.LastObservedScreen = reportSummary(reports[n-1])
	}
	for _, r := range lastN(reports, 3) {
		pm.TriedStrategies = append(pm.TriedStrategies, reportSummary(r))
	}
	return Result{Success: false, PostMortem: pm}
}

func inferFailureReason(hint plan.FailureReason, reports []actuator.ExecutionReport, thought string) plan.FailureReason {
	if hint != plan.ReasonUnknown {
		return hint
	}
	lower := strings.ToLower(thought)
	switch {
	case strings.Contains(lower, "dialog") || strings.Contains(lower, "popup"):
		return plan.ReasonUnexpectedDialog
	case strings.Contains(lower, "not responding") || strings.Contains(lower, "frozen"):
		return plan.ReasonAppNotResponding
	}
	if allSameAction(lastN(reports, 3)) {
		return plan.ReasonInfiniteLoop
	}
	for _, r := range reports {
		if !r.Success && r.DeviationX == 0 && r.DeviationY == 0 && r.Message != "" {
			return plan.ReasonClickMissed
		}
	}
	return plan.ReasonUnknown
}

func allSameAction(reports []actuator.ExecutionReport) bool {
	if len(reports) < 3 {
		return false
	}
	first := reports[0].RequestedX*100000 + reports[0].RequestedY
	for _, r := range reports[1:] {
		if r.RequestedX*100000+r.RequestedY != first {
			return false
		}
	}
	return true
}

func lastN(reports []actuator.ExecutionReport, n int) []actuator.ExecutionReport {
	if len(reports) <= n {
		return reports
	}
	return reports[len(reports)-n:]
}

func buildSystemPrompt(ctx context.Context, m *plan.Milestone, tools ToolProvider) string {
	var b strings.Builder
	b.WriteString("You drive one GUI milestone to completion. Respond with a single structured DecisionBundle JSON object.\n")
	fmt.Fprintf(&b, "Milestone: %s\n", m.Description)
	if tools != nil {
		specs := tools.Snapshot()
		if rp, ok := tools.(RelevantToolProvider); ok && len(specs) > toolFilterThreshold {
			if filtered := rp.Relevant(ctx, m.Description, toolFilterTopK); len(filtered) > 0 {
				specs = filtered
			}
		}
		if len(specs) > 0 {
			b.WriteString("Available tools:\n")
			for _, s := range specs {
				fmt.Fprintf(&b, "  - %s: %s\n", s.Name, s.Description)
			}
		}
	}
	b.WriteString("Always include a completeMilestone action or set isGoalComplete=true when done.\n")
	return b.String()
}
