// Package orchestrator implements TaskOrchestrator (spec §4.8): plans a goal
// into milestones via a single ModelGateway call, then drives each milestone
// through MicroExecutor with a retry/skip/abort policy fixed per milestone
// tag.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leochame/lavis/internal/executor"
	"github.com/leochame/lavis/internal/gateway"
	"github.com/leochame/lavis/internal/goalctx"
	"github.com/leochame/lavis/internal/logging"
	"github.com/leochame/lavis/internal/memory"
	"github.com/leochame/lavis/internal/plan"
	"github.com/leochame/lavis/internal/push"
	"go.uber.org/zap"
)

const (
	maxMilestones     = 20
	defaultTimeout    = 90 * time.Second
	defaultMaxRetries = 2
)

// ExecutorRunner is the subset of MicroExecutor the orchestrator drives.
type ExecutorRunner interface {
	RunMilestone(ctx context.Context, m *plan.Milestone, goalCtx *goalctx.GlobalContext, turnMemory *memory.TurnMemory, connID string) executor.Result
}

// TaskOrchestrator is spec component C8.
type TaskOrchestrator struct {
	gatewayClient *gateway.ModelGateway
	exec          ExecutorRunner
	pushBus       *push.PushBus
	planningAlias string

	mu     sync.Mutex
	cancel context.CancelFunc
	current *plan.Plan

	log *zap.Logger
}

// New builds a TaskOrchestrator.
func New(gw *gateway.ModelGateway, exec ExecutorRunner, pushBus *push.PushBus, planningAlias string) *TaskOrchestrator {
	return &TaskOrchestrator{
		gatewayClient: gw,
		exec:          exec,
		pushBus:       pushBus,
		planningAlias: planningAlias,
		log:           logging.Named("orchestrator"),
	}
}

// Interrupt cancels the context threaded into the executor (spec §4.8): both
// RunMilestone's per-cycle loop and its inner action-batch loop observe
// ctx.Done() and exit immediately, causing the current run to end CANCELLED.
func (o *TaskOrchestrator) Interrupt() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CurrentPlan returns the plan currently being driven, or nil.
func (o *TaskOrchestrator) CurrentPlan() *plan.Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// rawMilestone is what the planning call returns per entry.
type rawMilestone struct {
	Description string `json:"description"`
	Tag         string `json:"tag"`
}

// RunGoal plans the goal, then drives it to completion, emitting progress
// events on connID. It blocks until the plan reaches a terminal status.
func (o *TaskOrchestrator) RunGoal(ctx context.Context, goal, connID string) (*plan.Plan, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	milestones, truncated, err := o.planMilestones(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: planning failed: %w", err)
	}
	if truncated && len(milestones) > 0 {
		milestones[0].ResultSummary = "plan truncated to " + fmt.Sprint(maxMilestones) + " milestones"
	}

	p := &plan.Plan{
		ID:         uuid.NewString(),
		Goal:       goal,
		Milestones: milestones,
		Status:     plan.PlanRunning,
		CreatedAt:  time.Now(),
	}
	o.mu.Lock()
	o.current = p
	o.mu.Unlock()

	goalCtx := goalctx.New(goal)
	turnMemory := memory.New(200)

	o.emit(connID, push.TypePlanCreated, map[string]any{
		"planId": p.ID,
		"goal":   goal,
		"steps":  len(p.Milestones),
	})

	for p.CurrentIdx = 0; p.CurrentIdx < len(p.Milestones); p.Advance() {
		if ctx.Err() != nil {
			p.Status = plan.PlanCancelled
			o.emit(connID, push.TypePlanCompleted, map[string]any{"planId": p.ID, "status": string(p.Status)})
			return p, nil
		}

		m := p.CurrentMilestone()
		m.Status = plan.StatusInProgress
		m.StartedAt = time.Now()
		o.emit(connID, push.TypeStepStarted, map[string]any{"planId": p.ID, "milestone": m.Description})

		result := o.runWithRetries(ctx, m, goalCtx, turnMemory, connID)
		m.EndedAt = time.Now()

		if result.Success {
			m.Status = plan.StatusSuccess
			m.ResultSummary = result.Summary
			goalCtx.CompleteMilestone(result.Summary, true)
			o.emit(connID, push.TypeStepCompleted, map[string]any{"planId": p.ID, "milestone": m.Description, "summary": result.Summary})
			continue
		}

		if ctx.Err() != nil {
			p.Status = plan.PlanCancelled
			o.emit(connID, push.TypePlanCompleted, map[string]any{"planId": p.ID, "status": string(p.Status)})
			return p, nil
		}

		// retries exhausted: skip (verify-tagged) or abort, fixed per tag.
		if m.Type == plan.TypeVerify {
			m.Status = plan.StatusSkipped
			o.emit(connID, push.TypeStepFailed, map[string]any{"planId": p.ID, "milestone": m.Description, "skipped": true})
			continue
		}

		m.Status = plan.StatusFailed
		m.PostMortem = result.PostMortem
		o.emit(connID, push.TypeStepFailed, map[string]any{
			"planId":    p.ID,
			"milestone": m.Description,
			"reason":    string(result.PostMortem.FailureReason),
		})
		p.Status = plan.PlanFailed
		o.emit(connID, push.TypePlanCompleted, map[string]any{"planId": p.ID, "status": string(p.Status)})
		return p, nil
	}

	p.Status = p.DeriveStatus()
	o.emit(connID, push.TypePlanCompleted, map[string]any{"planId": p.ID, "status": string(p.Status)})
	return p, nil
}

// runWithRetries invokes the executor once, then again (with the post-mortem
// folded into context) for each retry while the milestone has retries left
// and the shared cancellation token is unset.
func (o *TaskOrchestrator) runWithRetries(ctx context.Context, m *plan.Milestone, goalCtx *goalctx.GlobalContext, turnMemory *memory.TurnMemory, connID string) executor.Result {
	for {
		if ctx.Err() != nil {
			return executor.Result{Success: false, PostMortem: &plan.PostMortem{FailureReason: plan.ReasonUnknown, SuggestedRecovery: "cancelled"}}
		}
		result := o.exec.RunMilestone(ctx, m, goalCtx, turnMemory, connID)
		if result.Success {
			return result
		}
		if m.RetriesUsed >= m.MaxRetries {
			return result
		}
		m.RetriesUsed++
		goalCtx.RecordRetry()
		if result.PostMortem != nil {
			turnMemory.Append(memory.Entry{
				Role:    gateway.RoleSystem,
				Content: "Previous attempt failed: " + string(result.PostMortem.FailureReason) + " — " + result.PostMortem.SuggestedRecovery,
			})
		}
	}
}

// planMilestones makes the single planning call and derives the milestone
// list, capping at maxMilestones (spec §4.8).
func (o *TaskOrchestrator) planMilestones(ctx context.Context, goal string) ([]*plan.Milestone, bool, error) {
	systemPrompt := "You are a planning assistant. Break the user's goal into an ordered list of concrete milestones. " +
		"Respond with one milestone per line in the form `<tag>: <description>`, tag one of navigate|workflow|verify|primitive."

	raw, err := o.gatewayClient.ChatAlias(ctx, o.planningAlias, []gateway.Message{
		{Role: gateway.RoleSystem, Content: systemPrompt},
		{Role: gateway.RoleUser, Content: goal},
	})
	if err != nil {
		return nil, false, err
	}

	parsed := parsePlanLines(raw)
	truncated := len(parsed) > maxMilestones
	if truncated {
		parsed = parsed[:maxMilestones]
	}

	milestones := make([]*plan.Milestone, 0, len(parsed))
	for i, rm := range parsed {
		milestones = append(milestones, &plan.Milestone{
			ID:          fmt.Sprintf("m-%d", i+1),
			Description: rm.Description,
			Type:        normalizeTag(rm.Tag),
			Timeout:     defaultTimeout,
			MaxRetries:  defaultMaxRetries,
			Status:      plan.StatusPending,
		})
	}
	if len(milestones) == 0 {
		milestones = append(milestones, &plan.Milestone{
			ID:          "m-1",
			Description: goal,
			Type:        plan.TypeWorkflow,
			Timeout:     defaultTimeout,
			MaxRetries:  defaultMaxRetries,
			Status:      plan.StatusPending,
		})
	}
	return milestones, truncated, nil
}

func parsePlanLines(raw string) []rawMilestone {
	var out []rawMilestone
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		tag, desc, ok := strings.Cut(line, ":")
		if !ok {
			out = append(out, rawMilestone{Description: line, Tag: "workflow"})
			continue
		}
		out = append(out, rawMilestone{Tag: strings.TrimSpace(tag), Description: strings.TrimSpace(desc)})
	}
	return out
}

func normalizeTag(tag string) plan.MilestoneType {
	switch strings.ToLower(tag) {
	case "navigate":
		return plan.TypeNavigate
	case "verify":
		return plan.TypeVerify
	case "primitive":
		return plan.TypePrimitive
	default:
		return plan.TypeWorkflow
	}
}

func (o *TaskOrchestrator) emit(connID, eventType string, data map[string]any) {
	if o.pushBus == nil || connID == "" {
		return
	}
	o.pushBus.SendByID(connID, push.NewEvent(eventType, data, time.Now()))
}
