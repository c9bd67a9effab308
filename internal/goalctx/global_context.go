// Package goalctx implements GlobalContext (spec §4.5): the long-lived
// per-goal state an entire plan shares across milestones. It is the only
// channel through which the MicroExecutor learns cross-milestone history.
package goalctx

import (
	"fmt"
	"strings"
	"sync"

	"github.com/leochame/lavis/internal/plan"
)

const recentActionCap = 10

type completedMilestone struct {
	description string
	success     bool
}

type recentAction struct {
	action  string
	result  string
	success bool
}

// Counters tracks aggregate progress counters for a goal.
type Counters struct {
	TotalSteps int
	Success    int
	Failed     int
	Retries    int
}

// GlobalContext is spec component C5: created by the Orchestrator at goal
// start, destroyed at goal end.
type GlobalContext struct {
	mu sync.RWMutex

	goal               string
	completedLog       []completedMilestone
	currentMilestone   string
	variables          map[string]any
	recentActions      []recentAction
	counters           Counters
	lastScreenDigest   string
	recoveryNote       string
	recovering         bool
}

// New creates a GlobalContext for a fresh goal.
func New(goal string) *GlobalContext {
	return &GlobalContext{
		goal:      goal,
		variables: make(map[string]any),
	}
}

// StartMilestone records the milestone the executor is about to drive.
func (g *GlobalContext) StartMilestone(m *plan.Milestone) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currentMilestone = m.Description
}

// CompleteMilestone appends a completed-milestone log entry and updates the
// step counters.
func (g *GlobalContext) CompleteMilestone(result string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completedLog = append(g.completedLog, completedMilestone{description: result, success: success})
	g.counters.TotalSteps++
	if success {
		g.counters.Success++
		g.recovering = false
		g.recoveryNote = ""
	} else {
		g.counters.Failed++
		g.recovering = true
	}
}

// RecordRetry increments the retry counter (called by the orchestrator
// before re-invoking the executor on a failed milestone with retries left).
func (g *GlobalContext) RecordRetry() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters.Retries++
}

// SetVariable stores a shared variable visible to later milestones.
func (g *GlobalContext) SetVariable(key string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.variables[key] = value
}

// GetVariable retrieves a shared variable, returning def if absent.
func (g *GlobalContext) GetVariable(key string, def any) any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if v, ok := g.variables[key]; ok {
		return v
	}
	return def
}

// AddActionSummary records one executed action in the bounded recent-action
// deque (size ≤ 10, FIFO eviction of the oldest).
func (g *GlobalContext) AddActionSummary(action, result string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recentActions = append(g.recentActions, recentAction{action: action, result: result, success: success})
	if len(g.recentActions) > recentActionCap {
		g.recentActions = g.recentActions[len(g.recentActions)-recentActionCap:]
	}
}

// UpdateFromExecution folds one execution cycle's result into the context:
// the latest screen digest and, on failure only, the action summary as the
// recovery note surfaced in the next context injection.
func (g *GlobalContext) UpdateFromExecution(screenDigest, actionSummary string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastScreenDigest = screenDigest
	if !success {
		g.recovering = true
		g.recoveryNote = truncate(actionSummary, 200)
	}
}

// GenerateContextInjection renders the compact briefing the MicroExecutor
// prompt embeds: goal, counters, last three completed milestones, current
// milestone, last three actions, and a recovery note if the previous step
// failed. This is the *only* channel through which the executor learns
// cross-milestone history (spec §4.5).
func (g *GlobalContext) GenerateContextInjection() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", g.goal)
	fmt.Fprintf(&b, "Progress: %d steps, %d success, %d failed, %d retries\n",
		g.counters.TotalSteps, g.counters.Success, g.counters.Failed, g.counters.Retries)

	if n := len(g.completedLog); n > 0 {
		start := n - 3
		if start < 0 {
			start = 0
		}
		b.WriteString("Recent milestones:\n")
		for _, cm := range g.completedLog[start:] {
			mark := "✓"
			if !cm.success {
				mark = "✗"
			}
			fmt.Fprintf(&b, "  %s %s\n", mark, cm.description)
		}
	}

	if g.currentMilestone != "" {
		fmt.Fprintf(&b, "Current milestone: %s\n", g.currentMilestone)
	}

	if n := len(g.recentActions); n > 0 {
		start := n - 3
		if start < 0 {
			start = 0
		}
		b.WriteString("Recent actions:\n")
		for _, ra := range g.recentActions[start:] {
			mark := "ok"
			if !ra.success {
				mark = "failed"
			}
			fmt.Fprintf(&b, "  - %s -> %s (%s)\n", ra.action, ra.result, mark)
		}
	}

	if g.recovering && g.recoveryNote != "" {
		fmt.Fprintf(&b, "Recovery note: previous step failed: %s\n", g.recoveryNote)
	}

	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
