// Package plan defines the Plan/Milestone/PostMortem data model shared by
// TaskOrchestrator and MicroExecutor (spec §3).
package plan

import "time"

// MilestoneType tags the kind of high-level step a milestone represents.
type MilestoneType string

const (
	TypeNavigate  MilestoneType = "navigate"
	TypeWorkflow  MilestoneType = "workflow"
	TypeVerify    MilestoneType = "verify"
	TypePrimitive MilestoneType = "primitive"
)

// MilestoneStatus is the milestone lifecycle state.
type MilestoneStatus string

const (
	StatusPending    MilestoneStatus = "PENDING"
	StatusInProgress MilestoneStatus = "IN_PROGRESS"
	StatusSuccess    MilestoneStatus = "SUCCESS"
	StatusFailed     MilestoneStatus = "FAILED"
	StatusSkipped    MilestoneStatus = "SKIPPED"
)

// Terminal reports whether the status can never change again.
func (s MilestoneStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// FailureReason is the stable taxonomy a PostMortem's failure is tagged
// with (spec §4.7).
type FailureReason string

const (
	ReasonElementNotFound  FailureReason = "ELEMENT_NOT_FOUND"
	ReasonClickMissed      FailureReason = "CLICK_MISSED"
	ReasonInfiniteLoop     FailureReason = "INFINITE_LOOP"
	ReasonAppNotResponding FailureReason = "APP_NOT_RESPONDING"
	ReasonUnexpectedDialog FailureReason = "UNEXPECTED_DIALOG"
	ReasonTimeout          FailureReason = "TIMEOUT"
	ReasonUnknown          FailureReason = "UNKNOWN"
)

// PostMortem is attached to a milestone on failure (spec §3).
type PostMortem struct {
	LastObservedScreen string
	TriedStrategies    []string
	FailureReason      FailureReason
	SuggestedRecovery  string
}

// Milestone is one semantic step of a Plan (spec §3).
type Milestone struct {
	ID             string
	Description    string
	Type           MilestoneType
	ActionBudget   int
	Timeout        time.Duration
	MaxRetries     int
	Status         MilestoneStatus
	StartedAt      time.Time
	EndedAt        time.Time
	ResultSummary  string
	PostMortem     *PostMortem
	RetriesUsed    int
}

// Status values the orchestrator may derive the overall plan status from.
type Status string

const (
	PlanPending   Status = "PENDING"
	PlanRunning   Status = "RUNNING"
	PlanCompleted Status = "COMPLETED"
	PlanFailed    Status = "FAILED"
	PlanCancelled Status = "CANCELLED"
)

// Plan is an ordered sequence of Milestones (spec §3).
type Plan struct {
	ID          string
	Goal        string
	Milestones  []*Milestone
	CurrentIdx  int
	Status      Status
	CreatedAt   time.Time
}

// DeriveStatus computes the plan's overall status from its milestones: any
// FAILED (after retries exhausted) makes the plan FAILED; all SUCCESS (or
// SKIPPED) makes it COMPLETED; otherwise it's still RUNNING.
func (p *Plan) DeriveStatus() Status {
	allDone := true
	for _, m := range p.Milestones {
		if m.Status == StatusFailed {
			return PlanFailed
		}
		if !m.Status.Terminal() {
			allDone = false
		}
	}
	if allDone {
		return PlanCompleted
	}
	return PlanRunning
}

// CurrentMilestone returns the milestone at CurrentIdx, or nil if the plan
// is exhausted.
func (p *Plan) CurrentMilestone() *Milestone {
	if p.CurrentIdx < 0 || p.CurrentIdx >= len(p.Milestones) {
		return nil
	}
	return p.Milestones[p.CurrentIdx]
}

// Advance moves CurrentIdx to the next milestone. A milestone is never
// re-executed after success: Advance only moves forward.
func (p *Plan) Advance() {
	p.CurrentIdx++
}
