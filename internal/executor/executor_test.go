package executor

import (
	"context"
	"testing"

	"github.com/leochame/lavis/internal/actuator"
	"github.com/leochame/lavis/internal/plan"
	"github.com/leochame/lavis/internal/skills"
	"github.com/stretchr/testify/assert"
)

func TestInferFailureReason_HintWins(t *testing.T) {
	reason := inferFailureReason(plan.ReasonTimeout, nil, "anything")
	assert.Equal(t, plan.ReasonTimeout, reason)
}

func TestInferFailureReason_DialogFromThought(t *testing.T) {
	reason := inferFailureReason(plan.ReasonUnknown, nil, "An unexpected dialog appeared blocking the button")
	assert.Equal(t, plan.ReasonUnexpectedDialog, reason)
}

func TestInferFailureReason_AppNotResponding(t *testing.T) {
	reason := inferFailureReason(plan.ReasonUnknown, nil, "The application seems frozen and not responding")
	assert.Equal(t, plan.ReasonAppNotResponding, reason)
}

func TestInferFailureReason_InfiniteLoop(t *testing.T) {
	reports := []actuator.ExecutionReport{
		{RequestedX: 10, RequestedY: 20, Success: false},
		{RequestedX: 10, RequestedY: 20, Success: false},
		{RequestedX: 10, RequestedY: 20, Success: false},
	}
	reason := inferFailureReason(plan.ReasonUnknown, reports, "")
	assert.Equal(t, plan.ReasonInfiniteLoop, reason)
}

func TestInferFailureReason_ClickMissed(t *testing.T) {
	reports := []actuator.ExecutionReport{
		{RequestedX: 10, RequestedY: 20, Success: false, Message: "element not found at target"},
	}
	reason := inferFailureReason(plan.ReasonUnknown, reports, "")
	assert.Equal(t, plan.ReasonClickMissed, reason)
}

func TestInferFailureReason_DefaultUnknown(t *testing.T) {
	reason := inferFailureReason(plan.ReasonUnknown, nil, "")
	assert.Equal(t, plan.ReasonUnknown, reason)
}

func TestAllSameAction(t *testing.T) {
	same := []actuator.ExecutionReport{
		{RequestedX: 5, RequestedY: 5},
		{RequestedX: 5, RequestedY: 5},
		{RequestedX: 5, RequestedY: 5},
	}
	assert.True(t, allSameAction(same))

	diff := []actuator.ExecutionReport{
		{RequestedX: 5, RequestedY: 5},
		{RequestedX: 6, RequestedY: 5},
		{RequestedX: 5, RequestedY: 5},
	}
	assert.False(t, allSameAction(diff))

	assert.False(t, allSameAction(same[:2]))
}

func TestReportSummary(t *testing.T) {
	assert.Equal(t, "success", reportSummary(actuator.ExecutionReport{Success: true}))
	assert.Equal(t, "failed: nope", reportSummary(actuator.ExecutionReport{Success: false, Message: "nope"}))
}

type fakeTools struct{ specs []skills.ToolSpec }

func (f fakeTools) Snapshot() []skills.ToolSpec { return f.specs }

func TestBuildSystemPrompt_IncludesMilestoneAndTools(t *testing.T) {
	m := &plan.Milestone{Description: "Open the settings menu"}
	tools := fakeTools{specs: []skills.ToolSpec{{Name: "open_terminal", Description: "Opens a terminal"}}}

	prompt := buildSystemPrompt(context.Background(), m, tools)
	assert.Contains(t, prompt, "Open the settings menu")
	assert.Contains(t, prompt, "open_terminal")
	assert.Contains(t, prompt, "completeMilestone")
}

func TestLastN(t *testing.T) {
	reports := []actuator.ExecutionReport{{Message: "a"}, {Message: "b"}, {Message: "c"}}
	assert.Len(t, lastN(reports, 2), 2)
	assert.Equal(t, "c", lastN(reports, 2)[1].Message)
	assert.Len(t, lastN(reports, 10), 3)
}

func TestIsHardFailure(t *testing.T) {
	assert.True(t, isHardFailure(actuator.ExecutionReport{Message: "Permission denied by OS"}))
	assert.False(t, isHardFailure(actuator.ExecutionReport{Message: "element not found"}))
}
