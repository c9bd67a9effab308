package orchestrator

import (
	"context"
	"testing"

	"github.com/leochame/lavis/internal/executor"
	"github.com/leochame/lavis/internal/goalctx"
	"github.com/leochame/lavis/internal/memory"
	"github.com/leochame/lavis/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanLines_TaggedAndUntagged(t *testing.T) {
	raw := "navigate: open settings\n- verify: confirm the toggle is on\njust a bare line\n\n"
	lines := parsePlanLines(raw)
	require.Len(t, lines, 3)
	assert.Equal(t, "navigate", lines[0].Tag)
	assert.Equal(t, "open settings", lines[0].Description)
	assert.Equal(t, "verify", lines[1].Tag)
	assert.Equal(t, "confirm the toggle is on", lines[1].Description)
	assert.Equal(t, "workflow", lines[2].Tag)
	assert.Equal(t, "just a bare line", lines[2].Description)
}

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, plan.TypeNavigate, normalizeTag("Navigate"))
	assert.Equal(t, plan.TypeVerify, normalizeTag("VERIFY"))
	assert.Equal(t, plan.TypePrimitive, normalizeTag("primitive"))
	assert.Equal(t, plan.TypeWorkflow, normalizeTag("unknown-tag"))
}

type fakeExecutor struct {
	results []executor.Result
	calls   int
}

func (f *fakeExecutor) RunMilestone(ctx context.Context, m *plan.Milestone, goalCtx *goalctx.GlobalContext, turnMemory *memory.TurnMemory, connID string) executor.Result {
	r := f.results[f.calls]
	if f.calls < len(f.results)-1 {
		f.calls++
	}
	return r
}

func TestRunWithRetries_SucceedsFirstTry(t *testing.T) {
	o := New(nil, &fakeExecutor{results: []executor.Result{{Success: true, Summary: "done"}}}, nil, "")
	m := &plan.Milestone{MaxRetries: 2}
	res := o.runWithRetries(context.Background(), m, goalctx.New("g"), memory.New(10), "")
	assert.True(t, res.Success)
	assert.Equal(t, 0, m.RetriesUsed)
}

func TestRunWithRetries_RetriesThenSucceeds(t *testing.T) {
	fe := &fakeExecutor{results: []executor.Result{
		{Success: false, PostMortem: &plan.PostMortem{FailureReason: plan.ReasonClickMissed, SuggestedRecovery: "try again"}},
		{Success: true, Summary: "done"},
	}}
	o := New(nil, fe, nil, "")
	m := &plan.Milestone{MaxRetries: 2}
	res := o.runWithRetries(context.Background(), m, goalctx.New("g"), memory.New(10), "")
	assert.True(t, res.Success)
	assert.Equal(t, 1, m.RetriesUsed)
}

func TestRunWithRetries_ExhaustsRetries(t *testing.T) {
	fail := executor.Result{Success: false, PostMortem: &plan.PostMortem{FailureReason: plan.ReasonTimeout}}
	fe := &fakeExecutor{results: []executor.Result{fail, fail, fail}}
	o := New(nil, fe, nil, "")
	m := &plan.Milestone{MaxRetries: 2}
	res := o.runWithRetries(context.Background(), m, goalctx.New("g"), memory.New(10), "")
	assert.False(t, res.Success)
	assert.Equal(t, 2, m.RetriesUsed)
}

func TestRunWithRetries_CancelledReturnsImmediately(t *testing.T) {
	o := New(nil, &fakeExecutor{results: []executor.Result{{Success: true}}}, nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &plan.Milestone{MaxRetries: 2}
	res := o.runWithRetries(ctx, m, goalctx.New("g"), memory.New(10), "")
	assert.False(t, res.Success)
	assert.Equal(t, plan.ReasonUnknown, res.PostMortem.FailureReason)
}
