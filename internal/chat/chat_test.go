package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/leochame/lavis/internal/action"
	"github.com/leochame/lavis/internal/actuator"
	"github.com/leochame/lavis/internal/config"
	"github.com/leochame/lavis/internal/decision"
	"github.com/leochame/lavis/internal/memory"
	"github.com/leochame/lavis/internal/plan"
	"github.com/leochame/lavis/internal/push"
	"github.com/stretchr/testify/assert"
)

type fakeBackend struct{ failMove bool }

func (f *fakeBackend) MoveTo(ctx context.Context, x, y int) error {
	if f.failMove {
		return errors.New("move failed")
	}
	return nil
}
func (f *fakeBackend) MouseDown(ctx context.Context, button string) error    { return nil }
func (f *fakeBackend) MouseUp(ctx context.Context, button string) error     { return nil }
func (f *fakeBackend) Scroll(ctx context.Context, amount int) error         { return nil }
func (f *fakeBackend) TypeText(ctx context.Context, text string) error      { return nil }
func (f *fakeBackend) PressKey(ctx context.Context, combo string) error     { return nil }
func (f *fakeBackend) ClipboardGet(ctx context.Context) (string, error)     { return "", nil }
func (f *fakeBackend) ClipboardSet(ctx context.Context, text string) error  { return nil }
func (f *fakeBackend) VolumeGet(ctx context.Context) (int, error)           { return 0, nil }
func (f *fakeBackend) VolumeSet(ctx context.Context, level int) error       { return nil }
func (f *fakeBackend) OpenApp(ctx context.Context, name string) error       { return nil }
func (f *fakeBackend) OpenURL(ctx context.Context, url string) error        { return nil }
func (f *fakeBackend) RevealInFinder(ctx context.Context, path string) error { return nil }
func (f *fakeBackend) Notify(ctx context.Context, title, msg string) error  { return nil }

func newTestActuator(fail bool) *actuator.SystemActuator {
	return actuator.New(config.ActuatorConfig{DeviationThresh: 50}, &fakeBackend{failMove: fail})
}

func TestSummarizePlan_Completed(t *testing.T) {
	p := &plan.Plan{Goal: "organize desktop", Status: plan.PlanCompleted, Milestones: []*plan.Milestone{{}, {}}}
	s := summarizePlan(p)
	assert.Contains(t, s, "organize desktop")
	assert.Contains(t, s, "2 steps")
}

func TestSummarizePlan_FailedWithPostMortem(t *testing.T) {
	m := &plan.Milestone{Description: "click save", PostMortem: &plan.PostMortem{FailureReason: plan.ReasonClickMissed}}
	p := &plan.Plan{Goal: "save file", Status: plan.PlanFailed, Milestones: []*plan.Milestone{m}, CurrentIdx: 0}
	s := summarizePlan(p)
	assert.Contains(t, s, "click save")
	assert.Contains(t, s, "CLICK_MISSED")
}

func TestExecuteOnce_SuccessReturnsCompletionSummary(t *testing.T) {
	svc := New(Deps{Actuator: newTestActuator(false), ScreenW: 1920, ScreenH: 1080})
	bundle := decision.Bundle{
		Thought: "clicking save",
		ExecuteNow: &decision.ExecuteNow{
			Actions: []action.Action{action.Click(100, 100)},
		},
		CompletionSummary: "saved the file",
	}
	out := svc.executeOnce(context.Background(), bundle, "")
	assert.Equal(t, "saved the file", out)
}

func TestExecuteOnce_FailureReportsActionFailed(t *testing.T) {
	svc := New(Deps{Actuator: newTestActuator(true), ScreenW: 1920, ScreenH: 1080})
	bundle := decision.Bundle{
		Thought: "clicking save",
		ExecuteNow: &decision.ExecuteNow{
			Actions: []action.Action{action.Click(100, 100)},
		},
	}
	out := svc.executeOnce(context.Background(), bundle, "")
	assert.Contains(t, out, "clicking save")
	assert.Contains(t, out, "action failed")
}

type fakeTtsGate struct{ speak bool }

func (f fakeTtsGate) ShouldSpeak(ctx context.Context, text string) (bool, error) { return f.speak, nil }

type fakeAsyncTts struct{ sessionID, text, reqID string }

func (f *fakeAsyncTts) Submit(sessionID, text, requestID string) {
	f.sessionID, f.text, f.reqID = sessionID, text, requestID
}

func TestCoordinateTts_NoActiveConnectionLeavesAudioNotPending(t *testing.T) {
	bus := push.New()
	svc := New(Deps{Push: bus, TtsGate: fakeTtsGate{speak: true}, AsyncTts: &fakeAsyncTts{}})
	result := Result{}
	svc.coordinateTts(context.Background(), "missing-session", "hello", "req-1", true, &result)
	assert.False(t, result.AudioPending)
}

func TestCoordinateTts_SkipsWhenGateSaysNo(t *testing.T) {
	fa := &fakeAsyncTts{}
	svc := New(Deps{TtsGate: fakeTtsGate{speak: false}, AsyncTts: fa})
	result := Result{}
	svc.coordinateTts(context.Background(), "s1", "ok", "req-2", true, &result)
	assert.False(t, result.AudioPending)
	assert.Empty(t, fa.text)
}

func TestCoordinateTts_NoopWhenNotNeeded(t *testing.T) {
	svc := New(Deps{})
	result := Result{}
	svc.coordinateTts(context.Background(), "s1", "ok", "req-3", false, &result)
	assert.False(t, result.AudioPending)
}

func TestReset_ClearsTurnMemory(t *testing.T) {
	tm := memory.New(10)
	tm.Append(memory.Entry{Content: "hi"})
	svc := New(Deps{TurnMemory: tm})
	svc.Reset()
	assert.Equal(t, 0, tm.Stats().TotalMessages)
}
