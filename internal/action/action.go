// Package action defines the tagged-union Action type issued by the
// MicroExecutor's decision step and consumed by SystemActuator. Modeled as a
// plain value type (kind + payload) rather than an interface hierarchy so it
// serializes cleanly to and from the model's structured output.
package action

// Kind identifies which variant of Action is populated.
type Kind string

const (
	KindClick             Kind = "click"
	KindDoubleClick       Kind = "doubleClick"
	KindRightClick        Kind = "rightClick"
	KindDrag              Kind = "drag"
	KindScroll            Kind = "scroll"
	KindType              Kind = "type"
	KindKey               Kind = "key"
	KindShellExec         Kind = "shellExec"
	KindOpenApp           Kind = "openApp"
	KindWait              Kind = "wait"
	KindCompleteMilestone Kind = "completeMilestone"
)

// Action is the tagged union described by spec §3 "Action". Only the fields
// relevant to Kind are meaningful; the rest are zero.
type Action struct {
	Kind Kind `json:"kind"`

	// click/doubleClick/rightClick
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// drag
	X1 int `json:"x1,omitempty"`
	Y1 int `json:"y1,omitempty"`
	X2 int `json:"x2,omitempty"`
	Y2 int `json:"y2,omitempty"`

	// scroll
	Amount int `json:"amount,omitempty"`

	// type
	Text string `json:"text,omitempty"`

	// key (e.g. "cmd+c", "ctrl+alt+delete")
	Combo string `json:"combo,omitempty"`

	// shellExec
	Cmd string `json:"cmd,omitempty"`

	// openApp
	AppName string `json:"appName,omitempty"`

	// wait
	WaitMs int `json:"waitMs,omitempty"`

	// completeMilestone
	Summary string `json:"summary,omitempty"`
}

func Click(x, y int) Action       { return Action{Kind: KindClick, X: x, Y: y} }
func DoubleClick(x, y int) Action { return Action{Kind: KindDoubleClick, X: x, Y: y} }
func RightClick(x, y int) Action  { return Action{Kind: KindRightClick, X: x, Y: y} }
func Drag(x1, y1, x2, y2 int) Action {
	return Action{Kind: KindDrag, X1: x1, Y1: y1, X2: x2, Y2: y2}
}
func Scroll(amount int) Action        { return Action{Kind: KindScroll, Amount: amount} }
func Type(text string) Action         { return Action{Kind: KindType, Text: text} }
func Key(combo string) Action         { return Action{Kind: KindKey, Combo: combo} }
func ShellExec(cmd string) Action     { return Action{Kind: KindShellExec, Cmd: cmd} }
func OpenApp(name string) Action      { return Action{Kind: KindOpenApp, AppName: name} }
func Wait(ms int) Action              { return Action{Kind: KindWait, WaitMs: ms} }
func CompleteMilestone(s string) Action {
	return Action{Kind: KindCompleteMilestone, Summary: s}
}

// IsPointer reports whether the action targets a logical coordinate and must
// go through SystemActuator's safe-zone clamp.
func (a Action) IsPointer() bool {
	switch a.Kind {
	case KindClick, KindDoubleClick, KindRightClick, KindDrag:
		return true
	default:
		return false
	}
}

// Summary renders a short human-readable description used in GlobalContext's
// recent-action digest and TurnMemory's per-action entries.
func (a Action) Summary() string {
	switch a.Kind {
	case KindClick:
		return summarizeCoord("click", a.X, a.Y)
	case KindDoubleClick:
		return summarizeCoord("double-click", a.X, a.Y)
	case KindRightClick:
		return summarizeCoord("right-click", a.X, a.Y)
	case KindDrag:
		return summarizeDrag(a.X1, a.Y1, a.X2, a.Y2)
	case KindScroll:
		return summarizeAmount("scroll", a.Amount)
	case KindType:
		return summarizeText(a.Text)
	case KindKey:
		return "key " + a.Combo
	case KindShellExec:
		return "shell " + a.Cmd
	case KindOpenApp:
		return "open " + a.AppName
	case KindWait:
		return summarizeAmount("wait ms", a.WaitMs)
	case KindCompleteMilestone:
		return "complete: " + a.Summary
	default:
		return string(a.Kind)
	}
}
