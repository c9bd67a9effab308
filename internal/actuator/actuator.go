// Package actuator implements SystemActuator (spec §4.1): the only component
// allowed to touch the real pointer, keyboard, clipboard, and shell. Callers
// pass logical coordinates; the actuator clamps them to a configured safe
// zone and reports the deviation it had to apply.
package actuator

import (
	"context"
	"fmt"
	"math/rand"
	"os/exec"
	"time"

	"github.com/leochame/lavis/internal/action"
	"github.com/leochame/lavis/internal/config"
	"github.com/leochame/lavis/internal/logging"
	"go.uber.org/zap"
)

// ExecutionReport is returned by every SystemActuator primitive (spec §3).
type ExecutionReport struct {
	Success      bool
	RequestedX   int
	RequestedY   int
	ActualX      int
	ActualY      int
	DeviationX   int
	DeviationY   int
	ExecutionMs  int64
	Message      string
}

// Backend abstracts the OS-specific primitive calls (move/click/type/key/
// shell/script/clipboard/volume). The pointer-path synthesis, safe-zone
// clamping, and drag dwell policy live in SystemActuator and are backend
// agnostic; Backend only performs the final, already-clamped motion. This
// mirrors spec §1's instruction that AppleScript/Robot-style OS wrappers are
// out of core scope and specified only by this capability interface.
type Backend interface {
	MoveTo(ctx context.Context, x, y int) error
	MouseDown(ctx context.Context, button string) error
	MouseUp(ctx context.Context, button string) error
	Scroll(ctx context.Context, amount int) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, combo string) error
	ClipboardGet(ctx context.Context) (string, error)
	ClipboardSet(ctx context.Context, text string) error
	VolumeGet(ctx context.Context) (int, error)
	VolumeSet(ctx context.Context, level int) error
	OpenApp(ctx context.Context, name string) error
	OpenURL(ctx context.Context, url string) error
	RevealInFinder(ctx context.Context, path string) error
	Notify(ctx context.Context, title, msg string) error
}

// SystemActuator is spec component C1.
type SystemActuator struct {
	cfg     config.ActuatorConfig
	backend Backend
	log     *zap.Logger
	rng     *rand.Rand
}

// New builds a SystemActuator over the given OS backend.
func New(cfg config.ActuatorConfig, backend Backend) *SystemActuator {
	return &SystemActuator{
		cfg:     cfg,
		backend: backend,
		log:     logging.Named("actuator"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// clamp restricts (x,y) to the configured safe zone, returning the clamped
// point. screenW/screenH are the logical screen dimensions from ScreenSource.
func (a *SystemActuator) clamp(x, y, screenW, screenH int) (int, int) {
	minX, minY := a.cfg.SafeMarginLeft, a.cfg.SafeMarginTop
	maxX, maxY := screenW-a.cfg.SafeMarginRight, screenH-a.cfg.SafeMarginBottom
	if maxX < minX {
		maxX = minX
	}
	if maxY < minY {
		maxY = minY
	}
	cx, cy := x, y
	if cx < minX {
		cx = minX
	} else if cx > maxX {
		cx = maxX
	}
	if cy < minY {
		cy = minY
	} else if cy > maxY {
		cy = maxY
	}
	return cx, cy
}

// deviationExceeds reports whether |Δx| or |Δy| exceed the configured
// threshold (spec §3 ExecutionReport invariant).
func (a *SystemActuator) deviationExceeds(dx, dy int) bool {
	return abs(dx) > a.cfg.DeviationThresh || abs(dy) > a.cfg.DeviationThresh
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// moveAndClick performs the full click pipeline for click/doubleClick/
// rightClick: clamp, walk a synthesized path with per-step delay, press, and
// report. The path starts at the clamped target itself (Backend exposes no
// current pointer position), so every step of it lands on that point; the
// pointer is not moved along a Bézier or straight approach from elsewhere.
func (a *SystemActuator) moveAndClick(ctx context.Context, x, y, screenW, screenH int, button string, double bool) ExecutionReport {
	start := time.Now()
	cx, cy := a.clamp(x, y, screenW, screenH)
	dx, dy := cx-x, cy-y

	path := a.synthesizePath(cx, cy, cx, cy) // start == end: every point is the target
	for _, p := range path {
		if err := a.backend.MoveTo(ctx, p.x, p.y); err != nil {
			return a.fail(x, y, cx, cy, dx, dy, start, fmt.Sprintf("move failed: %v", err))
		}
		time.Sleep(p.delay)
	}

	if err := a.backend.MouseDown(ctx, button); err != nil {
		return a.fail(x, y, cx, cy, dx, dy, start, fmt.Sprintf("mouse down failed: %v", err))
	}
	if err := a.backend.MouseUp(ctx, button); err != nil {
		return a.fail(x, y, cx, cy, dx, dy, start, fmt.Sprintf("mouse up failed: %v", err))
	}
	if double {
		time.Sleep(40 * time.Millisecond)
		if err := a.backend.MouseDown(ctx, button); err != nil {
			return a.fail(x, y, cx, cy, dx, dy, start, fmt.Sprintf("mouse down failed: %v", err))
		}
		if err := a.backend.MouseUp(ctx, button); err != nil {
			return a.fail(x, y, cx, cy, dx, dy, start, fmt.Sprintf("mouse up failed: %v", err))
		}
	}

	return a.ok(x, y, cx, cy, dx, dy, start, "ok")
}

// Click performs a left click at the logical (x, y).
func (a *SystemActuator) Click(ctx context.Context, x, y, screenW, screenH int) ExecutionReport {
	return a.moveAndClick(ctx, x, y, screenW, screenH, "left", false)
}

// DoubleClick performs a double left click.
func (a *SystemActuator) DoubleClick(ctx context.Context, x, y, screenW, screenH int) ExecutionReport {
	return a.moveAndClick(ctx, x, y, screenW, screenH, "left", true)
}

// RightClick performs a right click.
func (a *SystemActuator) RightClick(ctx context.Context, x, y, screenW, screenH int) ExecutionReport {
	return a.moveAndClick(ctx, x, y, screenW, screenH, "right", false)
}

// Drag implements spec §4.1's drag policy: press, dwell ≥50ms, path with
// ≥1ms per step (step count ≥ max(30, distance/3) to avoid OS drag-cancel),
// dwell ≥50ms, release.
func (a *SystemActuator) Drag(ctx context.Context, x1, y1, x2, y2, screenW, screenH int) ExecutionReport {
	start := time.Now()
	cx1, cy1 := a.clamp(x1, y1, screenW, screenH)
	cx2, cy2 := a.clamp(x2, y2, screenW, screenH)

	if err := a.backend.MoveTo(ctx, cx1, cy1); err != nil {
		return a.fail(x1, y1, cx1, cy1, cx1-x1, cy1-y1, start, fmt.Sprintf("move failed: %v", err))
	}
	if err := a.backend.MouseDown(ctx, "left"); err != nil {
		return a.fail(x1, y1, cx1, cy1, cx1-x1, cy1-y1, start, fmt.Sprintf("mouse down failed: %v", err))
	}
	time.Sleep(50 * time.Millisecond)

	path := a.synthesizePath(cx1, cy1, cx2, cy2)
	for _, p := range path {
		if err := a.backend.MoveTo(ctx, p.x, p.y); err != nil {
			_ = a.backend.MouseUp(ctx, "left")
			return a.fail(x2, y2, cx2, cy2, cx2-x2, cy2-y2, start, fmt.Sprintf("drag move failed: %v", err))
		}
		if p.delay < time.Millisecond {
			time.Sleep(time.Millisecond)
		} else {
			time.Sleep(p.delay)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if err := a.backend.MouseUp(ctx, "left"); err != nil {
		return a.fail(x2, y2, cx2, cy2, cx2-x2, cy2-y2, start, fmt.Sprintf("release failed: %v", err))
	}

	return a.ok(x2, y2, cx2, cy2, cx2-x2, cy2-y2, start, "ok")
}

// Scroll scrolls by amount (positive = down) at the current pointer position.
func (a *SystemActuator) Scroll(ctx context.Context, amount int) ExecutionReport {
	start := time.Now()
	if err := a.backend.Scroll(ctx, amount); err != nil {
		return ExecutionReport{Success: false, ExecutionMs: time.Since(start).Milliseconds(), Message: err.Error()}
	}
	return ExecutionReport{Success: true, ExecutionMs: time.Since(start).Milliseconds(), Message: "ok"}
}

// TypeText types the given text via the backend.
func (a *SystemActuator) TypeText(ctx context.Context, text string) ExecutionReport {
	start := time.Now()
	if err := a.backend.TypeText(ctx, text); err != nil {
		return ExecutionReport{Success: false, ExecutionMs: time.Since(start).Milliseconds(), Message: err.Error()}
	}
	return ExecutionReport{Success: true, ExecutionMs: time.Since(start).Milliseconds(), Message: "ok"}
}

// PressKey sends a key combo such as "cmd+c" or "ctrl+alt+delete".
func (a *SystemActuator) PressKey(ctx context.Context, combo string) ExecutionReport {
	start := time.Now()
	if err := a.backend.PressKey(ctx, combo); err != nil {
		return ExecutionReport{Success: false, ExecutionMs: time.Since(start).Milliseconds(), Message: err.Error()}
	}
	return ExecutionReport{Success: true, ExecutionMs: time.Since(start).Milliseconds(), Message: "ok"}
}

func (a *SystemActuator) PressEnter() ExecutionReport     { return a.PressKey(context.Background(), "enter") }
func (a *SystemActuator) PressEscape() ExecutionReport    { return a.PressKey(context.Background(), "escape") }
func (a *SystemActuator) PressTab() ExecutionReport       { return a.PressKey(context.Background(), "tab") }
func (a *SystemActuator) PressBackspace() ExecutionReport { return a.PressKey(context.Background(), "backspace") }
func (a *SystemActuator) Copy() ExecutionReport           { return a.PressKey(context.Background(), "cmd+c") }
func (a *SystemActuator) Paste() ExecutionReport          { return a.PressKey(context.Background(), "cmd+v") }
func (a *SystemActuator) Save() ExecutionReport           { return a.PressKey(context.Background(), "cmd+s") }
func (a *SystemActuator) Undo() ExecutionReport           { return a.PressKey(context.Background(), "cmd+z") }
func (a *SystemActuator) SelectAll() ExecutionReport      { return a.PressKey(context.Background(), "cmd+a") }

// OpenApp launches an application by name.
func (a *SystemActuator) OpenApp(ctx context.Context, name string) ExecutionReport {
	start := time.Now()
	if err := a.backend.OpenApp(ctx, name); err != nil {
		return ExecutionReport{Success: false, ExecutionMs: time.Since(start).Milliseconds(), Message: err.Error()}
	}
	return ExecutionReport{Success: true, ExecutionMs: time.Since(start).Milliseconds(), Message: "ok"}
}

// OpenURL opens a URL in the default browser.
func (a *SystemActuator) OpenURL(ctx context.Context, url string) ExecutionReport {
	start := time.Now()
	if err := a.backend.OpenURL(ctx, url); err != nil {
		return ExecutionReport{Success: false, ExecutionMs: time.Since(start).Milliseconds(), Message: err.Error()}
	}
	return ExecutionReport{Success: true, ExecutionMs: time.Since(start).Milliseconds(), Message: "ok"}
}

// RevealInFinder reveals a path in the platform file browser.
func (a *SystemActuator) RevealInFinder(ctx context.Context, path string) ExecutionReport {
	start := time.Now()
	if err := a.backend.RevealInFinder(ctx, path); err != nil {
		return ExecutionReport{Success: false, ExecutionMs: time.Since(start).Milliseconds(), Message: err.Error()}
	}
	return ExecutionReport{Success: true, ExecutionMs: time.Since(start).Milliseconds(), Message: "ok"}
}

// ClipboardGet reads the OS clipboard text.
func (a *SystemActuator) ClipboardGet(ctx context.Context) (string, error) {
	return a.backend.ClipboardGet(ctx)
}

// ClipboardSet writes text to the OS clipboard.
func (a *SystemActuator) ClipboardSet(ctx context.Context, text string) error {
	return a.backend.ClipboardSet(ctx, text)
}

// VolumeGet reads the system volume (0-100).
func (a *SystemActuator) VolumeGet(ctx context.Context) (int, error) {
	return a.backend.VolumeGet(ctx)
}

// VolumeSet sets the system volume (0-100).
func (a *SystemActuator) VolumeSet(ctx context.Context, level int) error {
	return a.backend.VolumeSet(ctx, level)
}

// Notify shows a system notification.
func (a *SystemActuator) Notify(ctx context.Context, title, msg string) ExecutionReport {
	start := time.Now()
	if err := a.backend.Notify(ctx, title, msg); err != nil {
		return ExecutionReport{Success: false, ExecutionMs: time.Since(start).Milliseconds(), Message: err.Error()}
	}
	return ExecutionReport{Success: true, ExecutionMs: time.Since(start).Milliseconds(), Message: "ok"}
}

// Dispatch translates an action.Action into the matching primitive call. It
// is the single entry point MicroExecutor uses so it never has to know which
// Backend method corresponds to which Action kind.
func (a *SystemActuator) Dispatch(ctx context.Context, act action.Action, screenW, screenH int) ExecutionReport {
	switch act.Kind {
	case action.KindClick:
		return a.Click(ctx, act.X, act.Y, screenW, screenH)
	case action.KindDoubleClick:
		return a.DoubleClick(ctx, act.X, act.Y, screenW, screenH)
	case action.KindRightClick:
		return a.RightClick(ctx, act.X, act.Y, screenW, screenH)
	case action.KindDrag:
		return a.Drag(ctx, act.X1, act.Y1, act.X2, act.Y2, screenW, screenH)
	case action.KindScroll:
		return a.Scroll(ctx, act.Amount)
	case action.KindType:
		return a.TypeText(ctx, act.Text)
	case action.KindKey:
		return a.PressKey(ctx, act.Combo)
	case action.KindShellExec:
		success, _, _, errStr := a.ShellExec(ctx, act.Cmd, time.Duration(a.cfg.ShellTimeoutSec)*time.Second)
		return ExecutionReport{Success: success, Message: errStr}
	case action.KindOpenApp:
		return a.OpenApp(ctx, act.AppName)
	case action.KindWait:
		time.Sleep(time.Duration(act.WaitMs) * time.Millisecond)
		return ExecutionReport{Success: true, Message: "waited"}
	case action.KindCompleteMilestone:
		return ExecutionReport{Success: true, Message: act.Summary}
	default:
		return ExecutionReport{Success: false, Message: fmt.Sprintf("unknown action kind %q", act.Kind)}
	}
}

func (a *SystemActuator) fail(x, y, cx, cy, dx, dy int, start time.Time, msg string) ExecutionReport {
	a.log.Warn("pointer primitive failed", zap.Int("x", x), zap.Int("y", y), zap.String("msg", msg))
	return ExecutionReport{
		Success:     false,
		RequestedX:  x,
		RequestedY:  y,
		ActualX:     cx,
		ActualY:     cy,
		DeviationX:  dx,
		DeviationY:  dy,
		ExecutionMs: time.Since(start).Milliseconds(),
		Message:     msg,
	}
}

func (a *SystemActuator) ok(x, y, cx, cy, dx, dy int, start time.Time, msg string) ExecutionReport {
	success := !a.deviationExceeds(dx, dy)
	return ExecutionReport{
		Success:     success,
		RequestedX:  x,
		RequestedY:  y,
		ActualX:     cx,
		ActualY:     cy,
		DeviationX:  dx,
		DeviationY:  dy,
		ExecutionMs: time.Since(start).Milliseconds(),
		Message:     msg,
	}
}

// ShellExec runs a shell command with a hard timeout, returning (success,
// combined output, exit code, error string). Never panics into the caller.
func (a *SystemActuator) ShellExec(ctx context.Context, cmd string, timeout time.Duration) (bool, string, int, string) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(cctx, "/bin/sh", "-c", cmd)
	out, err := c.CombinedOutput()
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return false, string(out), exitCode, err.Error()
	}
	return true, string(out), 0, ""
}

// OSScript runs script with a hard timeout through the same /bin/sh path as
// ShellExec, on every platform; it does not invoke osascript, so the script
// is interpreted as shell, not AppleScript.
func (a *SystemActuator) OSScript(ctx context.Context, script string, timeout time.Duration) (bool, string, int, string) {
	return a.ShellExec(ctx, script, timeout)
}
