package actuator

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ExecBackend is the default Backend implementation: it shells out to the
// platform's own automation tooling (osascript on darwin, xdotool on linux),
// following spec §1's directive that OS-specific wrappers are referenced
// only by the SystemActuator capability, not reimplemented as a bound C
// library. Every primitive is a short-lived external process.
type ExecBackend struct{}

// NewExecBackend constructs the default OS backend.
func NewExecBackend() *ExecBackend { return &ExecBackend{} }

func (b *ExecBackend) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w (%s)", name, args, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *ExecBackend) MoveTo(ctx context.Context, x, y int) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`tell application "System Events" to set the position of the mouse cursor to {%d, %d}`, x, y)
		return b.run(ctx, "osascript", "-e", script)
	default:
		return b.run(ctx, "xdotool", "mousemove", fmt.Sprint(x), fmt.Sprint(y))
	}
}

func (b *ExecBackend) MouseDown(ctx context.Context, button string) error {
	if runtime.GOOS == "darwin" {
		return nil // no-op on darwin: this backend issues no mouse-button press there
	}
	code := buttonCode(button)
	return b.run(ctx, "xdotool", "mousedown", code)
}

func (b *ExecBackend) MouseUp(ctx context.Context, button string) error {
	if runtime.GOOS == "darwin" {
		return nil
	}
	code := buttonCode(button)
	return b.run(ctx, "xdotool", "mouseup", code)
}

func buttonCode(button string) string {
	if button == "right" {
		return "3"
	}
	return "1"
}

func (b *ExecBackend) Scroll(ctx context.Context, amount int) error {
	if runtime.GOOS == "darwin" {
		return nil
	}
	dir := "4"
	n := amount
	if amount < 0 {
		dir = "5"
		n = -amount
	}
	return b.run(ctx, "xdotool", "click", "--repeat", fmt.Sprint(n), dir)
}

func (b *ExecBackend) TypeText(ctx context.Context, text string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`tell application "System Events" to keystroke %q`, text)
		return b.run(ctx, "osascript", "-e", script)
	default:
		return b.run(ctx, "xdotool", "type", "--", text)
	}
}

func (b *ExecBackend) PressKey(ctx context.Context, combo string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`tell application "System Events" to keystroke %q`, combo)
		return b.run(ctx, "osascript", "-e", script)
	default:
		return b.run(ctx, "xdotool", "key", strings.ReplaceAll(combo, "cmd", "super"))
	}
}

func (b *ExecBackend) ClipboardGet(ctx context.Context) (string, error) {
	name := "pbpaste"
	if runtime.GOOS != "darwin" {
		name = "xclip"
	}
	cmd := exec.CommandContext(ctx, name, "-o", "-selection", "clipboard")
	if runtime.GOOS == "darwin" {
		cmd = exec.CommandContext(ctx, "pbpaste")
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *ExecBackend) ClipboardSet(ctx context.Context, text string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		cmd = exec.CommandContext(ctx, "pbcopy")
	} else {
		cmd = exec.CommandContext(ctx, "xclip", "-selection", "clipboard")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}

func (b *ExecBackend) VolumeGet(ctx context.Context) (int, error) {
	if runtime.GOOS != "darwin" {
		return 0, fmt.Errorf("volume control unsupported on %s", runtime.GOOS)
	}
	cmd := exec.CommandContext(ctx, "osascript", "-e", "output volume of (get volume settings)")
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	var level int
	fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &level)
	return level, nil
}

func (b *ExecBackend) VolumeSet(ctx context.Context, level int) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("volume control unsupported on %s", runtime.GOOS)
	}
	return b.run(ctx, "osascript", "-e", fmt.Sprintf("set volume output volume %d", level))
}

func (b *ExecBackend) OpenApp(ctx context.Context, name string) error {
	if runtime.GOOS == "darwin" {
		return b.run(ctx, "open", "-a", name)
	}
	return b.run(ctx, "xdg-open", name)
}

func (b *ExecBackend) OpenURL(ctx context.Context, url string) error {
	if runtime.GOOS == "darwin" {
		return b.run(ctx, "open", url)
	}
	return b.run(ctx, "xdg-open", url)
}

func (b *ExecBackend) RevealInFinder(ctx context.Context, path string) error {
	if runtime.GOOS == "darwin" {
		return b.run(ctx, "open", "-R", path)
	}
	return b.run(ctx, "xdg-open", path)
}

func (b *ExecBackend) Notify(ctx context.Context, title, msg string) error {
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`display notification %q with title %q`, msg, title)
		return b.run(ctx, "osascript", "-e", script)
	}
	return b.run(ctx, "notify-send", title, msg)
}
