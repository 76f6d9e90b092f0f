//go:build linux

package osctl

import (
	"context"
	"fmt"
	"os"
	"strings"
)

func Default() System {
	wayland := os.Getenv("WAYLAND_DISPLAY") != ""
	return System{
		Launcher: processLauncher{},
		Volume:   pactlVolume{run: execRunner},
		Screen:   linuxScreen{run: execRunner, has: hasTool, wayland: wayland, x11: newDisplayScreen()},
		Keyboard: linuxKeyboard{run: execRunner, has: hasTool, wayland: wayland},
		Windows:  xdotoolWindows{run: execRunner, has: hasTool, x11: os.Getenv("DISPLAY") != ""},
		Browser:  defaultBrowser{},
	}
}

type pactlVolume struct {
	run Runner
}

func (v pactlVolume) SetVolume(ctx context.Context, percent int) error {
	return v.run(ctx, "pactl", "set-sink-volume", "@DEFAULT_SINK@", fmt.Sprintf("%d%%", percent))
}

func (v pactlVolume) SetMute(ctx context.Context, mute bool) error {
	flag := "0"
	if mute {
		flag = "1"
	}
	return v.run(ctx, "pactl", "set-sink-mute", "@DEFAULT_SINK@", flag)
}

// linuxScreen grabs X11 displays directly. Wayland compositors refuse
// that, so there the first installed capture tool is used.
type linuxScreen struct {
	run     Runner
	has     func(string) bool
	wayland bool
	x11     Screen
}

func (s linuxScreen) Capture(ctx context.Context, path string) error {
	if !s.wayland {
		return s.x11.Capture(ctx, path)
	}

	type tool struct {
		name string
		args []string
	}
	tools := []tool{
		{"grim", []string{path}},
		{"gnome-screenshot", []string{"-f", path}},
		{"spectacle", []string{"-b", "-n", "-f", "-o", path}},
	}
	for _, t := range tools {
		if s.has(t.name) {
			return s.run(ctx, t.name, t.args...)
		}
	}
	return fmt.Errorf("no screenshot tool found: %w", ErrUnsupported)
}

// linuxKeyboard drives wtype on Wayland and xdotool on X11.
type linuxKeyboard struct {
	run     Runner
	has     func(string) bool
	wayland bool
}

func (k linuxKeyboard) tool() (string, error) {
	if k.wayland && k.has("wtype") {
		return "wtype", nil
	}
	if k.has("xdotool") {
		return "xdotool", nil
	}
	return "", fmt.Errorf("no keyboard tool found: %w", ErrUnsupported)
}

func (k linuxKeyboard) Type(ctx context.Context, text string) error {
	t, err := k.tool()
	if err != nil {
		return err
	}
	if t == "wtype" {
		return k.run(ctx, "wtype", "--", text)
	}
	return k.run(ctx, "xdotool", "type", "--delay", "20", "--", text)
}

func (k linuxKeyboard) Press(ctx context.Context, key string) error {
	t, err := k.tool()
	if err != nil {
		return err
	}
	name := xKeyName(key)
	if t == "wtype" {
		return k.run(ctx, "wtype", "-k", name)
	}
	return k.run(ctx, "xdotool", "key", name)
}

func (k linuxKeyboard) Hotkey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	t, err := k.tool()
	if err != nil {
		return err
	}

	if t == "wtype" {
		mods, last := keys[:len(keys)-1], keys[len(keys)-1]
		var args []string
		for _, m := range mods {
			args = append(args, "-M", m)
		}
		args = append(args, "-k", xKeyName(last))
		for i := len(mods) - 1; i >= 0; i-- {
			args = append(args, "-m", mods[i])
		}
		return k.run(ctx, "wtype", args...)
	}

	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = xKeyName(key)
	}
	return k.run(ctx, "xdotool", "key", strings.Join(names, "+"))
}

func xKeyName(key string) string {
	switch strings.ToLower(key) {
	case "enter", "return":
		return "Return"
	case "tab":
		return "Tab"
	case "esc", "escape":
		return "Escape"
	default:
		return key
	}
}

// xdotoolWindows blocks until a visible window of the application class
// exists and focuses it; this is the readiness signal X11 exposes.
type xdotoolWindows struct {
	run Runner
	has func(string) bool
	x11 bool
}

func (w xdotoolWindows) WaitReady(ctx context.Context, app string) error {
	if !w.x11 || !w.has("xdotool") {
		return ErrUnsupported
	}
	class := strings.Fields(app)
	if len(class) == 0 {
		return ErrUnsupported
	}
	return w.run(ctx, "xdotool", "search", "--sync", "--onlyvisible", "--class", class[0], "windowactivate", "--sync", "%1")
}
