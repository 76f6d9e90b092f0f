//go:build darwin

package osctl

import (
	"context"
	"fmt"
	"strings"
)

func Default() System {
	return System{
		Launcher: bundleLauncher{run: execRunner},
		Volume:   osascriptVolume{run: execRunner},
		Screen:   newDisplayScreen(),
		Keyboard: osascriptKeyboard{run: execRunner},
		Windows:  unsupported{},
		Browser:  defaultBrowser{},
	}
}

type bundleLauncher struct {
	run Runner
}

func (l bundleLauncher) Launch(ctx context.Context, path string) error {
	if strings.HasSuffix(path, ".app") {
		return l.run(ctx, "open", path)
	}
	return processLauncher{}.Launch(ctx, path)
}

type osascriptVolume struct {
	run Runner
}

func (v osascriptVolume) SetVolume(ctx context.Context, percent int) error {
	return v.run(ctx, "osascript", "-e", fmt.Sprintf("set volume output volume %d", percent))
}

func (v osascriptVolume) SetMute(ctx context.Context, mute bool) error {
	return v.run(ctx, "osascript", "-e", fmt.Sprintf("set volume output muted %t", mute))
}

type osascriptKeyboard struct {
	run Runner
}

func (k osascriptKeyboard) Type(ctx context.Context, text string) error {
	return k.systemEvents(ctx, fmt.Sprintf("keystroke %q", text))
}

func (k osascriptKeyboard) Press(ctx context.Context, key string) error {
	switch strings.ToLower(key) {
	case "enter", "return":
		return k.systemEvents(ctx, "key code 36")
	case "tab":
		return k.systemEvents(ctx, "key code 48")
	case "esc", "escape":
		return k.systemEvents(ctx, "key code 53")
	default:
		return k.systemEvents(ctx, fmt.Sprintf("keystroke %q", key))
	}
}

func (k osascriptKeyboard) Hotkey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	mods, last := keys[:len(keys)-1], keys[len(keys)-1]

	var using []string
	for _, m := range mods {
		switch strings.ToLower(m) {
		case "cmd", "command":
			using = append(using, "command down")
		case "ctrl", "control":
			using = append(using, "control down")
		case "alt", "option":
			using = append(using, "option down")
		case "shift":
			using = append(using, "shift down")
		}
	}

	script := fmt.Sprintf("keystroke %q", last)
	if len(using) > 0 {
		script += " using {" + strings.Join(using, ", ") + "}"
	}
	return k.systemEvents(ctx, script)
}

func (k osascriptKeyboard) systemEvents(ctx context.Context, script string) error {
	return k.run(ctx, "osascript", "-e", `tell application "System Events" to `+script)
}
