//go:build windows

package osctl

import (
	"context"
	"fmt"
	"strings"
)

func Default() System {
	return System{
		Launcher: processLauncher{},
		Volume:   nircmdVolume{run: execRunner, has: hasTool},
		Screen:   newDisplayScreen(),
		Keyboard: sendKeys{run: execRunner},
		Windows:  unsupported{},
		Browser:  defaultBrowser{},
	}
}

// nircmdVolume needs nircmd on PATH; without it volume is unsupported.
type nircmdVolume struct {
	run Runner
	has func(string) bool
}

func (v nircmdVolume) SetVolume(ctx context.Context, percent int) error {
	if !v.has("nircmd") {
		return ErrUnsupported
	}
	return v.run(ctx, "nircmd", "setsysvolume", fmt.Sprint(65535*percent/100))
}

func (v nircmdVolume) SetMute(ctx context.Context, mute bool) error {
	if !v.has("nircmd") {
		return ErrUnsupported
	}
	flag := "0"
	if mute {
		flag = "1"
	}
	return v.run(ctx, "nircmd", "mutesysvolume", flag)
}

type sendKeys struct {
	run Runner
}

func (k sendKeys) send(ctx context.Context, keys string) error {
	script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.SendKeys]::SendWait('%s')`,
		strings.ReplaceAll(keys, "'", "''"))
	return k.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

func (k sendKeys) Type(ctx context.Context, text string) error {
	var b strings.Builder
	for _, r := range text {
		if strings.ContainsRune("+^%~(){}[]", r) {
			b.WriteString("{" + string(r) + "}")
			continue
		}
		b.WriteRune(r)
	}
	return k.send(ctx, b.String())
}

func (k sendKeys) Press(ctx context.Context, key string) error {
	switch strings.ToLower(key) {
	case "enter", "return":
		return k.send(ctx, "{ENTER}")
	case "tab":
		return k.send(ctx, "{TAB}")
	case "esc", "escape":
		return k.send(ctx, "{ESC}")
	default:
		return k.Type(ctx, key)
	}
}

func (k sendKeys) Hotkey(ctx context.Context, keys ...string) error {
	var b strings.Builder
	for i, key := range keys {
		if i == len(keys)-1 {
			b.WriteString(strings.ToLower(key))
			break
		}
		switch strings.ToLower(key) {
		case "ctrl", "control":
			b.WriteString("^")
		case "alt":
			b.WriteString("%")
		case "shift":
			b.WriteString("+")
		}
	}
	return k.send(ctx, b.String())
}
