// Package osctl is the OS automation layer used by the action dispatcher:
// process launch, output volume, screen capture, keyboard input and the
// default browser. Platform backends shell out to the usual desktop tools.
package osctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/browser"
)

var ErrUnsupported = errors.New("not supported on this platform")

type Launcher interface {
	Launch(ctx context.Context, path string) error
}

type Volume interface {
	SetVolume(ctx context.Context, percent int) error
	SetMute(ctx context.Context, mute bool) error
}

type Screen interface {
	Capture(ctx context.Context, path string) error
}

type Keyboard interface {
	Type(ctx context.Context, text string) error
	// Press sends a single named key: "enter".
	Press(ctx context.Context, key string) error
	// Hotkey sends a chord such as ("ctrl", "t").
	Hotkey(ctx context.Context, keys ...string) error
}

// Windows exposes a readiness signal for a freshly launched application.
type Windows interface {
	WaitReady(ctx context.Context, app string) error
}

type Browser interface {
	OpenURL(url string) error
}

// System bundles the backends of one platform.
type System struct {
	Launcher Launcher
	Volume   Volume
	Screen   Screen
	Keyboard Keyboard
	Windows  Windows
	Browser  Browser
}

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func hasTool(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

type defaultBrowser struct{}

func (defaultBrowser) OpenURL(url string) error {
	return browser.OpenURL(url)
}

// processLauncher starts programs detached from the daemon.
type processLauncher struct{}

func (processLauncher) Launch(ctx context.Context, path string) error {
	cmd := exec.Command(path)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	go cmd.Wait()
	return nil
}

type unsupported struct{}

func (unsupported) SetVolume(context.Context, int) error    { return ErrUnsupported }
func (unsupported) SetMute(context.Context, bool) error     { return ErrUnsupported }
func (unsupported) Capture(context.Context, string) error   { return ErrUnsupported }
func (unsupported) Type(context.Context, string) error      { return ErrUnsupported }
func (unsupported) Press(context.Context, string) error     { return ErrUnsupported }
func (unsupported) Hotkey(context.Context, ...string) error { return ErrUnsupported }
func (unsupported) WaitReady(context.Context, string) error { return ErrUnsupported }
