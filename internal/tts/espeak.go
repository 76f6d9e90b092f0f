package tts

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Espeak synthesizes offline with espeak-ng.
type Espeak struct {
	Voice string // e.g. "id", "en"
	Speed int    // words per minute, 0 = default
}

func (e Espeak) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	cmd := exec.CommandContext(ctx, "espeak-ng", e.args(text, outPath)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("espeak-ng: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e Espeak) args(text, outPath string) []string {
	args := []string{"-w", outPath}
	if e.Voice != "" {
		args = append(args, "-v", e.Voice)
	}
	if e.Speed > 0 {
		args = append(args, "-s", fmt.Sprint(e.Speed))
	}
	return append(args, "--", text)
}
