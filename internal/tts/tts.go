// Package tts turns response text into a WAV file.
package tts

import (
	"context"
	"errors"
	log "log/slog"
)

var (
	ErrSampleMissing = errors.New("speaker reference sample missing")
	ErrEmptyText     = errors.New("nothing to synthesize")
)

// Synthesizer writes speech for text to outPath as WAV.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

// Fallback tries Primary and, when it fails, Secondary.
type Fallback struct {
	Primary   Synthesizer
	Secondary Synthesizer
}

func (f Fallback) Synthesize(ctx context.Context, text, outPath string) error {
	err := f.Primary.Synthesize(ctx, text, outPath)
	if err == nil || f.Secondary == nil || errors.Is(err, ErrEmptyText) || ctx.Err() != nil {
		return err
	}
	log.Warn("Primary synthesizer failed, using fallback", "err", err)
	return f.Secondary.Synthesize(ctx, text, outPath)
}
