package stt

import (
	"context"
	log "log/slog"
	"strings"
	"time"
)

// Engine is anything that can transcribe 16 kHz mono samples.
type Engine interface {
	TranscribePCM(ctx context.Context, pcm16k []float32, opt Options) (Result, error)
}

// Service is the transcription contract the session sees: text on success,
// the empty string on any failure.
type Service struct {
	engine  Engine
	opt     Options
	timeout time.Duration
}

func NewService(engine Engine, opt Options, timeout time.Duration) *Service {
	return &Service{engine: engine, opt: opt, timeout: timeout}
}

func (s *Service) Transcribe(ctx context.Context, pcm16k []float32) string {
	if len(pcm16k) == 0 {
		return ""
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.engine.TranscribePCM(ctx, pcm16k, s.opt)
	if err != nil {
		log.Error("Failed to transcribe", "samples", len(pcm16k), "err", err)
		return ""
	}

	text := strings.TrimSpace(res.Text)
	log.Info("Transcribed", "text", text, "lang", res.Language, "took", time.Since(start))
	return text
}
