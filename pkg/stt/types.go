// Package stt is the speech-to-text boundary: engine-neutral types and the
// Service the session controller calls.
package stt

import "errors"

var ErrNoAudio = errors.New("no audio samples provided")

type Options struct {
	Language      string // "auto", "en", "id", ...
	TranslateToEn bool
	Threads       int // <=0 => NumCPU()
	InitialPrompt string
	BeamSize      int // 0 = greedy
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}
