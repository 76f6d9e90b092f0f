package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// SpeakerRate is the rate the output device is opened at; everything else
// is resampled to it.
const SpeakerRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(SpeakerRate, SpeakerRate.N(time.Second/10))
	})
	return speakerErr
}

// PlayStream blocks until s is drained or ctx is done.
func PlayStream(ctx context.Context, s beep.Streamer, format beep.Format) error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}
	if format.SampleRate != SpeakerRate {
		s = beep.Resample(4, format.SampleRate, SpeakerRate, s)
	}

	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() { close(done) }))}
	speaker.Play(ctrl)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

// Player plays wav and mp3 files through the default output.
type Player struct{}

func (Player) Play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	default:
		s, format, err = wav.Decode(f)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", path, err)
	}
	defer s.Close()

	return PlayStream(ctx, s, format)
}
