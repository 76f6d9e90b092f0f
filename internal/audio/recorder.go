// Package audio wraps the microphone (portaudio), the speaker (beep) and
// pactl ducking of other applications.
package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const SampleRate = 16000

var ErrNoAudio = errors.New("no audio recorded")

// Recorder captures mono 16 kHz float32 samples from the default input.
type Recorder struct {
	mu sync.Mutex
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Capture records one utterance per call: a fixed Duration, or until
// silence when Auto is set (Duration then caps the length).
type Capture struct {
	Rec      *Recorder
	Auto     bool
	Duration time.Duration
}

func (c Capture) Capture(ctx context.Context) ([]float32, error) {
	if c.Auto {
		return c.Rec.RecordAuto(ctx, c.Duration)
	}
	return c.Rec.RecordFor(ctx, c.Duration)
}

// RecordFor captures exactly d of audio, or less if ctx ends first.
func (r *Recorder) RecordFor(ctx context.Context, d time.Duration) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const frameSize = 1024

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	want := int(d.Seconds() * SampleRate)
	out := make([]float32, 0, want)

	for len(out) < want {
		if ctx.Err() != nil {
			break
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}

	if len(out) == 0 {
		return nil, ErrNoAudio
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}

// RecordAuto waits for speech and stops after a stretch of silence, or at
// maxDur.
func (r *Recorder) RecordAuto(ctx context.Context, maxDur time.Duration) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const frameSize = 320 // 20ms

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	if maxDur <= 0 {
		maxDur = 10 * time.Second
	}

	vad := newSilenceDetector(frameSize)
	out := make([]float32, 0, SampleRate*3)
	maxFrames := int(maxDur.Seconds() * SampleRate / frameSize)

	for range maxFrames {
		if ctx.Err() != nil {
			break
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}

		keep, done := vad.push(buf)
		if keep {
			out = append(out, buf...)
		}
		if done {
			break
		}
	}

	if len(out) == 0 {
		return nil, ErrNoAudio
	}
	return out, nil
}

// silenceDetector is the energy gate behind RecordAuto.
type silenceDetector struct {
	threshold     float64
	frameDur      time.Duration
	silenceLimit  time.Duration
	speaking      bool
	silenceFrames int
}

func newSilenceDetector(frameSize int) *silenceDetector {
	return &silenceDetector{
		threshold:    0.015,
		frameDur:     time.Duration(frameSize) * time.Second / SampleRate,
		silenceLimit: 600 * time.Millisecond,
	}
}

// push reports whether the frame belongs to the utterance and whether the
// utterance has ended.
func (v *silenceDetector) push(frame []float32) (keep, done bool) {
	if frameRMS(frame) > v.threshold {
		v.speaking = true
		v.silenceFrames = 0
		return true, false
	}
	if !v.speaking {
		return false, false
	}
	v.silenceFrames++
	if time.Duration(v.silenceFrames)*v.frameDur >= v.silenceLimit {
		return false, true
	}
	return true, false
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

// Frames is a blocking source of fixed-size int16 frames for wake-word
// spotting.
type Frames struct {
	stream *portaudio.Stream
	buf    []int16
}

func OpenFrames(sampleRate, frameLength int) (*Frames, error) {
	buf := make([]int16, frameLength)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameLength, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	return &Frames{stream: stream, buf: buf}, nil
}

// Read blocks for the next frame. The returned slice is reused.
func (f *Frames) Read() ([]int16, error) {
	if err := f.stream.Read(); err != nil {
		return nil, err
	}
	return f.buf, nil
}

func (f *Frames) Close() error {
	_ = f.stream.Stop()
	return f.stream.Close()
}
