package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func frame(level float32) []float32 {
	f := make([]float32, 320)
	for i := range f {
		f[i] = level
	}
	return f
}

func TestSilenceDetector(t *testing.T) {
	v := newSilenceDetector(320)

	keep, done := v.push(frame(0))
	assert.False(t, keep, "leading silence is dropped")
	assert.False(t, done)

	keep, done = v.push(frame(0.2))
	assert.True(t, keep)
	assert.False(t, done)

	// 600ms of 20ms frames ends the utterance on the 30th silent frame
	for i := 1; i < 30; i++ {
		keep, done = v.push(frame(0))
		assert.True(t, keep)
		assert.False(t, done, "frame %d", i)
	}
	keep, done = v.push(frame(0))
	assert.False(t, keep)
	assert.True(t, done)
}

func TestFrameRMS(t *testing.T) {
	assert.InDelta(t, 0.5, frameRMS(frame(0.5)), 1e-6)
	assert.Zero(t, frameRMS(nil))
}
