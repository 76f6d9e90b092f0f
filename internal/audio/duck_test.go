package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sinkInputs = `Sink Input #41
	Driver: protocol-native.c
	Sink: 0
	Volume: front-left: 52428 /  80% / -5.81 dB,   front-right: 52428 /  80% / -5.81 dB
	Properties:
		application.name = "Firefox"
		media.name = "AudioStream"
Sink Input #57
	Driver: protocol-native.c
	Volume: mono: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "kina"
Sink Input #63
	Volume: front-left: 32768 /  50% / -18.06 dB
	Properties:
		application.name = "spotify"
`

type fakeMixer struct {
	text string
	set  map[int]int
}

func (f *fakeMixer) SinkInputs(context.Context) (string, error) { return f.text, nil }

func (f *fakeMixer) SetSinkInputVolume(_ context.Context, id, percent int) error {
	f.set[id] = percent
	return nil
}

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(sinkInputs)
	assert.Equal(t, []streamInfo{
		{ID: 41, Volume: 80, AppName: "Firefox"},
		{ID: 57, Volume: 100, AppName: "kina"},
		{ID: 63, Volume: 50, AppName: "spotify"},
	}, got)

	assert.Empty(t, parseSinkInputs(""))
}

func TestDuckSkipsSelfAndRestores(t *testing.T) {
	m := &fakeMixer{text: sinkInputs, set: map[int]int{}}
	d := NewDucker([]string{"kina"}, 20, 0)
	d.mixer = m

	require.NoError(t, d.Duck(t.Context(), 0.3))
	assert.Equal(t, map[int]int{41: 24, 63: 20}, m.set)

	// already ducked: no-op
	m.set = map[int]int{}
	require.NoError(t, d.Duck(t.Context(), 0.3))
	assert.Empty(t, m.set)

	m.text = `Sink Input #41
	Volume: front-left: 15000 /  24% / -5.81 dB
	Properties:
		application.name = "Firefox"
Sink Input #63
	Volume: front-left: 15000 /  20% / -5.81 dB
	Properties:
		application.name = "spotify"
Sink Input #70
	Volume: front-left: 15000 /  90% / -5.81 dB
	Properties:
		application.name = "mpv"
`
	require.NoError(t, d.Restore(t.Context()))
	assert.Equal(t, map[int]int{41: 80, 63: 50}, m.set)
}
