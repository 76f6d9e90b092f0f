package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

const maxVolume = 150

type streamInfo struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Mixer is the slice of pactl the ducker drives.
type Mixer interface {
	SinkInputs(ctx context.Context) (string, error)
	SetSinkInputVolume(ctx context.Context, id, percent int) error
}

type pactl struct{}

func (pactl) SinkInputs(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return "", fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return string(out), nil
}

func (pactl) SetSinkInputVolume(ctx context.Context, id, percent int) error {
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)).Run()
}

// Ducker lowers every playback stream except our own while a response is
// spoken, then restores them.
type Ducker struct {
	mu          sync.Mutex
	mixer       Mixer
	active      bool
	selfNames   []string    // application.name values left alone
	originalVol map[int]int // sink input id -> volume before ducking
	minVolume   int
	fade        time.Duration
}

func NewDucker(selfNames []string, minVolume int, fade time.Duration) *Ducker {
	return &Ducker{
		mixer:       pactl{},
		selfNames:   slices.Clone(selfNames),
		originalVol: make(map[int]int),
		minVolume:   max(0, min(minVolume, maxVolume)),
		fade:        fade,
	}
}

// Duck scales every foreign stream to volume*factor, never below minVolume.
func (d *Ducker) Duck(ctx context.Context, factor float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.streams(ctx)
	if err != nil {
		return err
	}

	d.originalVol = make(map[int]int)
	var targets []fadeTarget
	for _, s := range streams {
		to := int(math.Round(float64(s.Volume) * factor))
		to = max(d.minVolume, min(to, maxVolume))

		d.originalVol[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: to})
	}

	if err := d.fadeAll(ctx, targets); err != nil {
		return err
	}
	d.active = true
	return nil
}

// Restore fades ducked streams back. Streams that appeared after Duck are
// not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.streams(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range streams {
		if orig, ok := d.originalVol[s.ID]; ok {
			targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
		}
	}

	if err := d.fadeAll(ctx, targets); err != nil {
		return err
	}
	d.originalVol = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) streams(ctx context.Context) ([]streamInfo, error) {
	text, err := d.mixer.SinkInputs(ctx)
	if err != nil {
		return nil, err
	}

	var out []streamInfo
	for _, s := range parseSinkInputs(text) {
		if !slices.Contains(d.selfNames, s.AppName) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (d *Ducker) fadeAll(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond

	steps := max(1, int(d.fade/minStep))
	stepDur := d.fade / time.Duration(steps)
	if d.fade <= 0 {
		steps = 0
	}

	for i := 0; i <= steps; i++ {
		frac := 1.0
		if steps > 0 {
			frac = float64(i) / float64(steps)
		}

		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.mixer.SetSinkInputVolume(ctx, t.id, max(0, min(v, maxVolume))); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}

		if i < steps {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(stepDur):
			}
		}
	}
	return nil
}

// parseSinkInputs reads `pactl list sink-inputs` output.
func parseSinkInputs(text string) []streamInfo {
	blocks := strings.Split(text, "Sink Input #")
	var res []streamInfo

	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		s := streamInfo{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) == 2 {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			}

			if rest, found := strings.CutPrefix(line, "application.name = "); found && s.AppName == "" {
				s.AppName = strings.Trim(rest, `"`)
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}
