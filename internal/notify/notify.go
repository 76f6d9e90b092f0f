// Package notify gives the user feedback outside the spoken reply: the
// acknowledgment tone and desktop notifications.
package notify

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/gen2brain/beeep"

	"kina/internal/audio"
	"kina/internal/session"
)

// Tone is the "I'm listening" cue. A SoundFile, when set, replaces the
// generated sine.
type Tone struct {
	Hz        float64
	Duration  time.Duration
	SoundFile string
}

func (t Tone) Ack(ctx context.Context) error {
	if t.SoundFile != "" {
		f, err := os.Open(t.SoundFile)
		if err != nil {
			return err
		}
		s, format, err := mp3.Decode(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("decode %s: %w", t.SoundFile, err)
		}
		defer s.Close()
		return audio.PlayStream(ctx, s, format)
	}

	format := beep.Format{SampleRate: audio.SpeakerRate, NumChannels: 2, Precision: 2}
	return audio.PlayStream(ctx, Sine(format.SampleRate, t.Hz, t.Duration), format)
}

// Sine is a finite sine streamer with a short linear fade at both ends so
// the cue does not click.
func Sine(sr beep.SampleRate, hz float64, d time.Duration) beep.Streamer {
	n := sr.N(d)
	fade := min(sr.N(5*time.Millisecond), n/2)
	pos := 0

	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= n {
			return 0, false
		}
		k := 0
		for ; k < len(samples) && pos < n; k++ {
			gain := 0.3
			if fade > 0 {
				if pos < fade {
					gain *= float64(pos) / float64(fade)
				} else if n-pos < fade {
					gain *= float64(n-pos) / float64(fade)
				}
			}
			v := gain * math.Sin(2*math.Pi*hz*float64(pos)/float64(sr))
			samples[k][0], samples[k][1] = v, v
			pos++
		}
		return k, true
	})
}

// Desktop shows msg as a native notification (libnotify over D-Bus,
// Notification Center, Windows toasts).
type Desktop struct {
	Title string

	send func(title, msg string) error
}

func (d Desktop) Notify(ctx context.Context, msg string) error {
	send := d.send
	if send == nil {
		send = func(title, msg string) error { return beeep.Notify(title, msg, "") }
	}

	done := make(chan error, 1)
	go func() { done <- send(d.Title, msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observer shows "Listening..." when recording starts and the error of a
// failed cycle.
func (d Desktop) Observer() session.Observer { return desktopObserver{d: d} }

type desktopObserver struct {
	session.NopObserver
	d Desktop
}

func (o desktopObserver) Transition(_ string, _, to session.State) {
	if to == session.Recording {
		go o.notify("Listening...")
	}
}

func (o desktopObserver) CycleDone(r session.Report) {
	if r.Outcome == session.OutcomeFailed {
		go o.notify("Failed while " + r.FailedAt + ": " + r.Error)
	}
}

func (o desktopObserver) notify(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := o.d.Notify(ctx, msg); err != nil {
		log.Debug("Desktop notification failed", "err", err)
	}
}
