// Package wake turns wake-word detections into session triggers.
package wake

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os/exec"
	"strings"
	"time"

	"kina/internal/session"
)

// Spotter is an in-process keyword engine. ProcessFrame returns the index
// of the detected keyword, or -1.
type Spotter interface {
	ProcessFrame(frame []int16) (int, error)
	FrameLength() int
	SampleRate() int
}

type FrameSource interface {
	Read() ([]int16, error)
	Close() error
}

// Listener feeds frames from src to a Spotter and emits a trigger on every
// detection.
//
// The input device is released while Skip reports true and after every
// detection, so the recorder can open it for the cycle. A Spotter with a
// Reset method drops its buffered audio at each pause.
type Listener struct {
	Spotter Spotter
	Open    func(sampleRate, frameLength int) (FrameSource, error)

	// Cooldown suppresses repeated detections of the same utterance.
	Cooldown time.Duration

	// Skip, when set and true, pauses listening (e.g. while a cycle runs).
	Skip func() bool

	// Poll is how often a paused listener checks Skip. Defaults to 100ms.
	Poll time.Duration

	now func() time.Time
}

func (l *Listener) Run(ctx context.Context, out chan<- session.Trigger) error {
	log.Info("Listening for wake word")

	var last time.Time
	for {
		if !l.waitIdle(ctx) {
			return nil
		}
		paused, err := l.listen(ctx, out, &last)
		if err != nil || !paused {
			return err
		}
		if r, ok := l.Spotter.(interface{ Reset() }); ok {
			r.Reset()
		}
		if !sleep(ctx, l.poll()) {
			return nil
		}
	}
}

// listen reads frames until a detection, a pause or the end of the
// source. paused reports whether listening should resume later.
func (l *Listener) listen(ctx context.Context, out chan<- session.Trigger, last *time.Time) (paused bool, err error) {
	src, err := l.Open(l.Spotter.SampleRate(), l.Spotter.FrameLength())
	if err != nil {
		return false, fmt.Errorf("open frames: %w", err)
	}
	defer src.Close()

	now := l.now
	if now == nil {
		now = time.Now
	}

	for ctx.Err() == nil {
		frame, err := src.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("read frame: %w", err)
		}
		if l.Skip != nil && l.Skip() {
			log.Debug("Wake listener paused")
			return true, nil
		}

		idx, err := l.Spotter.ProcessFrame(frame)
		if err != nil {
			return false, fmt.Errorf("process frame: %w", err)
		}
		if idx < 0 {
			continue
		}

		at := now()
		if !last.IsZero() && at.Sub(*last) < l.Cooldown {
			continue
		}
		*last = at

		log.Debug("Wake word detected", "keyword", idx)
		if !emit(ctx, out, session.Trigger{Origin: "wake", At: at}) {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

func (l *Listener) waitIdle(ctx context.Context) bool {
	for l.Skip != nil && l.Skip() {
		if !sleep(ctx, l.poll()) {
			return false
		}
	}
	return ctx.Err() == nil
}

func (l *Listener) poll() time.Duration {
	if l.Poll > 0 {
		return l.Poll
	}
	return 100 * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Command runs an external detector and emits one trigger per non-empty
// line it prints.
type Command struct {
	Args []string
}

func (c Command) Run(ctx context.Context, out chan<- session.Trigger) error {
	if len(c.Args) == 0 {
		return errors.New("wake command not configured")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Args[0], err)
	}
	log.Info("Wake detector started", "cmd", c.Args[0], "pid", cmd.Process.Pid)

	if err := Lines(ctx, stdout, out); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return err
	}

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("wake detector exited: %w", err)
	}
	return nil
}

// Lines emits a trigger for every non-empty line read from r.
func Lines(ctx context.Context, r io.Reader, out chan<- session.Trigger) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		log.Debug("Wake detector fired", "line", line)
		if !emit(ctx, out, session.Trigger{Origin: "command", At: time.Now()}) {
			return nil
		}
	}
	return sc.Err()
}

func emit(ctx context.Context, out chan<- session.Trigger, t session.Trigger) bool {
	select {
	case out <- t:
		return true
	case <-ctx.Done():
		return false
	}
}
