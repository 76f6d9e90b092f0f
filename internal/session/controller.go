// Package session sequences one voice interaction from trigger to spoken
// reply and keeps per-client conversations for the HTTP API.
package session

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"kina/internal/action"
	"kina/internal/decision"
)

type Acker interface {
	Ack(ctx context.Context) error
}

type Capturer interface {
	Capture(ctx context.Context) ([]float32, error)
}

// Archiver keeps a captured utterance and returns where it went.
type Archiver interface {
	Keep(id string, pcm []float32) (string, error)
}

// Transcriber returns "" when nothing usable was heard.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) string
}

type Decider interface {
	Process(ctx context.Context, text string) decision.Decision
	Reset()
	History() []decision.Turn
}

type Executor interface {
	Execute(ctx context.Context, req action.Request) action.Result
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

type Player interface {
	Play(ctx context.Context, path string) error
}

type Ducker interface {
	Duck(ctx context.Context, factor float64) error
	Restore(ctx context.Context) error
}

type Timeouts struct {
	Act        time.Duration
	Synthesize time.Duration
	Play       time.Duration
}

type Deps struct {
	Ack         Acker // optional
	Capture     Capturer
	Transcriber Transcriber
	Decider     Decider
	Executor    Executor
	Synthesizer Synthesizer
	Player      Player
	Ducker      Ducker   // optional
	Archive     Archiver // optional
	Observer    Observer
}

type Options struct {
	OutputDir  string
	DuckFactor float64
	Timeouts   Timeouts
}

// Controller runs at most one cycle at a time.
type Controller struct {
	deps Deps
	opt  Options

	mu    sync.Mutex
	state State
	busy  bool
}

func NewController(deps Deps, opt Options) *Controller {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	return &Controller{deps: deps, opt: opt}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Reset clears the voice conversation.
func (c *Controller) Reset() { c.deps.Decider.Reset() }

// Run starts a cycle for each trigger until ctx is done or triggers is
// closed. Triggers that arrive while a cycle is running are dropped.
func (c *Controller) Run(ctx context.Context, triggers <-chan Trigger) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-triggers:
			if !ok {
				return
			}
			if !c.acquire() {
				c.drop(t)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.cycle(ctx, t)
			}()
		}
	}
}

// Cycle runs one full interaction and always ends in Idle. It fails with
// ErrBusy when another cycle is running.
func (c *Controller) Cycle(ctx context.Context, t Trigger) Report {
	if !c.acquire() {
		c.drop(t)
		return Report{Origin: t.Origin, Started: time.Now(), Finished: time.Now(), Outcome: OutcomeFailed, Error: ErrBusy.Error()}
	}
	return c.cycle(ctx, t)
}

func (c *Controller) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

func (c *Controller) drop(t Trigger) {
	log.Warn("Cycle in progress, trigger dropped", "origin", t.Origin)
	c.deps.Observer.TriggerDropped(t)
}

func (c *Controller) cycle(ctx context.Context, t Trigger) (rep Report) {
	rep = Report{
		ID:      uuid.NewString(),
		Origin:  t.Origin,
		Started: time.Now(),
		Stages:  map[string]time.Duration{},
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Cycle panicked", "cycle", rep.ID, "panic", r)
			rep.Outcome = OutcomeFailed
			rep.FailedAt = c.State().String()
			rep.Error = fmt.Sprintf("panic: %v", r)
		}
		c.enter(rep.ID, Idle)
		rep.Finished = time.Now()

		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()

		log.Info("Cycle done", "cycle", rep.ID, "outcome", rep.Outcome, "took", rep.Finished.Sub(rep.Started))
		c.deps.Observer.CycleDone(rep)
	}()

	c.enter(rep.ID, Triggered)
	if c.deps.Ack != nil {
		if err := c.deps.Ack.Ack(ctx); err != nil {
			log.Warn("Acknowledgment tone failed", "err", err)
		}
	}

	c.enter(rep.ID, Recording)
	start := time.Now()
	pcm, err := c.deps.Capture.Capture(ctx)
	rep.Stages["recording"] = time.Since(start)
	if err != nil {
		return c.fail(rep, Recording, err)
	}
	if c.deps.Archive != nil {
		if path, err := c.deps.Archive.Keep(rep.ID, pcm); err != nil {
			log.Warn("Failed to keep capture", "cycle", rep.ID, "err", err)
		} else {
			rep.Audio = path
		}
	}

	c.enter(rep.ID, Transcribing)
	start = time.Now()
	rep.Transcript = c.deps.Transcriber.Transcribe(ctx, pcm)
	rep.Stages["transcribing"] = time.Since(start)
	if rep.Transcript == "" {
		log.Info("Nothing heard", "cycle", rep.ID)
		rep.Outcome = OutcomeEmpty
		return rep
	}

	c.enter(rep.ID, Deciding)
	start = time.Now()
	d := c.deps.Decider.Process(ctx, rep.Transcript)
	rep.Stages["deciding"] = time.Since(start)
	rep.Source = string(d.Source())

	switch v := d.(type) {
	case decision.ToolCall:
		rep.Decision = "tool_call:" + v.Name
		c.enter(rep.ID, Acting)
		start = time.Now()
		res := c.act(ctx, v)
		rep.Stages["acting"] = time.Since(start)
		rep.Action = &res
		rep.Response = res.Message
	case decision.FinalAnswer:
		rep.Decision = "final_answer"
		rep.Response = v.Text
		if v.Failure != nil {
			rep.Error = v.Failure.Error()
		}
	}

	c.enter(rep.ID, Synthesizing)
	start = time.Now()
	out := filepath.Join(c.opt.OutputDir, "response_"+rep.ID+".wav")
	defer os.Remove(out)

	if err := c.synthesize(ctx, rep.Response, out); err != nil {
		rep.Stages["synthesizing"] = time.Since(start)
		return c.fail(rep, Synthesizing, err)
	}
	rep.Stages["synthesizing"] = time.Since(start)

	c.enter(rep.ID, Playing)
	start = time.Now()
	err = c.play(ctx, out)
	rep.Stages["playing"] = time.Since(start)
	if err != nil {
		return c.fail(rep, Playing, err)
	}

	rep.Outcome = OutcomeOK
	return rep
}

func (c *Controller) act(ctx context.Context, tc decision.ToolCall) action.Result {
	ctx, cancel := withTimeout(ctx, c.opt.Timeouts.Act)
	defer cancel()
	return c.deps.Executor.Execute(ctx, action.Request{Action: tc.Name, Parameters: tc.Parameters})
}

func (c *Controller) synthesize(ctx context.Context, text, out string) error {
	ctx, cancel := withTimeout(ctx, c.opt.Timeouts.Synthesize)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return c.deps.Synthesizer.Synthesize(ctx, text, out)
}

func (c *Controller) play(ctx context.Context, path string) error {
	ctx, cancel := withTimeout(ctx, c.opt.Timeouts.Play)
	defer cancel()

	if c.deps.Ducker != nil {
		if err := c.deps.Ducker.Duck(ctx, c.opt.DuckFactor); err != nil {
			log.Warn("Failed to duck other audio", "err", err)
		}
		defer func() {
			// restore even when playback was cancelled
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			if err := c.deps.Ducker.Restore(rctx); err != nil {
				log.Warn("Failed to restore other audio", "err", err)
			}
		}()
	}
	return c.deps.Player.Play(ctx, path)
}

func (c *Controller) fail(rep Report, at State, err error) Report {
	log.Error("Cycle failed", "cycle", rep.ID, "stage", at, "err", err)
	rep.Outcome = OutcomeFailed
	rep.FailedAt = at.String()
	rep.Error = err.Error()
	return rep
}

func (c *Controller) enter(cycle string, to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	log.Debug("State", "cycle", cycle, "from", from, "to", to)
	c.deps.Observer.Transition(cycle, from, to)
}

var ErrBusy = errors.New("a cycle is already running")

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
