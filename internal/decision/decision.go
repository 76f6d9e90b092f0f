// Package decision turns an utterance plus the conversation so far into
// either a tool call or a final answer.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"kina/internal/llm"
)

var (
	ErrDecode  = errors.New("undecodable model output")
	ErrService = errors.New("language model unavailable")
)

// Apology is the answer given whenever a turn cannot be decided.
const Apology = "Sorry, something went wrong on my side. Could you say that again?"

type Source string

const (
	SourceLLM   Source = "llm"
	SourceRules Source = "rules"
)

// Decision is either a ToolCall or a FinalAnswer.
type Decision interface {
	Source() Source
	isDecision()
}

type ToolCall struct {
	Name       string
	Parameters map[string]any
	From       Source
}

func (t ToolCall) Source() Source { return t.From }
func (ToolCall) isDecision()      {}

// FinalAnswer is text to speak back. Failure is set when the answer is the
// apology for a turn that could not be decided.
type FinalAnswer struct {
	Text    string
	Failure error
	From    Source
}

func (f FinalAnswer) Source() Source { return f.From }
func (FinalAnswer) isDecision()      {}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type Mode string

const (
	ModeLLM      Mode = "llm"
	ModeRules    Mode = "rules"
	ModeLLMRules Mode = "llm+rules"
)

// Engine owns one conversation. It is safe for concurrent use but
// serializes turns.
type Engine struct {
	mu      sync.Mutex
	history []Turn

	model     llm.Model
	rules     *Rules
	mode      Mode
	system    string
	timeout   time.Duration
	idleReset time.Duration
	now       func() time.Time
}

type Option func(*Engine)

func WithMode(m Mode) Option { return func(e *Engine) { e.mode = m } }

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithIdleReset clears the history before a turn when the previous turn is
// older than d. Zero disables it.
func WithIdleReset(d time.Duration) Option { return func(e *Engine) { e.idleReset = d } }

func New(model llm.Model, opts ...Option) *Engine {
	e := &Engine{
		model:  model,
		rules:  &Rules{},
		mode:   ModeLLM,
		system: SystemPrompt(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.model == nil {
		e.mode = ModeRules
	}
	return e
}

// Process decides one user turn. It never returns an error; failures come
// back as the apology FinalAnswer with Failure set, and only the user turn
// is recorded for them.
func (e *Engine) Process(ctx context.Context, text string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.idleReset > 0 && len(e.history) > 0 && now.Sub(e.history[len(e.history)-1].At) > e.idleReset {
		log.Info("Conversation idle, starting over", "turns", len(e.history))
		e.history = nil
	}
	e.history = append(e.history, Turn{Role: RoleUser, Text: text, At: now})

	if e.mode == ModeRules {
		return e.commit(e.rules.Interpret(text))
	}

	d, err := e.ask(ctx)
	if err == nil {
		return e.commit(d)
	}

	if errors.Is(err, ErrService) && e.mode == ModeLLMRules {
		log.Warn("Model unavailable, using keyword rules", "err", err)
		return e.commit(e.rules.Interpret(text))
	}

	log.Error("Failed to decide", "err", err)
	return FinalAnswer{Text: Apology, Failure: err, From: SourceLLM}
}

func (e *Engine) ask(ctx context.Context) (d Decision, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrService, r)
		}
	}()

	raw, err := e.model.Generate(ctx, Render(e.system, e.history))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}

	log.Debug("Model output", "raw", raw)
	return Parse(raw)
}

func (e *Engine) commit(d Decision) Decision {
	var text string
	switch v := d.(type) {
	case ToolCall:
		params, _ := json.Marshal(v.Parameters)
		text = fmt.Sprintf("Using tool: %s with parameters %s", v.Name, params)
	case FinalAnswer:
		text = v.Text
	}
	e.history = append(e.history, Turn{Role: RoleAssistant, Text: text, At: e.now()})
	return d
}

func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

// History returns a copy of the conversation so far.
func (e *Engine) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.history))
	copy(out, e.history)
	return out
}
