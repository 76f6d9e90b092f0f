package session

import (
	"time"

	"kina/internal/action"
)

type State int

const (
	Idle State = iota
	Triggered
	Recording
	Transcribing
	Deciding
	Acting
	Synthesizing
	Playing
)

var stateNames = [...]string{"idle", "triggered", "recording", "transcribing", "deciding", "acting", "synthesizing", "playing"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Trigger starts a cycle. Origin names the source: wake, command, ipc.
type Trigger struct {
	Origin string
	At     time.Time
}

type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeEmpty  Outcome = "empty_transcript"
	OutcomeFailed Outcome = "failed"
)

// Report is the record of one cycle.
type Report struct {
	ID         string                   `json:"id"`
	Origin     string                   `json:"origin"`
	Started    time.Time                `json:"started"`
	Finished   time.Time                `json:"finished"`
	Outcome    Outcome                  `json:"outcome"`
	FailedAt   string                   `json:"failed_at,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Transcript string                   `json:"transcript,omitempty"`
	Audio      string                   `json:"audio,omitempty"`
	Decision   string                   `json:"decision,omitempty"`
	Source     string                   `json:"source,omitempty"`
	Action     *action.Result           `json:"action,omitempty"`
	Response   string                   `json:"response,omitempty"`
	Stages     map[string]time.Duration `json:"stages"`
}

// Observer is told about every transition, every finished cycle and every
// trigger dropped because a cycle was running.
type Observer interface {
	Transition(cycle string, from, to State)
	CycleDone(Report)
	TriggerDropped(Trigger)
}

// Observers fans out to each member.
type Observers []Observer

func (o Observers) Transition(cycle string, from, to State) {
	for _, ob := range o {
		ob.Transition(cycle, from, to)
	}
}

func (o Observers) CycleDone(r Report) {
	for _, ob := range o {
		ob.CycleDone(r)
	}
}

func (o Observers) TriggerDropped(t Trigger) {
	for _, ob := range o {
		ob.TriggerDropped(t)
	}
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) Transition(string, State, State) {}
func (NopObserver) CycleDone(Report)                {}
func (NopObserver) TriggerDropped(Trigger)          {}
