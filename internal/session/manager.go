package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kina/internal/action"
	"kina/internal/decision"
)

// Reply is what one text turn produced.
type Reply struct {
	Response string
	Decision decision.Decision
	Action   *action.Result
}

// Respond runs one user turn through decider and, for tool calls, executor.
// It is the part of a cycle shared by voice and text clients.
func Respond(ctx context.Context, decider Decider, executor Executor, text string) Reply {
	d := decider.Process(ctx, text)
	switch v := d.(type) {
	case decision.ToolCall:
		res := executor.Execute(ctx, action.Request{Action: v.Name, Parameters: v.Parameters})
		return Reply{Response: res.Message, Decision: d, Action: &res}
	case decision.FinalAnswer:
		return Reply{Response: v.Text, Decision: d}
	}
	return Reply{Response: decision.Apology, Decision: d}
}

// Manager keeps one Decider per client session. Sessions unused for longer
// than ttl are evicted on access.
type Manager struct {
	newDecider func() Decider
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	decider Decider
	used    time.Time
}

func NewManager(newDecider func() Decider, ttl time.Duration) *Manager {
	return &Manager{
		newDecider: newDecider,
		ttl:        ttl,
		now:        time.Now,
		sessions:   map[string]*entry{},
	}
}

// Get returns the decider for id, creating the session when id is empty or
// unknown. The returned id is the one to hand back to the client.
func (m *Manager) Get(id string) (string, Decider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evict(now)

	if id == "" {
		id = uuid.NewString()
	}
	e, ok := m.sessions[id]
	if !ok {
		e = &entry{decider: m.newDecider()}
		m.sessions[id] = e
	}
	e.used = now
	return id, e.decider
}

// Reset clears the history of id. It reports whether the session existed.
func (m *Manager) Reset(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		e.decider.Reset()
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) evict(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for id, e := range m.sessions {
		if now.Sub(e.used) > m.ttl {
			delete(m.sessions, id)
		}
	}
}
