package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kina/internal/action"
	"kina/internal/session"
)

func open(t *testing.T) *Journal {
	j, err := Open(t.Context(), filepath.Join(t.TempDir(), "state", "kina.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := open(t)
	base := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

	first := session.Report{
		ID: "a", Origin: "wake", Started: base, Finished: base.Add(7 * time.Second),
		Outcome: session.OutcomeOK, Transcript: "open chrome", Audio: "/captures/a.wav", Decision: "tool_call:open_app", Source: "llm",
		Action:   &action.Result{Action: action.OpenApp, Status: action.StatusOK, Message: "Opening chrome.", Payload: map[string]any{"app": "chrome"}},
		Response: "Opening chrome.",
		Stages:   map[string]time.Duration{"recording": 5 * time.Second},
	}
	second := session.Report{
		ID: "b", Origin: "ipc", Started: base.Add(500 * time.Millisecond), Finished: base.Add(time.Minute),
		Outcome: session.OutcomeFailed, FailedAt: "playing", Error: "device busy",
	}
	require.NoError(t, j.Record(t.Context(), first))
	require.NoError(t, j.Record(t.Context(), second))

	got, err := j.Recent(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "playing", got[0].FailedAt)
	assert.Nil(t, got[0].Action)

	a := got[1]
	assert.True(t, base.Equal(a.Started))
	assert.Equal(t, session.OutcomeOK, a.Outcome)
	require.NotNil(t, a.Action)
	assert.Equal(t, action.StatusOK, a.Action.Status)
	assert.Equal(t, "chrome", a.Action.Payload["app"])
	assert.Equal(t, 5*time.Second, a.Stages["recording"])
	assert.Equal(t, "/captures/a.wav", a.Audio)

	got, err = j.Recent(t.Context(), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecordRejectsDuplicateAndMissingID(t *testing.T) {
	j := open(t)
	r := session.Report{ID: "x", Origin: "wake", Outcome: session.OutcomeEmpty}

	require.NoError(t, j.Record(t.Context(), r))
	assert.Error(t, j.Record(t.Context(), r))
	assert.Error(t, j.Record(t.Context(), session.Report{}))
}

func TestObserverRecordsCycles(t *testing.T) {
	j := open(t)
	j.Observer().CycleDone(session.Report{ID: "c", Origin: "command", Outcome: session.OutcomeOK})

	got, err := j.Recent(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "command", got[0].Origin)
}

func TestOpenAddsAudioColumnToOldJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE cycles (
	id TEXT PRIMARY KEY, origin TEXT NOT NULL, started_at TEXT NOT NULL, finished_at TEXT NOT NULL,
	outcome TEXT NOT NULL, failed_at TEXT NOT NULL DEFAULT '', transcript TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL DEFAULT '', source TEXT NOT NULL DEFAULT '', action TEXT,
	response TEXT NOT NULL DEFAULT '', error TEXT NOT NULL DEFAULT '', stages TEXT NOT NULL DEFAULT '{}')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	j, err := Open(t.Context(), path)
	require.NoError(t, err)
	defer j.Close()

	now := time.Now()
	require.NoError(t, j.Record(t.Context(), session.Report{ID: "x", Origin: "wake", Started: now, Finished: now, Outcome: session.OutcomeOK, Audio: "/c.wav"}))
	got, err := j.Recent(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/c.wav", got[0].Audio)
}
