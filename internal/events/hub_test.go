package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kina/internal/session"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHubBroadcastsSessionEvents(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)

	h.Transition("c1", session.Idle, session.Triggered)
	h.CycleDone(session.Report{ID: "c1", Origin: "wake", Outcome: session.OutcomeEmpty})
	h.TriggerDropped(session.Trigger{Origin: "ipc"})

	var ev Event
	conn.SetReadDeadline(time.Now().Add(time.Second))

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, KindTransition, ev.Kind)
	assert.Equal(t, "idle", ev.From)
	assert.Equal(t, "triggered", ev.To)

	ev = Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, KindCycle, ev.Kind)
	require.NotNil(t, ev.Report)
	assert.Equal(t, session.OutcomeEmpty, ev.Report.Outcome)

	ev = Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, KindDropped, ev.Kind)
	assert.Equal(t, "ipc", ev.Origin)
}

func TestHubDropsDisconnectedClient(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)

	conn.Close()
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, h.Clients())

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:5000"}})
	require.NoError(t, err)
	conn.Close()
}
