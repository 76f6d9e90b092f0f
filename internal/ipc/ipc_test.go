package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	// unix socket paths are length-limited; t.TempDir can be too deep
	dir, err := os.MkdirTemp("", "kina")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func serve(t *testing.T, h Handler) string {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, path, h) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not stop")
		}
		assert.NoFileExists(t, path)
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	return path
}

func TestSendRoundTrip(t *testing.T) {
	path := serve(t, func(_ context.Context, req Request) Reply {
		switch req.Cmd {
		case CmdAsk:
			return Reply{OK: true, Message: "You asked: " + req.Text}
		case CmdStatus:
			return Reply{OK: true, Message: "idle", Data: map[string]any{"apps": 3}}
		}
		return Fail("unknown command %q", req.Cmd)
	})

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	rep, err := Send(ctx, path, Request{Cmd: CmdAsk, Text: "what time is it"})
	require.NoError(t, err)
	assert.True(t, rep.OK)
	assert.Equal(t, "You asked: what time is it", rep.Message)

	rep, err = Send(ctx, path, Request{Cmd: CmdStatus})
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.Data["apps"])

	rep, err = Send(ctx, path, Request{Cmd: "dance"})
	require.NoError(t, err)
	assert.False(t, rep.OK)
	assert.Equal(t, `unknown command "dance"`, rep.Message)
}

func TestSeveralRequestsOnOneConnection(t *testing.T) {
	var n atomic.Int32
	path := serve(t, func(context.Context, Request) Reply {
		n.Add(1)
		return Reply{OK: true}
	})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	_, err = conn.Write([]byte("{\"cmd\":\"trigger\"}\nnot json\n{\"cmd\":\"reset\"}\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	var replies []Reply
	for range 3 {
		line, err := r.ReadBytes('\n')
		require.NoError(t, err)
		var rep Reply
		require.NoError(t, json.Unmarshal(line, &rep))
		replies = append(replies, rep)
	}

	assert.True(t, replies[0].OK)
	assert.False(t, replies[1].OK)
	assert.Contains(t, replies[1].Message, "invalid request")
	assert.True(t, replies[2].OK)
	assert.EqualValues(t, 2, n.Load())
}

func TestSendWithoutDaemon(t *testing.T) {
	_, err := Send(t.Context(), socketPath(t), Request{Cmd: CmdTrigger})
	assert.Error(t, err)
}

func TestServeReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, path, func(context.Context, Request) Reply { return Reply{OK: true} }) }()

	require.Eventually(t, func() bool {
		rep, err := Send(ctx, path, Request{Cmd: CmdStatus})
		return err == nil && rep.OK
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
