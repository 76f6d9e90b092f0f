package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kina/internal/ipc"
)

func daemon(t *testing.T) (string, chan ipc.Request) {
	dir, err := os.MkdirTemp("", "kina-ctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ctl.sock")

	got := make(chan ipc.Request, 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ipc.Serve(ctx, path, func(_ context.Context, req ipc.Request) ipc.Reply {
		got <- req
		switch req.Cmd {
		case ipc.CmdStatus:
			return ipc.Reply{OK: true, Message: "idle", Data: map[string]any{"busy": false, "apps": 12}}
		case ipc.CmdTrigger:
			return ipc.Fail("A cycle is already running.")
		}
		return ipc.Reply{OK: true, Message: "done"}
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	return path, got
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAskJoinsArguments(t *testing.T) {
	path, got := daemon(t)

	out, err := execute("--socket", path, "ask", "buka", "chrome")
	require.NoError(t, err)
	assert.Contains(t, out, "done")
	assert.Equal(t, ipc.Request{Cmd: ipc.CmdAsk, Text: "buka chrome"}, <-got)
}

func TestStatusPrintsSortedData(t *testing.T) {
	path, _ := daemon(t)

	out, err := execute("--socket", path, "status")
	require.NoError(t, err)
	assert.Equal(t, "idle\n  apps: 12\n  busy: false\n", out)
}

func TestFailedReplyIsAnError(t *testing.T) {
	path, _ := daemon(t)

	out, err := execute("--socket", path, "trigger")
	require.Error(t, err)
	assert.Contains(t, out, "A cycle is already running.")
}

func TestNoDaemon(t *testing.T) {
	_, err := execute("--socket", filepath.Join(t.TempDir(), "none.sock"), "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kina-daemon not running")
}

func TestAskNeedsText(t *testing.T) {
	_, err := execute("ask")
	assert.Error(t, err)
}
