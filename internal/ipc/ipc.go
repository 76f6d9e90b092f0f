// Package ipc is the daemon's control socket: one JSON request per line,
// one JSON reply per line.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocket = "/tmp/kina.sock"

const (
	CmdTrigger = "trigger"
	CmdReset   = "reset"
	CmdRebuild = "rebuild"
	CmdAsk     = "ask"
	CmdStatus  = "status"
)

type Request struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type Reply struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func Fail(format string, args ...any) Reply {
	return Reply{Message: fmt.Sprintf(format, args...)}
}

type Handler func(ctx context.Context, req Request) Reply

// Serve accepts connections on the unix socket at path until ctx is done.
// A stale socket file left by a crashed daemon is replaced.
func Serve(ctx context.Context, path string, handler Handler) error {
	os.Remove(path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("Control socket listening", "path", path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		os.Remove(path)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConn(ctx, conn, handler)
		}()
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	sc := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for sc.Scan() {
		var req Request
		var rep Reply
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			rep = Fail("invalid request: %v", err)
		} else {
			log.Debug("Control command", "cmd", req.Cmd)
			rep = handler(ctx, req)
		}
		if err := enc.Encode(rep); err != nil {
			return
		}
	}
}

// Send issues one request to the daemon and waits for its reply.
func Send(ctx context.Context, path string, req Request) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var rep Reply
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&rep); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return rep, nil
}
