package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"

	log "log/slog"
)

func main() {
	base := cli.String("url", "http://127.0.0.1:5000", "Daemon HTTP address")
	watch := cli.Bool("watch", false, "Print session events instead of reading requests")
	timeout := cli.Duration("timeout", 2*time.Minute, "Request timeout")
	debug := cli.Bool("debug", false, "Verbose logging")
	cli.Parse()

	level := log.LevelInfo
	if *debug {
		level = log.LevelDebug
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := NewClient(*base, *timeout)

	if *watch {
		if err := c.Watch(ctx, os.Stdout); err != nil {
			log.Error("Event stream closed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := repl(ctx, c, os.Stdin, os.Stdout); err != nil {
		log.Error("Stopped", "err", err)
		os.Exit(1)
	}
}

// repl sends one request per input line. "/reset" starts a new
// conversation.
func repl(ctx context.Context, c *Client, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/reset":
			if err := c.Reset(ctx); err != nil {
				log.Warn("Reset failed", "err", err)
			}
			fmt.Fprintln(out, "(new conversation)")
			continue
		}

		a, err := c.Ask(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("Request failed", "err", err)
			continue
		}
		log.Debug("Answered", "status", a.Status, "source", a.Source, "session", a.SessionID, "action", a.Action["name"])
		fmt.Fprintln(out, a.Response)
	}
}
