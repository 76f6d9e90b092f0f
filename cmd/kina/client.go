package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const sessionHeader = "X-Session-ID"

// Client talks to the daemon's HTTP API and keeps one conversation going
// by echoing the session id back on every request.
type Client struct {
	base    string
	http    *http.Client
	session string
}

type Answer struct {
	Response  string         `json:"response"`
	Status    string         `json:"status"`
	SessionID string         `json:"session_id"`
	Source    string         `json:"source"`
	Action    map[string]any `json:"action"`
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) Session() string { return c.session }

func (c *Client) Ask(ctx context.Context, text string) (Answer, error) {
	var a Answer
	err := c.post(ctx, "/api/process-text", map[string]string{"text": text}, &a)
	if err != nil {
		return a, err
	}
	c.session = a.SessionID
	return a, nil
}

// Reset forgets the conversation on both ends.
func (c *Client) Reset(ctx context.Context) error {
	if c.session == "" {
		return nil
	}
	err := c.post(ctx, "/api/reset", map[string]string{"session_id": c.session}, nil)
	c.session = ""
	return err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.Header.Set(sessionHeader, c.session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s %s", path, resp.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type event struct {
	Kind   string `json:"kind"`
	Cycle  string `json:"cycle"`
	From   string `json:"from"`
	To     string `json:"to"`
	Origin string `json:"origin"`
	Report *struct {
		Outcome    string `json:"outcome"`
		FailedAt   string `json:"failed_at"`
		Error      string `json:"error"`
		Transcript string `json:"transcript"`
		Response   string `json:"response"`
	} `json:"report"`
}

// Watch prints session events from the daemon's websocket until ctx is
// done or the daemon hangs up.
func (c *Client) Watch(ctx context.Context, w io.Writer) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info("Connected to daemon", "url", u.String())

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintln(w, describe(ev))
	}
}

func describe(ev event) string {
	switch ev.Kind {
	case "transition":
		return fmt.Sprintf("%s  %s -> %s", short(ev.Cycle), ev.From, ev.To)
	case "dropped":
		return fmt.Sprintf("dropped trigger from %s", ev.Origin)
	case "cycle":
		if ev.Report == nil {
			return short(ev.Cycle) + "  done"
		}
		r := ev.Report
		switch {
		case r.Error != "":
			return fmt.Sprintf("%s  failed while %s: %s", short(ev.Cycle), r.FailedAt, r.Error)
		case r.Transcript == "":
			return fmt.Sprintf("%s  heard nothing", short(ev.Cycle))
		}
		return fmt.Sprintf("%s  %q -> %q", short(ev.Cycle), r.Transcript, r.Response)
	}
	return ev.Kind
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
