// Package action maps validated tool calls onto OS side effects and reports
// every outcome as a structured Result.
package action

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"kina/internal/appindex"
	"kina/internal/config"
	"kina/internal/llm"
	"kina/internal/osctl"
)

type Status string

const (
	StatusOK          Status = "ok"
	StatusValidation  Status = "validation_error"
	StatusNotFound    Status = "not_found"
	StatusService     Status = "service_error"
	StatusUnsupported Status = "unsupported"
)

type Request struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

type Result struct {
	Action  string         `json:"action"`
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusOK }

// Apps is the part of the application index the dispatcher needs.
type Apps interface {
	Lookup(name string) (string, bool)
	FuzzyLookup(name string) (appindex.Match, bool)
	Search(query string, limit int) []appindex.Match
	Rebuild(ctx context.Context) (int, error)
}

const (
	suggestions = 3
	tabDelay    = time.Second
)

type Dispatcher struct {
	apps  Apps
	sys   osctl.System
	model llm.Model
	cfg   config.ActionsConfig

	goos     string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	resolve  func(path string) (string, error)
	observer func(Result, time.Duration)
}

type Option func(*Dispatcher)

// WithObserver registers fn to receive every result and its duration.
func WithObserver(fn func(Result, time.Duration)) Option {
	return func(d *Dispatcher) { d.observer = fn }
}

func New(apps Apps, sys osctl.System, model llm.Model, cfg config.ActionsConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		apps:    apps,
		sys:     sys,
		model:   model,
		cfg:     cfg,
		goos:    runtime.GOOS,
		now:     time.Now,
		sleep:   sleepCtx,
		resolve: resolvePath,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one request. It never panics and never returns an error;
// every failure is folded into the Result.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (res Result) {
	start := d.now()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Action panicked", "action", req.Action, "panic", r)
			res = fail(req.Action, StatusService, fmt.Sprintf("Something went wrong while running %s.", req.Action))
		}
		if res.Status != StatusOK && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res = fail(req.Action, StatusService, fmt.Sprintf("%s timed out.", req.Action))
		}
		log.Info("Action done", "action", req.Action, "status", res.Status, "msg", res.Message)
		if d.observer != nil {
			d.observer(res, d.now().Sub(start))
		}
	}()

	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}

	switch req.Action {
	case InformationRetrieval:
		return d.informationRetrieval(ctx, asString(params["question"]))
	case OpenApp:
		return d.openApp(ctx, asString(params["app_name"]))
	case SearchWeb:
		return d.searchWeb(asString(params["query"]))
	case SetVolume:
		return d.setVolume(ctx, params["level"])
	case MuteVolume:
		return d.muteVolume(ctx, params["mute"])
	case TakeScreenshot:
		return d.takeScreenshot(ctx, asString(params["path"]))
	case NavigateBrowser:
		return d.navigateBrowser(ctx, asString(params["browser"]), asString(params["url"]))
	case NewTabAndNavigate:
		return d.newTabAndNavigate(ctx, asString(params["url"]))
	case RebuildIndex:
		return d.rebuildIndex(ctx)
	default:
		return fail(req.Action, StatusValidation, fmt.Sprintf("Action '%s' is not recognized.", req.Action))
	}
}

func (d *Dispatcher) informationRetrieval(ctx context.Context, question string) Result {
	if question == "" {
		return fail(InformationRetrieval, StatusValidation, "No question was given.")
	}
	if d.model == nil {
		return fail(InformationRetrieval, StatusUnsupported, "I can only answer questions when a language model is configured.")
	}

	answer, err := d.model.Generate(ctx, "Answer the following question clearly and concisely, in plain sentences suitable for speaking aloud.\n\nQuestion: "+question)
	if err != nil {
		log.Error("Failed to answer question", "err", err)
		return fail(InformationRetrieval, StatusService, "I could not get an answer right now.")
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		log.Error("Language model returned an empty answer")
		return fail(InformationRetrieval, StatusService, "I could not get an answer right now.")
	}
	return ok(InformationRetrieval, answer, nil)
}

func (d *Dispatcher) openApp(ctx context.Context, name string) Result {
	if name == "" {
		return fail(OpenApp, StatusValidation, "No application name was given.")
	}

	if path, found := d.apps.Lookup(name); found {
		if resolved, err := d.resolve(path); err == nil {
			return d.launch(ctx, name, resolved, 100)
		}
		log.Warn("Indexed path is gone", "app", name, "path", path)
	}

	if m, found := d.apps.FuzzyLookup(name); found {
		resolved, err := d.resolve(m.Path)
		if err != nil {
			return fail(OpenApp, StatusNotFound, fmt.Sprintf("'%s' is in the index but %s no longer exists.", m.Name, m.Path))
		}
		return d.launch(ctx, m.Name, resolved, m.Score)
	}

	msg := fmt.Sprintf("Sorry, I could not find an application matching '%s' on your system.", name)
	if cands := d.apps.Search(name, suggestions); len(cands) > 0 {
		names := make([]string, len(cands))
		for i, c := range cands {
			names[i] = c.Name
		}
		msg += " Did you mean " + strings.Join(names, ", ") + "?"
	}
	return fail(OpenApp, StatusNotFound, msg)
}

func (d *Dispatcher) launch(ctx context.Context, name, path string, score int) Result {
	if err := d.sys.Launcher.Launch(ctx, path); err != nil {
		log.Error("Failed to launch", "app", name, "path", path, "err", err)
		return fromErr(OpenApp, err, fmt.Sprintf("Found %s but could not open it.", name))
	}
	return ok(OpenApp, fmt.Sprintf("Opening %s.", name), map[string]any{
		"app":   name,
		"path":  path,
		"score": score,
	})
}

func (d *Dispatcher) searchWeb(query string) Result {
	if query == "" {
		return fail(SearchWeb, StatusValidation, "No search query was given.")
	}

	target := fmt.Sprintf(d.cfg.SearchURL, url.QueryEscape(query))
	if err := d.sys.Browser.OpenURL(target); err != nil {
		log.Error("Failed to open browser", "url", target, "err", err)
		return fromErr(SearchWeb, err, "I could not open the web search.")
	}
	return ok(SearchWeb, fmt.Sprintf("Searching the web for '%s'.", query), map[string]any{"url": target})
}

func (d *Dispatcher) setVolume(ctx context.Context, raw any) Result {
	if raw == nil {
		return fail(SetVolume, StatusValidation, "Please give a volume level between 0 and 100.")
	}
	level, valid := asInt(raw)
	if !valid || level < 0 || level > 100 {
		return fail(SetVolume, StatusValidation, "The volume level must be between 0 and 100.")
	}

	if err := d.sys.Volume.SetVolume(ctx, level); err != nil {
		log.Error("Failed to set volume", "level", level, "err", err)
		return fromErr(SetVolume, err, "I could not change the volume.")
	}
	return ok(SetVolume, fmt.Sprintf("System volume set to %d%%.", level), map[string]any{"level": level})
}

func (d *Dispatcher) muteVolume(ctx context.Context, raw any) Result {
	mute := true
	if raw != nil {
		b, valid := asBool(raw)
		if !valid {
			return fail(MuteVolume, StatusValidation, "Mute must be true or false.")
		}
		mute = b
	}

	if err := d.sys.Volume.SetMute(ctx, mute); err != nil {
		log.Error("Failed to toggle mute", "mute", mute, "err", err)
		return fromErr(MuteVolume, err, "I could not change the mute state.")
	}

	msg := "System sound muted."
	if !mute {
		msg = "System sound unmuted."
	}
	return ok(MuteVolume, msg, map[string]any{"mute": mute})
}

func (d *Dispatcher) takeScreenshot(ctx context.Context, path string) Result {
	if path == "" {
		path = filepath.Join(d.cfg.ScreenshotDir, "screenshot_"+d.now().Format("2006-01-02_15-04-05")+".png")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("Failed to create screenshot dir", "dir", dir, "err", err)
			return fail(TakeScreenshot, StatusService, fmt.Sprintf("I could not create %s.", dir))
		}
	}

	if err := d.sys.Screen.Capture(ctx, path); err != nil {
		log.Error("Failed to capture screen", "path", path, "err", err)
		return fromErr(TakeScreenshot, err, "I could not take a screenshot.")
	}
	return ok(TakeScreenshot, "Screenshot saved to "+path, map[string]any{"path": path})
}

func (d *Dispatcher) navigateBrowser(ctx context.Context, browser, target string) Result {
	if browser == "" || target == "" {
		return fail(NavigateBrowser, StatusValidation, "I need both a browser name and a URL to navigate.")
	}

	opened := d.openApp(ctx, browser)
	if !opened.OK() {
		return fail(NavigateBrowser, opened.Status, fmt.Sprintf("Could not open browser %s. %s", browser, opened.Message))
	}

	d.waitReady(ctx, browser)

	target = normalizeURL(target)
	if err := d.typeURL(ctx, target, false); err != nil {
		log.Error("Failed to drive browser", "browser", browser, "err", err)
		return fromErr(NavigateBrowser, err, "I could not control the browser.")
	}
	return ok(NavigateBrowser, fmt.Sprintf("Opened %s and navigated to %s.", browser, target), map[string]any{
		"browser": browser,
		"url":     target,
	})
}

func (d *Dispatcher) newTabAndNavigate(ctx context.Context, target string) Result {
	if target == "" {
		return fail(NewTabAndNavigate, StatusValidation, "I need a URL to open in a new tab.")
	}

	target = normalizeURL(target)
	if err := d.typeURL(ctx, target, true); err != nil {
		log.Error("Failed to open tab", "err", err)
		return fromErr(NewTabAndNavigate, err, "I could not open a new tab.")
	}
	return ok(NewTabAndNavigate, "Opened a new tab and navigated to "+target, map[string]any{"url": target})
}

// waitReady blocks until the browser window can take input, preferring
// the platform signal and falling back to a fixed delay.
func (d *Dispatcher) waitReady(ctx context.Context, browser string) {
	wctx, cancel := context.WithTimeout(ctx, d.cfg.BrowserReadyTimeout)
	defer cancel()

	err := d.sys.Windows.WaitReady(wctx, browser)
	if err == nil {
		return
	}
	if !errors.Is(err, osctl.ErrUnsupported) {
		log.Warn("Browser readiness signal failed", "browser", browser, "err", err)
	}
	_ = d.sleep(ctx, d.cfg.BrowserDelay)
}

func (d *Dispatcher) typeURL(ctx context.Context, target string, newTab bool) error {
	mod := "ctrl"
	if d.goos == "darwin" {
		mod = "cmd"
	}

	kb := d.sys.Keyboard
	if newTab {
		if err := kb.Hotkey(ctx, mod, "t"); err != nil {
			return err
		}
		if err := d.sleep(ctx, tabDelay); err != nil {
			return err
		}
	} else if err := kb.Hotkey(ctx, mod, "l"); err != nil {
		return err
	}

	if err := kb.Type(ctx, target); err != nil {
		return err
	}
	return kb.Press(ctx, "enter")
}

func (d *Dispatcher) rebuildIndex(ctx context.Context) Result {
	n, err := d.apps.Rebuild(ctx)
	if err != nil {
		log.Error("Failed to rebuild index", "err", err)
		return fail(RebuildIndex, StatusService, "I could not rebuild the application index.")
	}
	return ok(RebuildIndex, fmt.Sprintf("Application index rebuilt with %d entries.", n), map[string]any{"count": n})
}

func normalizeURL(u string) string {
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return u
	}
	return "https://" + u
}

func resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
	return exec.LookPath(path)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func ok(action, msg string, payload map[string]any) Result {
	return Result{Action: action, Status: StatusOK, Message: msg, Payload: payload}
}

func fail(action string, status Status, msg string) Result {
	return Result{Action: action, Status: status, Message: msg}
}

func fromErr(action string, err error, msg string) Result {
	if errors.Is(err, osctl.ErrUnsupported) {
		return fail(action, StatusUnsupported, fmt.Sprintf("%s is not supported on this system.", action))
	}
	return fail(action, StatusService, msg)
}
