package action

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kina/internal/appindex"
	"kina/internal/config"
	"kina/internal/llm"
	"kina/internal/osctl"
)

type fakeApps struct {
	entries map[string]string
	fuzzy   map[string]appindex.Match
	search  []appindex.Match
	rebuilt int
	err     error
}

func (f *fakeApps) Lookup(name string) (string, bool) {
	p, ok := f.entries[appindex.Normalize(name)]
	return p, ok
}

func (f *fakeApps) FuzzyLookup(name string) (appindex.Match, bool) {
	m, ok := f.fuzzy[name]
	return m, ok
}

func (f *fakeApps) Search(string, int) []appindex.Match { return f.search }

func (f *fakeApps) Rebuild(context.Context) (int, error) {
	f.rebuilt++
	return len(f.entries), f.err
}

// fakeOS records every call made through any of the osctl interfaces.
type fakeOS struct {
	calls []string
	err   error
	ready error
}

func (f *fakeOS) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeOS) Launch(_ context.Context, path string) error { return f.record("launch " + path) }
func (f *fakeOS) SetVolume(_ context.Context, p int) error {
	return f.record("volume " + strconv.Itoa(p))
}
func (f *fakeOS) SetMute(_ context.Context, m bool) error {
	if m {
		return f.record("mute on")
	}
	return f.record("mute off")
}
func (f *fakeOS) Capture(_ context.Context, path string) error { return f.record("capture " + path) }
func (f *fakeOS) Type(_ context.Context, text string) error    { return f.record("type " + text) }
func (f *fakeOS) Press(_ context.Context, key string) error    { return f.record("press " + key) }
func (f *fakeOS) Hotkey(_ context.Context, keys ...string) error {
	return f.record("hotkey " + strings.Join(keys, "+"))
}
func (f *fakeOS) WaitReady(_ context.Context, app string) error {
	f.calls = append(f.calls, "wait "+app)
	return f.ready
}
func (f *fakeOS) OpenURL(u string) error { return f.record("open " + u) }

func (f *fakeOS) system() osctl.System {
	return osctl.System{Launcher: f, Volume: f, Screen: f, Keyboard: f, Windows: f, Browser: f}
}

func testConfig(t *testing.T) config.ActionsConfig {
	return config.ActionsConfig{
		Timeout:             time.Second,
		SearchURL:           "https://www.google.com/search?q=%s",
		ScreenshotDir:       t.TempDir(),
		BrowserReadyTimeout: time.Second,
		BrowserDelay:        time.Millisecond,
	}
}

func newDispatcher(t *testing.T, apps *fakeApps, sys *fakeOS, model llm.Model) *Dispatcher {
	t.Helper()
	if model == nil {
		model = llm.Func(func(context.Context, string) (string, error) { return "", errors.New("no model") })
	}
	d := New(apps, sys.system(), model, testConfig(t))
	d.goos = "linux"
	d.sleep = func(context.Context, time.Duration) error { return nil }
	d.resolve = func(p string) (string, error) {
		if strings.HasPrefix(p, "/gone") {
			return "", os.ErrNotExist
		}
		return p, nil
	}
	d.now = func() time.Time { return time.Date(2024, 5, 17, 9, 30, 15, 0, time.UTC) }
	return d
}

func TestSetVolumeOutOfRangeMakesNoSystemCall(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	for _, level := range []any{150, -1, 2.5, "loud"} {
		res := d.Execute(t.Context(), Request{Action: SetVolume, Parameters: map[string]any{"level": level}})
		assert.Equal(t, StatusValidation, res.Status, "level %v", level)
	}
	res := d.Execute(t.Context(), Request{Action: SetVolume})
	assert.Equal(t, StatusValidation, res.Status)

	assert.Empty(t, sys.calls)
}

func TestSetVolume(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	res := d.Execute(t.Context(), Request{Action: SetVolume, Parameters: map[string]any{"level": float64(40)}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "System volume set to 40%.", res.Message)
	assert.Equal(t, []string{"volume 40"}, sys.calls)
}

func TestUnknownActionNotRecognized(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	res := d.Execute(t.Context(), Request{Action: "unknown_thing"})
	assert.Equal(t, StatusValidation, res.Status)
	assert.Contains(t, res.Message, "not recognized")
	assert.Empty(t, sys.calls)
}

func TestMuteDefaultsToTrue(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	assert.True(t, d.Execute(t.Context(), Request{Action: MuteVolume}).OK())
	assert.True(t, d.Execute(t.Context(), Request{Action: MuteVolume, Parameters: map[string]any{"mute": false}}).OK())
	assert.Equal(t, []string{"mute on", "mute off"}, sys.calls)
}

func TestUnsupportedPlatform(t *testing.T) {
	sys := &fakeOS{err: osctl.ErrUnsupported}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	res := d.Execute(t.Context(), Request{Action: MuteVolume})
	assert.Equal(t, StatusUnsupported, res.Status)
}

func TestOpenAppExact(t *testing.T) {
	sys := &fakeOS{}
	apps := &fakeApps{entries: map[string]string{"firefox": "/usr/bin/firefox"}}
	d := newDispatcher(t, apps, sys, nil)

	res := d.Execute(t.Context(), Request{Action: OpenApp, Parameters: map[string]any{"app_name": "Firefox"}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{"launch /usr/bin/firefox"}, sys.calls)
	assert.Equal(t, "/usr/bin/firefox", res.Payload["path"])
}

func TestOpenAppFuzzy(t *testing.T) {
	sys := &fakeOS{}
	apps := &fakeApps{fuzzy: map[string]appindex.Match{
		"crom": {Name: "chrome", Path: "/opt/google/chrome/chrome", Score: 80},
	}}
	d := newDispatcher(t, apps, sys, nil)

	res := d.Execute(t.Context(), Request{Action: OpenApp, Parameters: map[string]any{"app_name": "crom"}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "Opening chrome.", res.Message)
	assert.Equal(t, []string{"launch /opt/google/chrome/chrome"}, sys.calls)
}

func TestOpenAppStalePathFallsBackToFuzzy(t *testing.T) {
	sys := &fakeOS{}
	apps := &fakeApps{
		entries: map[string]string{"gimp": "/gone/gimp"},
		fuzzy:   map[string]appindex.Match{"gimp": {Name: "gimp 2.10", Path: "/usr/bin/gimp-2.10", Score: 78}},
	}
	d := newDispatcher(t, apps, sys, nil)

	res := d.Execute(t.Context(), Request{Action: OpenApp, Parameters: map[string]any{"app_name": "gimp"}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{"launch /usr/bin/gimp-2.10"}, sys.calls)
}

func TestOpenAppNotFoundSuggests(t *testing.T) {
	sys := &fakeOS{}
	apps := &fakeApps{search: []appindex.Match{{Name: "calculator"}, {Name: "calendar"}}}
	d := newDispatcher(t, apps, sys, nil)

	res := d.Execute(t.Context(), Request{Action: OpenApp, Parameters: map[string]any{"app_name": "cal"}})
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Contains(t, res.Message, "Did you mean calculator, calendar?")
	assert.Empty(t, sys.calls)
}

func TestOpenAppEmptyName(t *testing.T) {
	d := newDispatcher(t, &fakeApps{}, &fakeOS{}, nil)
	res := d.Execute(t.Context(), Request{Action: OpenApp, Parameters: map[string]any{"app_name": "  "}})
	assert.Equal(t, StatusValidation, res.Status)
}

func TestSearchWebEscapesQuery(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	res := d.Execute(t.Context(), Request{Action: SearchWeb, Parameters: map[string]any{"query": "cuaca jakarta & bogor"}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{"open https://www.google.com/search?q=cuaca+jakarta+%26+bogor"}, sys.calls)

	res = d.Execute(t.Context(), Request{Action: SearchWeb})
	assert.Equal(t, StatusValidation, res.Status)
}

func TestTakeScreenshotDefaultPath(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	res := d.Execute(t.Context(), Request{Action: TakeScreenshot})
	require.Equal(t, StatusOK, res.Status)

	want := filepath.Join(d.cfg.ScreenshotDir, "screenshot_2024-05-17_09-30-15.png")
	assert.Equal(t, []string{"capture " + want}, sys.calls)
	assert.Equal(t, want, res.Payload["path"])
}

func TestTakeScreenshotCreatesParents(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)
	path := filepath.Join(t.TempDir(), "a", "b", "shot.png")

	res := d.Execute(t.Context(), Request{Action: TakeScreenshot, Parameters: map[string]any{"path": path}})
	require.Equal(t, StatusOK, res.Status)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNavigateBrowser(t *testing.T) {
	sys := &fakeOS{}
	apps := &fakeApps{entries: map[string]string{"firefox": "/usr/bin/firefox"}}
	d := newDispatcher(t, apps, sys, nil)

	res := d.Execute(t.Context(), Request{Action: NavigateBrowser, Parameters: map[string]any{
		"browser": "firefox",
		"url":     "example.com",
	}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{
		"launch /usr/bin/firefox",
		"wait firefox",
		"hotkey ctrl+l",
		"type https://example.com",
		"press enter",
	}, sys.calls)
}

func TestNavigateBrowserFallsBackToDelay(t *testing.T) {
	sys := &fakeOS{ready: osctl.ErrUnsupported}
	apps := &fakeApps{entries: map[string]string{"firefox": "/usr/bin/firefox"}}
	d := newDispatcher(t, apps, sys, nil)

	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}

	res := d.Execute(t.Context(), Request{Action: NavigateBrowser, Parameters: map[string]any{
		"browser": "firefox",
		"url":     "http://example.com",
	}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []time.Duration{time.Millisecond}, slept)
	assert.Contains(t, sys.calls, "type http://example.com")
}

func TestNavigateBrowserShortCircuits(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)

	res := d.Execute(t.Context(), Request{Action: NavigateBrowser, Parameters: map[string]any{
		"browser": "netscape",
		"url":     "example.com",
	}})
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Equal(t, NavigateBrowser, res.Action)
	assert.Empty(t, sys.calls)
}

func TestNewTabUsesCmdOnDarwin(t *testing.T) {
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)
	d.goos = "darwin"

	res := d.Execute(t.Context(), Request{Action: NewTabAndNavigate, Parameters: map[string]any{"url": "go.dev"}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{"hotkey cmd+t", "type https://go.dev", "press enter"}, sys.calls)
}

func TestRebuildIndex(t *testing.T) {
	apps := &fakeApps{entries: map[string]string{"a": "/a", "b": "/b"}}
	d := newDispatcher(t, apps, &fakeOS{}, nil)

	res := d.Execute(t.Context(), Request{Action: RebuildIndex})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, res.Payload["count"])
	assert.Equal(t, 1, apps.rebuilt)

	apps.err = errors.New("disk full")
	res = d.Execute(t.Context(), Request{Action: RebuildIndex})
	assert.Equal(t, StatusService, res.Status)
}

func TestInformationRetrieval(t *testing.T) {
	var prompt string
	model := llm.Func(func(_ context.Context, p string) (string, error) {
		prompt = p
		return " Jakarta. ", nil
	})
	d := newDispatcher(t, &fakeApps{}, &fakeOS{}, model)

	res := d.Execute(t.Context(), Request{Action: InformationRetrieval, Parameters: map[string]any{"question": "capital of Indonesia?"}})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "Jakarta.", res.Message)
	assert.Contains(t, prompt, "capital of Indonesia?")

	res = d.Execute(t.Context(), Request{Action: InformationRetrieval})
	assert.Equal(t, StatusValidation, res.Status)
}

func TestInformationRetrievalServiceError(t *testing.T) {
	d := newDispatcher(t, &fakeApps{}, &fakeOS{}, nil)
	res := d.Execute(t.Context(), Request{Action: InformationRetrieval, Parameters: map[string]any{"question": "why?"}})
	assert.Equal(t, StatusService, res.Status)
}

func TestInformationRetrievalBlankAnswer(t *testing.T) {
	model := llm.Func(func(context.Context, string) (string, error) { return "  \n", nil })
	d := newDispatcher(t, &fakeApps{}, &fakeOS{}, model)

	res := d.Execute(t.Context(), Request{Action: InformationRetrieval, Parameters: map[string]any{"question": "why?"}})
	assert.Equal(t, StatusService, res.Status)
	assert.Equal(t, "I could not get an answer right now.", res.Message)
}

func TestInformationRetrievalWithoutModel(t *testing.T) {
	d := New(&fakeApps{}, (&fakeOS{}).system(), nil, testConfig(t))
	res := d.Execute(t.Context(), Request{Action: InformationRetrieval, Parameters: map[string]any{"question": "why?"}})
	assert.Equal(t, StatusUnsupported, res.Status)
}

func TestActionTimeout(t *testing.T) {
	model := llm.Func(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	d := newDispatcher(t, &fakeApps{}, &fakeOS{}, model)
	d.cfg.Timeout = 10 * time.Millisecond

	res := d.Execute(t.Context(), Request{Action: InformationRetrieval, Parameters: map[string]any{"question": "slow?"}})
	assert.Equal(t, StatusService, res.Status)
	assert.Contains(t, res.Message, "timed out")
}

func TestPanicBecomesServiceError(t *testing.T) {
	model := llm.Func(func(context.Context, string) (string, error) { panic("boom") })
	d := newDispatcher(t, &fakeApps{}, &fakeOS{}, model)

	res := d.Execute(t.Context(), Request{Action: InformationRetrieval, Parameters: map[string]any{"question": "q"}})
	assert.Equal(t, StatusService, res.Status)
}

func TestObserverSeesEveryResult(t *testing.T) {
	var seen []Status
	sys := &fakeOS{}
	d := newDispatcher(t, &fakeApps{}, sys, nil)
	d.observer = func(r Result, _ time.Duration) { seen = append(seen, r.Status) }

	d.Execute(t.Context(), Request{Action: MuteVolume})
	d.Execute(t.Context(), Request{Action: "nope"})
	assert.Equal(t, []Status{StatusOK, StatusValidation}, seen)
}
