package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	InformationRetrieval = "information_retrieval"
	OpenApp              = "open_app"
	SearchWeb            = "search_web"
	SetVolume            = "set_volume"
	MuteVolume           = "mute_volume"
	TakeScreenshot       = "take_screenshot"
	NavigateBrowser      = "navigate_browser"
	NewTabAndNavigate    = "new_tab_and_navigate"
	RebuildIndex         = "rebuild_index"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidParams = errors.New("invalid parameters")
)

type Kind int

const (
	String Kind = iota
	Int
	Bool
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Bool:
		return "bool"
	default:
		return "str"
	}
}

type Param struct {
	Name     string
	Kind     Kind
	Required bool
}

// Spec describes one tool the language model may call.
type Spec struct {
	Name   string
	Doc    string
	Params []Param
}

// Signature renders an action the way the system prompt lists tools:
// open_app(app_name: str).
func (s Spec) Signature() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		opt := ""
		if !p.Required {
			opt = "?"
		}
		parts[i] = fmt.Sprintf("%s%s: %s", p.Name, opt, p.Kind)
	}
	return s.Name + "(" + strings.Join(parts, ", ") + ")"
}

var catalog = []Spec{
	{OpenApp, "Open an application installed on the computer.", []Param{{"app_name", String, true}}},
	{SearchWeb, "Search Google for something (use this when the user only wants to search, not open a specific site).", []Param{{"query", String, true}}},
	{InformationRetrieval, "Answer a general knowledge question in depth.", []Param{{"question", String, true}}},
	{SetVolume, "Set the system volume to a percentage (0-100).", []Param{{"level", Int, true}}},
	{MuteVolume, "Mute (true) or unmute (false) the system sound.", []Param{{"mute", Bool, false}}},
	{TakeScreenshot, "Take a screenshot and save it to the given path, or to the desktop when no path is given.", []Param{{"path", String, false}}},
	{NavigateBrowser, "Open a specific browser (such as 'chrome' or 'firefox') and navigate to the given URL.", []Param{{"browser", String, true}, {"url", String, true}}},
	{NewTabAndNavigate, "In the active browser, open a new tab and navigate to the given URL.", []Param{{"url", String, true}}},
	{RebuildIndex, "Rescan the installed applications.", nil},
}

// Catalog returns every known action in prompt order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

func Find(name string) (Spec, bool) {
	for _, s := range catalog {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Validate checks that name is a catalog action and that params carry
// every required parameter with a value of the declared kind.
func Validate(name string, params map[string]any) error {
	spec, ok := Find(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	for _, p := range spec.Params {
		v, present := params[p.Name]
		if !present || v == nil {
			if p.Required {
				return fmt.Errorf("%w: %s requires %q", ErrInvalidParams, name, p.Name)
			}
			continue
		}
		if !p.Kind.accepts(v) {
			return fmt.Errorf("%w: %s.%s must be %s", ErrInvalidParams, name, p.Name, p.Kind)
		}
	}
	return nil
}

func (k Kind) accepts(v any) bool {
	switch k {
	case Int:
		_, ok := asInt(v)
		return ok
	case Bool:
		_, ok := asBool(v)
		return ok
	default:
		s, ok := v.(string)
		return ok && strings.TrimSpace(s) != ""
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	default:
		return false, false
	}
}
