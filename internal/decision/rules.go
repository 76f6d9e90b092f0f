package decision

import (
	"slices"
	"strconv"
	"strings"
	"unicode"

	"kina/internal/action"
)

// Rules is the offline interpreter: keyword intents in Indonesian and
// English with the remainder of the utterance as the argument. Anything it
// does not recognize becomes an information_retrieval call.
type Rules struct{}

var (
	openWords   = []string{"buka", "bukakan", "jalankan", "open", "launch", "start"}
	searchWords = []string{"cari", "carikan", "search", "google"}
	fillerWords = []string{"tolong", "please", "aplikasi", "app", "for", "tentang", "the"}
)

func (Rules) Interpret(text string) Decision {
	tokens := tokenize(text)
	phrase := " " + strings.Join(tokens, " ") + " "
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(phrase, " "+w+" ") {
				return true
			}
		}
		return false
	}

	switch {
	case has("screenshot", "tangkapan layar", "tangkap layar"):
		return call(action.TakeScreenshot, nil)
	case has("unmute", "nyalakan suara"):
		return call(action.MuteVolume, map[string]any{"mute": false})
	case has("mute", "bisukan", "matikan suara"):
		return call(action.MuteVolume, map[string]any{"mute": true})
	case has("volume"):
		for _, t := range tokens {
			if n, err := strconv.Atoi(strings.TrimSuffix(t, "%")); err == nil {
				return call(action.SetVolume, map[string]any{"level": n})
			}
		}
	case has("rebuild index", "perbarui indeks"):
		return call(action.RebuildIndex, nil)
	case has(openWords...):
		if name := strip(tokens, openWords); name != "" {
			return call(action.OpenApp, map[string]any{"app_name": name})
		}
	case has(searchWords...):
		if q := strip(tokens, searchWords); q != "" {
			return call(action.SearchWeb, map[string]any{"query": q})
		}
	}

	return call(action.InformationRetrieval, map[string]any{"question": strings.TrimSpace(text)})
}

func call(name string, params map[string]any) Decision {
	if params == nil {
		params = map[string]any{}
	}
	return ToolCall{Name: name, Parameters: params, From: SourceRules}
}

// tokenize keeps inner dots so hostnames survive ("go.dev").
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '%' && r != '.'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "."); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func strip(tokens, keywords []string) string {
	var rest []string
	for _, t := range tokens {
		if slices.Contains(keywords, t) || slices.Contains(fillerWords, t) {
			continue
		}
		rest = append(rest, t)
	}
	return strings.Join(rest, " ")
}
