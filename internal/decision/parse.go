package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"kina/internal/action"
)

// Parse decodes untrusted model output. The only accepted shapes are
// {"tool_call":{"name":..,"parameters":{..}}} naming a catalog action with
// its required parameters, and {"final_answer":"non-empty text"}.
func Parse(raw string) (Decision, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	root := gjson.Parse(body)
	tc, fa := root.Get("tool_call"), root.Get("final_answer")

	// A null tool_call is absent; an empty one yields to a final_answer.
	if tc.Exists() && tc.Type != gjson.Null && !(fa.Exists() && isEmptyObject(tc)) {
		return parseToolCall(tc)
	}

	if fa.Exists() {
		if fa.Type != gjson.String || strings.TrimSpace(fa.Str) == "" {
			return nil, fmt.Errorf("%w: final_answer must be non-empty text", ErrDecode)
		}
		return FinalAnswer{Text: strings.TrimSpace(fa.Str), From: SourceLLM}, nil
	}

	return nil, fmt.Errorf("%w: neither tool_call nor final_answer", ErrDecode)
}

func parseToolCall(tc gjson.Result) (Decision, error) {
	if !tc.IsObject() {
		return nil, fmt.Errorf("%w: tool_call is not an object", ErrDecode)
	}

	name := tc.Get("name")
	if name.Type != gjson.String || name.Str == "" {
		return nil, fmt.Errorf("%w: tool_call.name missing", ErrDecode)
	}

	params := map[string]any{}
	switch p := tc.Get("parameters"); {
	case !p.Exists() || p.Type == gjson.Null:
	case p.IsObject():
		params, _ = p.Value().(map[string]any)
	default:
		return nil, fmt.Errorf("%w: tool_call.parameters is not an object", ErrDecode)
	}

	if err := action.Validate(name.Str, params); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return ToolCall{Name: name.Str, Parameters: params, From: SourceLLM}, nil
}

func isEmptyObject(r gjson.Result) bool {
	return r.IsObject() && len(r.Map()) == 0
}

// extractJSON strips markdown fences and, failing that, falls back to the
// outermost brace pair.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		return s, nil
	}

	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		inner := s[start : end+1]
		if gjson.Valid(inner) {
			return inner, nil
		}
	}
	return "", fmt.Errorf("%w: not a JSON object", ErrDecode)
}
