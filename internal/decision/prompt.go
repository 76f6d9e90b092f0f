package decision

import (
	"fmt"
	"strings"

	"kina/internal/action"
)

// SystemPrompt lists every catalog action as a tool.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are the brain of a desktop AI assistant. Your role is the orchestrator.
Based on the conversation and the user's latest command, decide the next step.
You have access to the following tools:

`)
	for i, spec := range action.Catalog() {
		fmt.Fprintf(&b, "%d. `%s`: %s\n", i+1, spec.Signature(), spec.Doc)
	}
	b.WriteString(`
Rules:
- If the user's command can be fulfilled by one of the tools, your response MUST be ONLY a single JSON object in the format: {"tool_call": {"name": "tool_name", "parameters": {"parameter_name": "value"}}}.
- If the user's command is a general question, a greeting or conversation that needs no tool, your response MUST be ONLY a single JSON object in the format: {"final_answer": "your answer as text"}.
- Parameters marked with ? are optional. Use JSON numbers for int and true/false for bool.
- Reply in the language the user speaks.
- Do not add any explanation outside the JSON.`)
	return b.String()
}

// Render builds the full prompt from the system instruction and history.
func Render(system string, history []Turn) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nConversation history:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "- %s: %s\n", t.Role, t.Text)
	}
	return b.String()
}
