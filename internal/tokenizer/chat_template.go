package tokenizer

import (
	"fmt"
	"strings"
)

// Placeholder is the marker substituted with the raw question.
const Placeholder = "{{prompt}}"

// PromptTemplate wraps a question into the turn format a model was tuned on.
//
// The template holds a single Placeholder. Literal two-character "\n"
// escapes (as found in YAML or CLI flags) are turned into real newlines.
type PromptTemplate string

// Built-in templates.
const (
	// UserAssistantTemplate is the default single-turn format.
	UserAssistantTemplate PromptTemplate = `USER: {{prompt}}\n\nAssistant:`

	// ChatMLTemplate is the ChatML single-turn format.
	// Format: <|im_start|>role\ncontent<|im_end|>.
	ChatMLTemplate PromptTemplate = `<|im_start|>user\n{{prompt}}<|im_end|>\n<|im_start|>assistant\n`

	// LLaMATemplate is the LLaMA instruction format without system prompt.
	LLaMATemplate PromptTemplate = `[INST] {{prompt}} [/INST]`

	// RawTemplate passes the question through unchanged.
	RawTemplate PromptTemplate = Placeholder
)

// Apply substitutes question into the template, then turns every literal
// "\n" escape of the result into a newline. A template without a
// placeholder drops the question.
func (t PromptTemplate) Apply(question string) string {
	formatted := strings.ReplaceAll(string(t), Placeholder, question)
	return strings.ReplaceAll(formatted, `\n`, "\n")
}

// Validate checks the template carries exactly one placeholder.
func (t PromptTemplate) Validate() error {
	if n := strings.Count(string(t), Placeholder); n != 1 {
		return fmt.Errorf("prompt template must contain exactly one %s, found %d", Placeholder, n)
	}
	return nil
}

// GetPromptTemplate returns a built-in template by name.
func GetPromptTemplate(name string) (PromptTemplate, error) {
	switch strings.ToLower(name) {
	case "", "user-assistant":
		return UserAssistantTemplate, nil
	case "chatml":
		return ChatMLTemplate, nil
	case "llama":
		return LLaMATemplate, nil
	case "raw":
		return RawTemplate, nil
	default:
		return "", fmt.Errorf("unknown prompt template: %s", name)
	}
}
