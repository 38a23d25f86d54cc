// Package prompt assembles the text handed to the model from a question and
// the snippets retrieved for it.
package prompt

import "strings"

const (
	questionMarker = "###Question: "
	answerMarker   = " ###Answer: "
	snippetSep     = ". "
)

// Build returns "###Question: {question}" when there are no snippets, and
// "###Question: {question} ###Answer: {snippets joined by ". "}" otherwise.
// Snippets are used in the order given.
func Build(question string, snippets []string) string {
	if len(snippets) == 0 {
		return questionMarker + question
	}
	return questionMarker + question + answerMarker + strings.Join(snippets, snippetSep)
}
