package llmgateway

import (
	"regexp"
	"strings"
)

// fencedBlockPattern matches one outer fenced code block, optionally tagged
// with a language (```json ... ``` or plain ``` ... ```).
var fencedBlockPattern = regexp.MustCompile(`(?s)^\s*` + "```" + `(?:[a-zA-Z0-9_+-]*)?\s*\n?(.*?)\n?` + "```" + `\s*$`)

// thinkingBlockPattern strips <thinking>...</thinking>, <reflection>...</reflection>,
// and <think>...</think> regions some reasoning models prepend to their answer.
var thinkingBlockPattern = regexp.MustCompile(`(?is)<(thinking|reflection|think)>.*?</(thinking|reflection|think)>`)

// Clean reproduces the free-text response cleanup pipeline: strip one outer
// fenced code block, strip any thinking/reflection regions, then trim
// surrounding whitespace. It never raises on malformed input — a response
// that matches none of the patterns is simply trimmed and returned as-is.
func Clean(response string) string {
	s := response

	if m := fencedBlockPattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	s = thinkingBlockPattern.ReplaceAllString(s, "")

	return strings.TrimSpace(s)
}
