package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/askelva/herbarium-batch/constants"
)

// ParseResult carries a recovered record and the strategy that produced
// it. Status ranks confidence: a clean parse is strong evidence the model
// behaved, a fuzzy brace-window extraction much weaker.
type ParseResult struct {
	Data   map[string]any
	Status constants.ParseStatus
	Err    string
}

var reFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// RobustParse recovers a JSON object from free-form model output. The
// strategies are tried strictly in confidence order and the first success
// wins:
//
//  1. clean    — the whole trimmed input parses directly
//  2. markdown — the first code fence's content parses
//  3. fuzzy    — the substring from the first '{' to the last '}' parses
//
// Anything else is a failed parse with nil data. The fuzzy window is
// positional, not brace-balanced: braces inside string literals near the
// boundaries can shift it. That is an accepted approximation.
func RobustParse(input string) ParseResult {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ParseResult{Status: constants.ParseFailed, Err: "empty input"}
	}

	if data, ok := tryObject(trimmed); ok {
		return ParseResult{Data: data, Status: constants.ParseClean}
	}

	if m := reFence.FindStringSubmatch(trimmed); m != nil {
		if data, ok := tryObject(m[1]); ok {
			return ParseResult{Data: data, Status: constants.ParseMarkdown}
		}
	}

	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first != -1 && last > first {
		if data, ok := tryObject(trimmed[first : last+1]); ok {
			return ParseResult{Data: data, Status: constants.ParseFuzzy}
		}
	}

	return ParseResult{Status: constants.ParseFailed, Err: "no strategy produced a JSON object"}
}

func tryObject(s string) (map[string]any, bool) {
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, false
	}
	return data, true
}
