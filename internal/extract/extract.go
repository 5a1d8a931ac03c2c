// Package extract recovers structured JSON records from free-form model
// output. Models are asked for JSON but respond with prose, markdown fences,
// or JSON embedded mid-sentence; extraction is total — every input yields a
// usable Result, degrading to a tagged failure rather than an error.
package extract

import (
	"encoding/json"
	"strings"
)

// Extraction stages, recorded on the Result so callers and dashboards can see
// how often each recovery path fires.
const (
	StageDirect = "direct"
	StageFenced = "fenced"
	StageBraces = "brace_scan"
	StageFailed = "failed"
)

// maxRawSnippet bounds how much of an unparseable response is carried on the
// failure record. Model output can be tens of kilobytes of prose.
const maxRawSnippet = 500

// Result is the outcome of one extraction. Data is never nil: on failure it
// is an empty map so downstream consumers can treat every Result uniformly.
type Result struct {
	Data    map[string]any `json:"data"`
	Stage   string         `json:"stage"`
	Failed  bool           `json:"failed"`
	RawText string         `json:"raw_text,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// Extract runs the recovery pipeline over raw model output:
//
//  1. parse the whole text as JSON
//  2. parse the contents of a fenced code block
//  3. scan for the longest balanced top-level object and parse that
//  4. give up: tag the result as failed and keep a snippet of the input
//
// Later stages only run when earlier ones fail, so well-behaved responses pay
// a single json.Unmarshal.
func Extract(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return failure(text, "empty response")
	}

	if data, ok := parseObject([]byte(trimmed)); ok {
		return Result{Data: data, Stage: StageDirect}
	}

	if inner, ok := fencedBlock(trimmed); ok {
		if data, ok := parseObject([]byte(inner)); ok {
			return Result{Data: data, Stage: StageFenced}
		}
	}

	if candidate := longestBalancedObject(trimmed); candidate != "" {
		if data, ok := parseObject([]byte(candidate)); ok {
			return Result{Data: data, Stage: StageBraces}
		}
	}

	return failure(text, "no parseable JSON object found")
}

// ExtractDeep is Extract with double-encoding recovery: when the payload is a
// JSON string that itself contains JSON (a common artifact of models quoting
// their own output), the inner document is unwrapped and re-extracted. At most
// two levels are peeled; beyond that the input is treated as ordinary text.
func ExtractDeep(text string) Result {
	trimmed := strings.TrimSpace(text)

	for i := 0; i < 2; i++ {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			break
		}
		trimmed = strings.TrimSpace(inner)
	}

	return Extract(trimmed)
}

func failure(text, detail string) Result {
	return Result{
		Data:    map[string]any{},
		Stage:   StageFailed,
		Failed:  true,
		RawText: truncate(strings.TrimSpace(text), maxRawSnippet),
		Detail:  detail,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// parseObject accepts only top-level JSON objects. Arrays, strings, and bare
// scalars parse as JSON but are not the records callers expect.
func parseObject(data []byte) (map[string]any, bool) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	if out == nil {
		return nil, false
	}
	return out, true
}

// fencedBlock returns the contents of the first markdown code fence, with an
// optional language tag on the opening line.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]

	// Skip the language tag (```json, ```JSON, or bare ```).
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		// Unterminated fence: take everything after the opening.
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// longestBalancedObject scans for top-level '{' ... '}' spans with a running
// depth counter, ignoring braces inside string literals and honoring backslash
// escapes. When the text embeds several objects the longest one wins — models
// tend to wrap the real record in prose that mentions smaller fragments.
func longestBalancedObject(text string) string {
	var (
		best     string
		start    = -1
		depth    = 0
		inString = false
		escaped  = false
	)

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue // stray closer outside any object
			}
			depth--
			if depth == 0 && start >= 0 {
				if candidate := text[start : i+1]; len(candidate) > len(best) {
					best = candidate
				}
				start = -1
			}
		}
	}

	return best
}
