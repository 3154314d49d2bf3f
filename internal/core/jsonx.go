package core

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Models rarely return clean JSON: they wrap it in prose, fence it, use curly
// quotes, or leave trailing commas. ExtractJSONObject recovers the first JSON
// object from such text with an ordered chain of attempts:
// fenced-block strip, first balanced {...} span, direct parse, textual
// repairs, parse again. It never fails loudly; ok=false is the only failure.
func ExtractJSONObject(raw string) (string, bool) {
	candidate := stripCodeFence(raw)
	candidate = firstObjectSpan(candidate)
	if candidate == "" {
		return "", false
	}

	if json.Valid([]byte(candidate)) {
		return candidate, true
	}

	repaired := stripTrailingCommas(normalizeQuotes(candidate))
	if json.Valid([]byte(repaired)) {
		return repaired, true
	}

	return "", false
}

// stripCodeFence returns the contents of the first ``` fenced block, or the
// whole text when no complete fence is present.
func stripCodeFence(raw string) string {
	open := strings.Index(raw, "```")
	if open == -1 {
		return raw
	}
	rest := raw[open+3:]

	// Skip an optional language tag on the opening line ("```json").
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			rest = rest[nl+1:]
		}
	}

	closing := strings.Index(rest, "```")
	if closing == -1 {
		return raw
	}
	return rest[:closing]
}

// firstObjectSpan scans for the first balanced top-level {...} span,
// tracking string literals and escapes. Returns "" when no object closes
// (e.g. truncated model output).
func firstObjectSpan(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

func stripTrailingCommas(text string) string {
	return trailingCommaRe.ReplaceAllString(text, "$1")
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double quotation mark
	"”", `"`, // right double quotation mark
	"‘", "'",
	"’", "'",
)

func normalizeQuotes(text string) string {
	return quoteReplacer.Replace(text)
}
