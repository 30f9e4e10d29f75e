package plan

import (
	"regexp"
	"strings"
)

// ExtractJSON finds the first balanced JSON object in model output that may
// contain surrounding prose or markdown fences. Returns "" when no balanced
// object exists. This is the only place raw model text is handled; the rest
// of the package sees parsed values or a typed error.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	// JSON code blocks are the most reliable signal.
	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}

	return ""
}

// extractJSONObject extracts a complete JSON object starting at the given
// position, tracking string state so braces inside strings don't count.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}

var (
	isoDateRe       = regexp.MustCompile(`(?:new\s+)?(?:ISODate|Date)\(\s*("(?:[^"\\]|\\.)*")\s*\)`)
	objectIDRe      = regexp.MustCompile(`ObjectId\(\s*("(?:[^"\\]|\\.)*")\s*\)`)
	numberWrapRe    = regexp.MustCompile(`Number(?:Int|Long)\(\s*"?(-?\d+)"?\s*\)`)
	numberDecimalRe = regexp.MustCompile(`NumberDecimal\(\s*"?(-?\d+(?:\.\d+)?)"?\s*\)`)
)

// NormalizeLiterals rewrites non-standard literal wrappers that models
// borrow from shell syntax (ISODate, ObjectId, NumberLong, ...) into plain
// JSON so the result can be parsed by encoding/json.
func NormalizeLiterals(s string) string {
	s = isoDateRe.ReplaceAllString(s, "$1")
	s = objectIDRe.ReplaceAllString(s, "$1")
	s = numberWrapRe.ReplaceAllString(s, "$1")
	s = numberDecimalRe.ReplaceAllString(s, "$1")
	return s
}
