package chart

import (
	"strings"
	"unicode"
)

// FormatLabel renders a human-readable label from a field name: a space is
// inserted before interior capitals (splitting camelCase), underscores
// become spaces, and each word is title-cased. Used for axis names and
// tooltip labels, never for raw field access.
func FormatLabel(field string) string {
	if field == "" {
		return ""
	}

	var sb strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		if r == '_' {
			sb.WriteRune(' ')
			continue
		}
		if unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(runes[i-1]) && runes[i-1] != ' ' && runes[i-1] != '_' {
			sb.WriteRune(' ')
		}
		sb.WriteRune(r)
	}

	words := strings.Fields(sb.String())
	for i, w := range words {
		wr := []rune(w)
		wr[0] = unicode.ToUpper(wr[0])
		words[i] = string(wr)
	}
	return strings.Join(words, " ")
}
