package agents

import (
	"strings"
	"unicode"
)

// NormalizeEntityName title-cases an extracted entity name while leaving
// acronyms and deliberate casing alone. Parts are split on runs of whitespace
// and hyphens, separators preserved: an all-upper part (digits allowed) is an
// acronym and stays, a mixed-case part stays, an all-lower part gets its first
// letter upper-cased.
func NormalizeEntityName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	runes := []rune(name)
	i := 0
	for i < len(runes) {
		if isSeparator(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && !isSeparator(runes[j]) {
			j++
		}
		b.WriteString(normalizePart(string(runes[i:j])))
		i = j
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return r == '-' || unicode.IsSpace(r)
}

func normalizePart(part string) string {
	hasUpper := false
	hasLower := false
	for _, r := range part {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}
	if hasUpper {
		// Acronym ("AWS", "GPT4") or deliberate casing ("TypeScript").
		return part
	}
	if !hasLower {
		// Digits or punctuation only.
		return part
	}
	runes := []rune(part)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
