package embedding

import "strings"

// minTokenLen is the shortest token kept; shorter tokens are discarded.
const minTokenLen = 3

// U+0130 lower-cases to "i" followed by a combining dot above; strings.ToLower drops the dot.
var dottedCapitalI = strings.NewReplacer("İ", "i̇")

// Tokenize lower-cases text, splits it on runs of characters outside [a-z0-9_]
// and keeps tokens of at least three characters. Duplicates are preserved.
func Tokenize(text string) []string {
	lower := strings.ToLower(dottedCapitalI.Replace(text))
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !isWordChar(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func isWordChar(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_'
}
