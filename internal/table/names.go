package table

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeColumnName turns an arbitrary header into a usable column name.
//
// The name is NFC normalized and trimmed; characters other than letters,
// digits and underscores become underscores; a leading digit gets an
// underscore prefix. An empty result becomes "_".
func NormalizeColumnName(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if r := []rune(out)[0]; unicode.IsDigit(r) {
		out = "_" + out
	}
	return out
}

// NormalizeColumnNames normalizes every name and disambiguates collisions by
// appending a numeric suffix.
func NormalizeColumnNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, n := range names {
		base := NormalizeColumnName(n)
		name := base
		for k := seen[base]; ; k++ {
			if k > 0 {
				name = base + "_" + strconv.Itoa(k)
			}
			if _, taken := seen[name]; !taken {
				seen[base] = k + 1
				break
			}
		}
		seen[name] = 1
		out[i] = name
	}
	return out
}

// PositionalNames returns "_1" .. "_n", the names used for headerless input.
func PositionalNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "_" + strconv.Itoa(i+1)
	}
	return out
}
