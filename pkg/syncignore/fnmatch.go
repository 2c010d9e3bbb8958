package syncignore

import (
	"regexp"
	"strings"
)

// compileGlob translates a shell glob into an anchored regular expression.
//
// The dialect is the one of Python's fnmatch: '*' matches any run of
// characters including '/', '?' matches exactly one character, "[...]" is a
// character class, "[!...]" a negated one, and an unterminated '[' is a
// literal. Everything else matches itself.
func compileGlob(pattern string, foldCase bool) (*regexp.Regexp, error) {
	var sb strings.Builder
	if foldCase {
		sb.WriteString("(?i)")
	}
	sb.WriteString("^(?s:")

	runes := []rune(pattern)
	n := len(runes)
	for i := 0; i < n; {
		c := runes[i]
		i++
		switch c {
		case '*':
			// Consecutive stars are equivalent to one.
			for i < n && runes[i] == '*' {
				i++
			}
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			j := i
			if j < n && runes[j] == '!' {
				j++
			}
			if j < n && runes[j] == ']' {
				j++
			}
			for j < n && runes[j] != ']' {
				j++
			}
			if j >= n {
				sb.WriteString(`\[`)
				continue
			}
			class := runes[i:j]
			i = j + 1
			sb.WriteByte('[')
			if len(class) > 0 && class[0] == '!' {
				sb.WriteByte('^')
				class = class[1:]
			}
			for _, r := range class {
				if r == '-' {
					sb.WriteRune(r)
					continue
				}
				sb.WriteString(regexp.QuoteMeta(string(r)))
			}
			sb.WriteByte(']')
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString(")$")
	return regexp.Compile(sb.String())
}
