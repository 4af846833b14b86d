package config

import (
	"bytes"
	"unicode"
)

// SplitQuotedFields is like strings.Fields but ignores spaces inside areas
// surrounded by the quote character. A quote character inside a quoted
// area is escaped with a backslash.
func SplitQuotedFields(in string, quote rune) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf bytes.Buffer

	for _, ch := range in {
		switch state {
		case inSpace:
			if ch == quote {
				state = inQuote
			} else if !unicode.IsSpace(ch) {
				buf.WriteRune(ch)
				state = inField
			}

		case inField:
			if ch == quote {
				state = inQuote
			} else if unicode.IsSpace(ch) {
				r = append(r, buf.String())
				buf.Reset()
				state = inSpace
			} else {
				buf.WriteRune(ch)
			}

		case inQuote:
			if ch == quote {
				state = inField
			} else if ch == '\\' {
				state = inQuoteEscaped
			} else {
				buf.WriteRune(ch)
			}

		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}

	if buf.Len() != 0 || state == inField {
		r = append(r, buf.String())
	}

	return r
}

// ExpandAlias replaces the first word of words with the command line of
// the alias it names, if any. Aliases are not expanded recursively.
func (c *Config) ExpandAlias(words []string) []string {
	if len(words) == 0 || c == nil {
		return words
	}
	line, ok := c.Aliases[words[0]]
	if !ok {
		return words
	}
	return append(SplitQuotedFields(line, '"'), words[1:]...)
}
