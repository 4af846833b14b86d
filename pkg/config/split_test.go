package config

import (
	"testing"
)

func TestSplitQuotedFields(t *testing.T) {
	in := `field'A' 'fieldB' fie'l\'d'C fieldD 'another field' fieldE`
	tgt := []string{"fieldA", "fieldB", "fiel'dC", "fieldD", "another field", "fieldE"}
	out := SplitQuotedFields(in, '\'')

	if len(tgt) != len(out) {
		t.Fatalf("expected %#v, got %#v (len mismatch)", tgt, out)
	}

	for i := range tgt {
		if tgt[i] != out[i] {
			t.Fatalf(" expected %#v, got %#v (mismatch at %d)", tgt, out, i)
		}
	}
}

func TestSplitDoubleQuotedFields(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{
			name:     "generic test case",
			in:       `field"A" "fieldB" fie"l'd"C "field\"D" "yet another field"`,
			expected: []string{"fieldA", "fieldB", "fiel'dC", "field\"D", "yet another field"},
		},
		{
			name:     "with empty string in the end",
			in:       `field"A" "" `,
			expected: []string{"fieldA", ""},
		},
		{
			name:     "with empty string at the beginning",
			in:       ` "" field"A"`,
			expected: []string{"", "fieldA"},
		},
		{
			name:     "lots of spaces",
			in:       `    field"A"   `,
			expected: []string{"fieldA"},
		},
		{
			name:     "only empty string",
			in:       ` "" "" "" """" "" `,
			expected: []string{"", "", "", "", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			tgt := tt.expected
			out := SplitQuotedFields(in, '"')
			if len(tgt) != len(out) {
				t.Fatalf("expected %#v, got %#v (len mismatch)", tgt, out)
			}

			for i := range tgt {
				if tgt[i] != out[i] {
					t.Fatalf(" expected %#v, got %#v (mismatch at %d)", tgt, out, i)
				}
			}
		})
	}
}

func TestExpandAlias(t *testing.T) {
	c := &Config{Aliases: map[string]string{
		"stop":  "send ?",
		"regs":  `send "p10;thread:1092;"`,
		"empty": "",
	}}
	tests := []struct {
		in       []string
		expected []string
	}{
		{[]string{"stop"}, []string{"send", "?"}},
		{[]string{"regs", "extra"}, []string{"send", "p10;thread:1092;", "extra"}},
		{[]string{"threads"}, []string{"threads"}},
		{[]string{"empty", "x"}, []string{"x"}},
		{nil, nil},
	}
	for _, tt := range tests {
		out := c.ExpandAlias(tt.in)
		if len(out) != len(tt.expected) {
			t.Fatalf("%q: expected %#v, got %#v", tt.in, tt.expected, out)
		}
		for i := range out {
			if out[i] != tt.expected[i] {
				t.Fatalf("%q: expected %#v, got %#v", tt.in, tt.expected, out)
			}
		}
	}

	var nilConfig *Config
	if out := nilConfig.ExpandAlias([]string{"stop"}); len(out) != 1 || out[0] != "stop" {
		t.Fatalf("nil config expanded alias: %#v", out)
	}
}
