package expand

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"posh/core/config"
)

// softField builds a field as if it came entirely from an unquoted
// expansion, the only kind subject to splitting.
func softField(s string) Field {
	var f Field
	f.push(s, false, true)
	return f
}

func fieldStrings(fields []Field) []string {
	var out []string
	for _, f := range fields {
		out = append(out, f.String())
	}
	return out
}

func TestSplitField(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ifs  string
		want []string
	}{
		{name: "whitespace", in: "a b", ifs: config.DefaultIFS, want: []string{"a", "b"}},
		{name: "whitespace runs collapse", in: "  a \t b  ", ifs: config.DefaultIFS, want: []string{"a", "b"}},
		{name: "non-ws delimiter", in: "a:b:c", ifs: ":", want: []string{"a", "b", "c"}},
		{name: "adjacent non-ws keeps empty", in: "a::b", ifs: ":", want: []string{"a", "", "b"}},
		{name: "leading non-ws keeps empty", in: ":a", ifs: ":", want: []string{"", "a"}},
		{name: "trailing delimiter drops", in: "a:", ifs: ":", want: []string{"a"}},
		{name: "only delimiters", in: ":::", ifs: ":", want: []string{"", "", ""}},
		{name: "ws absorbs one non-ws", in: "a : b", ifs: ": ", want: []string{"a", "b"}},
		{name: "second non-ws delimits", in: "a : : b", ifs: ": ", want: []string{"a", "", "b"}},
		{name: "empty input vanishes", in: "", ifs: config.DefaultIFS, want: nil},
		{name: "null ifs disables splitting", in: "a b", ifs: "", want: []string{"a b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := fieldStrings(splitField(softField(tc.in), tc.ifs))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSplitFieldQuoted(t *testing.T) {
	// Quoted characters are never delimiters even when they are IFS.
	var f Field
	f.push("a", false, true)
	f.push(" ", true, false)
	f.push("b", false, true)
	got := fieldStrings(splitField(f, config.DefaultIFS))
	assert.Equal(t, []string{"a b"}, got)

	// Hard (non-expansion) characters are never delimiters either.
	var g Field
	g.push("a b", false, false)
	got = fieldStrings(splitField(g, config.DefaultIFS))
	assert.Equal(t, []string{"a b"}, got)
}

func TestSplitFieldEmptyQuoted(t *testing.T) {
	// A quoted empty field survives splitting.
	var f Field
	f.push("", true, false)
	fields := splitField(f, config.DefaultIFS)
	assert.Len(t, fields, 1)
	assert.Equal(t, "", fields[0].String())
}
