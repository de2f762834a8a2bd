package expand

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

func parseArith(t *testing.T, src string) syntax.ArithmExpr {
	t.Helper()
	w := parseWord(t, "$(("+src+"))")
	require.Len(t, w.Parts, 1)
	ae, ok := w.Parts[0].(*syntax.ArithmExp)
	require.True(t, ok)
	return ae.X
}

func TestArithm(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]string
		want int
	}{
		{name: "precedence", src: "1+2*3", want: 7},
		{name: "parens", src: "(1+2)*3", want: 9},
		{name: "division", src: "7/2", want: 3},
		{name: "remainder", src: "7%2", want: 1},
		{name: "unary minus", src: "-3+5", want: 2},
		{name: "logical not", src: "!5", want: 0},
		{name: "bit negation", src: "~0", want: -1},
		{name: "comparison", src: "2<3", want: 1},
		{name: "equality", src: "2==3", want: 0},
		{name: "shift", src: "1<<4", want: 16},
		{name: "bitwise", src: "6&3", want: 2},
		{name: "and short-circuits", src: "0&&(1/0)", want: 0},
		{name: "or short-circuits", src: "1||(1/0)", want: 1},
		{name: "ternary", src: "1?10:20", want: 10},
		{name: "ternary else", src: "0?10:20", want: 20},
		{name: "variable", src: "x+1", vars: map[string]string{"x": "4"}, want: 5},
		{name: "unset variable is zero", src: "x+1", want: 1},
		{name: "variable chain", src: "x", vars: map[string]string{"x": "y", "y": "3"}, want: 3},
		{name: "chain to empty is zero", src: "x+1", vars: map[string]string{"x": "y", "y": ""}, want: 1},
		{name: "hex literal", src: "0x10", want: 16},
		{name: "octal literal", src: "010", want: 8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Arithm(testCfg(tc.vars), parseArith(t, tc.src))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestArithmAssignment(t *testing.T) {
	cfg := testCfg(map[string]string{"x": "4"})
	got, err := Arithm(cfg, parseArith(t, "x=x+2"))
	require.NoError(t, err)
	assert.Equal(t, 6, got)
	assert.Equal(t, "6", cfg.Vars.Get("x"))
}

func TestArithmErrors(t *testing.T) {
	for _, src := range []string{"1/0", "5%0"} {
		_, err := Arithm(testCfg(nil), parseArith(t, src))
		var ee *Error
		require.True(t, errors.As(err, &ee), src)
		assert.Equal(t, ArithmeticError, ee.Kind, src)
	}

	_, err := Arithm(testCfg(map[string]string{"x": "ten"}), parseArith(t, "x+1"))
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ArithmeticError, ee.Kind)
}
