package interp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"

	"posh/core/config"
	"posh/core/state"
)

func parseScript(t *testing.T, src string) *syntax.File {
	t.Helper()
	p := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	f, err := p.Parse(strings.NewReader(src), "test")
	require.NoError(t, err)
	return f
}

type result struct {
	stdout string
	stderr string
	status Status
}

func newTestRunner(opts ...Option) (*Runner, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	base := []Option{
		Env(state.NewStore()),
		Filesystem(afero.NewMemMapFs()),
		Dir("/"),
		StdIO(strings.NewReader(""), &out, &errOut),
	}
	r := New(append(base, opts...)...)
	return r, &out, &errOut
}

func runScript(t *testing.T, src string, opts ...Option) result {
	t.Helper()
	r, out, errOut := newTestRunner(opts...)
	st := r.Run(context.Background(), parseScript(t, src))
	return result{stdout: out.String(), stderr: errOut.String(), status: st}
}

func TestSimpleCommands(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stdout string
		code   int
	}{
		{name: "echo", src: `echo hello world`, stdout: "hello world\n"},
		{name: "echo -n", src: `echo -n hi`, stdout: "hi"},
		{name: "colon", src: `:`},
		{name: "false", src: `false`, code: 1},
		{name: "status resets", src: `false; :`},
		{name: "last status", src: `false; echo $?`, stdout: "1\n"},
		{name: "assignment and expansion", src: `x=5; echo $x`, stdout: "5\n"},
		{name: "multiple assignments", src: `x=1 y=2; echo $x$y`, stdout: "12\n"},
		{name: "special builtin assignment persists", src: `x=2 :; echo $x`, stdout: "2\n"},
		{name: "builtin assignment is scoped", src: `x=1; x=2 true; echo $x`, stdout: "1\n"},
		{name: "negation", src: `! false`},
		{name: "negation of success", src: `! true`, code: 1},
		{name: "and list", src: `true && echo a || echo b`, stdout: "a\n"},
		{name: "or list", src: `false && echo a || echo b`, stdout: "b\n"},
		{name: "exit", src: `echo a; exit 7; echo b`, stdout: "a\n", code: 7},
		{name: "eval", src: `eval 'echo x$((1+1))'`, stdout: "x2\n"},
		{name: "empty quoted argument survives", src: `set -- "" x; echo $#`, stdout: "2\n"},
		{name: "pwd", src: `pwd`, stdout: "/\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src)
			assert.Equal(t, tc.stdout, res.stdout)
			assert.Equal(t, tc.code, res.status.Code)
		})
	}
}

func TestDefaultBuiltinRegistry(t *testing.T) {
	lookup := DefaultBuiltins()
	for _, name := range []string{":", "eval", "set", "trap", "cd"} {
		b, ok := lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, name, b.Name)
	}
	_, ok := lookup("nosuchbuiltin")
	assert.False(t, ok)

	// eval re-enters the evaluator, which resolves names through this
	// same registry.
	res := runScript(t, `eval 'eval "echo nested"'`)
	assert.Equal(t, "nested\n", res.stdout)
}

func TestNotFound(t *testing.T) {
	res := runScript(t, `nosuchcommand`)
	assert.Equal(t, StatusNotFound, res.status.Code)
	assert.Contains(t, res.stderr, "command not found")
}

func TestControlFlow(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stdout string
		code   int
	}{
		{name: "if then", src: `if true; then echo yes; fi`, stdout: "yes\n"},
		{name: "if else", src: `if false; then echo yes; else echo no; fi`, stdout: "no\n"},
		{name: "elif", src: `if false; then echo a; elif true; then echo b; else echo c; fi`, stdout: "b\n"},
		{name: "if no branch taken", src: `false; if false; then echo a; fi`, code: 0},
		{name: "for words", src: `for x in a b c; do echo $x; done`, stdout: "a\nb\nc\n"},
		{name: "for splits expansions", src: `v="1 2"; for x in $v; do echo $x; done`, stdout: "1\n2\n"},
		{name: "until with break", src: `i=0; until false; do i=$((i+1)); case $i in 3) break;; esac; done; echo $i`, stdout: "3\n"},
		{name: "continue", src: `for i in 1 2 3; do case $i in 2) continue;; esac; echo $i; done`, stdout: "1\n3\n"},
		{name: "break levels clamp", src: `for i in 1 2; do for j in a b; do break 5; done; echo inner; done; echo after`, stdout: "after\n"},
		{name: "case match", src: `case abc in a*) echo m;; esac`, stdout: "m\n"},
		{name: "case default", src: `case z in a) echo a;; *) echo d;; esac`, stdout: "d\n"},
		{name: "case no match", src: `false; case z in a) echo a;; esac; echo $?`, stdout: "0\n"},
		{name: "block", src: `{ echo a; echo b; }`, stdout: "a\nb\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src)
			assert.Equal(t, tc.stdout, res.stdout)
			assert.Equal(t, tc.code, res.status.Code)
		})
	}
}

func TestWhileLoop(t *testing.T) {
	// Condition via case: loop until i reaches 3.
	src := `i=0
while case $i in 3) false;; *) true;; esac; do
	echo $i
	i=$((i+1))
done
echo done $i`
	res := runScript(t, src)
	assert.Equal(t, "0\n1\n2\ndone 3\n", res.stdout)
	assert.Equal(t, 0, res.status.Code)
}

func TestForOverPositionalParams(t *testing.T) {
	res := runScript(t, `for x do echo $x; done`, Params("test", "p1", "p2"))
	assert.Equal(t, "p1\np2\n", res.stdout)
}

func TestFunctions(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stdout string
		code   int
	}{
		{name: "call with args", src: `f() { echo in $1; }; f arg`, stdout: "in arg\n"},
		{name: "return status", src: `f() { return 3; }; f; echo $?`, stdout: "3\n"},
		{name: "return default", src: `f() { false; return; }; f; echo $?`, stdout: "1\n"},
		{name: "params restored", src: `f() { echo $#; }; f a b; echo $#`, stdout: "2\n0\n"},
		{name: "local", src: `x=g; f() { local x=l; echo $x; }; f; echo $x`, stdout: "l\ng\n"},
		{name: "global write", src: `f() { x=set; }; f; echo $x`, stdout: "set\n"},
		{name: "return outside function", src: `return; echo $?`, stdout: "1\n"},
		{name: "nested return", src: `g() { return 5; }; f() { g; echo $?; }; f`, stdout: "5\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src)
			assert.Equal(t, tc.stdout, res.stdout)
			assert.Equal(t, tc.code, res.status.Code)
		})
	}
}

func TestSubshells(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stdout string
		code   int
	}{
		{name: "variable isolation", src: `x=1; (x=2; echo $x); echo $x`, stdout: "2\n1\n"},
		{name: "exit confined", src: `(exit 5); echo $?`, stdout: "5\n"},
		{name: "option isolation", src: `(set -f); echo ok`, stdout: "ok\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src)
			assert.Equal(t, tc.stdout, res.stdout)
			assert.Equal(t, tc.code, res.status.Code)
		})
	}
}

func TestCdAndPwd(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/home/u/sub", 0o755))
	var out bytes.Buffer
	r := New(
		Env(state.NewStore()),
		Filesystem(fs),
		Dir("/home/u"),
		StdIO(strings.NewReader(""), &out, &out),
	)
	st := r.Run(context.Background(), parseScript(t, `cd sub; pwd; cd -`))
	assert.Equal(t, 0, st.Code)
	assert.Equal(t, "/home/u/sub\n/home/u\n", out.String())
	assert.Equal(t, "/home/u", r.Dir)

	out.Reset()
	st = r.Run(context.Background(), parseScript(t, `cd nosuchdir`))
	assert.Equal(t, 1, st.Code)

	// The subshell's cd never escapes.
	out.Reset()
	st = r.Run(context.Background(), parseScript(t, `(cd sub); pwd`))
	assert.Equal(t, 0, st.Code)
	assert.Equal(t, "/home/u\n", out.String())
}

func TestCommandSubstitutionStatements(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stdout string
		code   int
	}{
		{name: "capture", src: `x=$(echo hi); echo $x`, stdout: "hi\n"},
		{name: "trailing newlines stripped", src: `x=$(echo hi); echo "[$x]"`, stdout: "[hi]\n"},
		{name: "assignment-only status", src: `x=$(false); echo $?`, stdout: "1\n"},
		{name: "nested", src: `echo $(echo $(echo deep))`, stdout: "deep\n"},
		{name: "no state leak", src: `x=1; y=$(x=2; echo $x); echo $x $y`, stdout: "1 2\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src)
			assert.Equal(t, tc.stdout, res.stdout)
			assert.Equal(t, tc.code, res.status.Code)
		})
	}
}

func TestPipelines(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code int
	}{
		{name: "last status wins", src: `echo a | false`, code: 1},
		{name: "early failure ignored", src: `false | true`},
		{name: "pipefail", src: `set -o pipefail; false | true`, code: 1},
		{name: "three stages", src: `true | true | false`, code: 1},
		{name: "negated pipeline", src: `! echo a | false`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src)
			assert.Equal(t, tc.code, res.status.Code)
		})
	}
}

func TestBackgroundJobs(t *testing.T) {
	res := runScript(t, `false & wait $!; echo $?`)
	assert.Equal(t, "1\n", res.stdout)

	res = runScript(t, `: & echo $!`)
	assert.Equal(t, "1\n", res.stdout, "job ids start at one")

	res = runScript(t, `: & : & wait; echo $?`)
	assert.Equal(t, "0\n", res.stdout)

	res = runScript(t, `wait 99; echo $?`)
	assert.Equal(t, "127\n", res.stdout, "unknown job id")
}

func TestErrExit(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stdout string
		code   int
	}{
		{name: "stops script", src: `set -e; false; echo no`, code: 1},
		{name: "condition exempt", src: `set -e; if false; then :; fi; echo ok`, stdout: "ok\n"},
		{name: "and-or left exempt", src: `set -e; false || echo rescued`, stdout: "rescued\n"},
		{name: "negation exempt", src: `set -e; ! false; echo ok`, stdout: "ok\n"},
		{name: "subshell status triggers parent", src: `set -e; (false); echo no`, code: 1},
		{name: "can be switched off", src: `set -e; set +e; false; echo ok`, stdout: "ok\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src)
			assert.Equal(t, tc.stdout, res.stdout)
			assert.Equal(t, tc.code, res.status.Code)
		})
	}
}

func TestNoUnset(t *testing.T) {
	res := runScript(t, `set -u; echo $missing; echo after`)
	assert.Equal(t, "after\n", res.stdout)
	assert.Contains(t, res.stderr, "missing")

	res = runScript(t, `set -u; set -e; echo $missing; echo after`)
	assert.Equal(t, "", res.stdout, "strict mode aborts the script")
	assert.Equal(t, 2, res.status.Code)
}

func TestNoExec(t *testing.T) {
	res := runScript(t, `echo hi`, WithOptions(func() config.Options {
		o := config.Default()
		o.NoExec = true
		return o
	}()))
	assert.Equal(t, "", res.stdout)
	assert.Equal(t, 0, res.status.Code)
}

func TestVariableBuiltins(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stdout string
		stderr string
	}{
		{name: "unset", src: `x=1; unset x; echo ${x-gone}`, stdout: "gone\n"},
		{name: "readonly blocks assignment", src: `readonly x=1; x=2; echo $x`, stdout: "1\n", stderr: "readonly"},
		{name: "readonly blocks unset", src: `readonly x=1; unset x; echo $x`, stdout: "1\n", stderr: "readonly"},
		{name: "shift", src: `shift; echo $1 $#`, stdout: "b 1\n"},
		{name: "shift count", src: `shift 2; echo $#`, stdout: "0\n"},
		{name: "set params", src: `set -- x y z; echo $2 $#`, stdout: "y 3\n"},
		{name: "bare set terminator clears params", src: `set --; echo $#`, stdout: "0\n"},
		{name: "option flags", src: `set -e; echo $-`, stdout: "e\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runScript(t, tc.src, Params("test", "a", "b"))
			assert.Equal(t, tc.stdout, res.stdout)
			if tc.stderr != "" {
				assert.Contains(t, res.stderr, tc.stderr)
			}
		})
	}
}

func TestExportReflectsInEnviron(t *testing.T) {
	r, _, _ := newTestRunner()
	r.Run(context.Background(), parseScript(t, `x=1; export x; y=2`))
	env := r.Vars.Environ()
	assert.Contains(t, env, "x=1")
	assert.NotContains(t, env, "y=2")
}

func TestShiftOutOfRange(t *testing.T) {
	res := runScript(t, `shift 5; echo $?`, Params("test", "a"))
	assert.Equal(t, "1\n", res.stdout)
	assert.Contains(t, res.stderr, "shift")
}
