package interp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pborman/getopt/v2"
	"mvdan.cc/sh/v3/syntax"
)

// Builtin is an internal command running inside the shell environment.
// Special builtins dispatch before functions, and assignments preceding
// them persist.
type Builtin struct {
	Name    string
	Special bool
	Run     func(ctx context.Context, r *Runner, args []string) control
}

// BuiltinLookup resolves a command name to a builtin. Unknown names
// fall through to external lookup.
type BuiltinLookup func(name string) (*Builtin, bool)

// DefaultBuiltins returns the standard registry lookup, useful as the
// base when composing a custom one.
func DefaultBuiltins() BuiltinLookup { return defaultBuiltin }

func defaultBuiltin(name string) (*Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

// builtins is populated in init: eval re-enters statement evaluation,
// which resolves names through this map, so a composite literal would
// form an initialization cycle.
var builtins map[string]*Builtin

func init() {
	builtins = map[string]*Builtin{
		":":        {Name: ":", Special: true, Run: builtinTrue},
		"true":     {Name: "true", Run: builtinTrue},
		"false":    {Name: "false", Run: builtinFalse},
		"echo":     {Name: "echo", Run: builtinEcho},
		"break":    {Name: "break", Special: true, Run: builtinBreak},
		"continue": {Name: "continue", Special: true, Run: builtinContinue},
		"return":   {Name: "return", Special: true, Run: builtinReturn},
		"exit":     {Name: "exit", Special: true, Run: builtinExit},
		"export":   {Name: "export", Special: true, Run: builtinExport},
		"readonly": {Name: "readonly", Special: true, Run: builtinReadonly},
		"unset":    {Name: "unset", Special: true, Run: builtinUnset},
		"local":    {Name: "local", Run: builtinLocal},
		"set":      {Name: "set", Special: true, Run: builtinSet},
		"shift":    {Name: "shift", Special: true, Run: builtinShift},
		"wait":     {Name: "wait", Run: builtinWait},
		"trap":     {Name: "trap", Special: true, Run: builtinTrap},
		"eval":     {Name: "eval", Special: true, Run: builtinEval},
		"cd":       {Name: "cd", Run: builtinCd},
		"pwd":      {Name: "pwd", Run: builtinPwd},
	}
}

func builtinTrue(_ context.Context, r *Runner, _ []string) control {
	r.status = Exited(0)
	return controlNormal
}

func builtinFalse(_ context.Context, r *Runner, _ []string) control {
	r.status = Exited(1)
	return controlNormal
}

func builtinEcho(_ context.Context, r *Runner, args []string) control {
	newline := true
	if len(args) > 0 && args[0] == "-n" {
		newline = false
		args = args[1:]
	}
	fmt.Fprint(r.stdout, strings.Join(args, " "))
	if newline {
		fmt.Fprintln(r.stdout)
	}
	r.status = Exited(0)
	return controlNormal
}

// loopLevel parses the optional numeric operand of break and continue.
func loopLevel(name string, args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s: %s: bad loop count", name, args[0])
	}
	return n, nil
}

func builtinBreak(_ context.Context, r *Runner, args []string) control {
	n, err := loopLevel("break", args)
	if err != nil {
		r.diag(err)
		r.status = Exited(1)
		return controlNormal
	}
	if r.loopDepth == 0 {
		r.diag(errors.New("break: only meaningful in a loop"))
		r.status = Exited(1)
		return controlNormal
	}
	r.status = Exited(0)
	return breakLoops(n)
}

func builtinContinue(_ context.Context, r *Runner, args []string) control {
	n, err := loopLevel("continue", args)
	if err != nil {
		r.diag(err)
		r.status = Exited(1)
		return controlNormal
	}
	if r.loopDepth == 0 {
		r.diag(errors.New("continue: only meaningful in a loop"))
		r.status = Exited(1)
		return controlNormal
	}
	r.status = Exited(0)
	return continueLoops(n)
}

func builtinReturn(_ context.Context, r *Runner, args []string) control {
	code := r.status.Code
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			r.diag(fmt.Errorf("return: %s: numeric argument required", args[0]))
			r.status = Exited(1)
			return controlNormal
		}
		code = n
	}
	if r.funcDepth == 0 {
		r.diag(errors.New("return: can only be used in a function"))
		r.status = Exited(1)
		return controlNormal
	}
	r.status = Exited(code)
	return control{kind: flowReturn}
}

func builtinExit(_ context.Context, r *Runner, args []string) control {
	code := r.status.Code
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			r.diag(fmt.Errorf("exit: %s: numeric argument required", args[0]))
			code = 2
		} else {
			code = n
		}
	}
	r.status = Exited(code)
	return control{kind: flowExit}
}

func builtinExport(_ context.Context, r *Runner, args []string) control {
	opts := getopt.New()
	printAll := opts.Bool('p', "print all exported variables")
	if err := opts.Getopt(append([]string{"export"}, args...), nil); err != nil {
		r.diag(err)
		r.status = Exited(2)
		return controlNormal
	}
	if *printAll {
		for _, kv := range r.Vars.Environ() {
			fmt.Fprintf(r.stdout, "export %s\n", kv)
		}
		r.status = Exited(0)
		return controlNormal
	}
	status := 0
	for _, arg := range opts.Args() {
		name, value, hasValue := strings.Cut(arg, "=")
		if !syntax.ValidName(name) {
			r.diag(fmt.Errorf("export: %s: not a valid identifier", name))
			status = 1
			continue
		}
		if hasValue {
			if err := r.Vars.Set(name, value); err != nil {
				r.diag(fmt.Errorf("export: %s: %v", name, err))
				status = 1
				continue
			}
		}
		if err := r.Vars.Export(name); err != nil {
			r.diag(fmt.Errorf("export: %s: %v", name, err))
			status = 1
		}
	}
	r.status = Exited(status)
	return controlNormal
}

func builtinReadonly(_ context.Context, r *Runner, args []string) control {
	opts := getopt.New()
	printAll := opts.Bool('p', "print all readonly variables")
	if err := opts.Getopt(append([]string{"readonly"}, args...), nil); err != nil {
		r.diag(err)
		r.status = Exited(2)
		return controlNormal
	}
	if *printAll {
		for _, name := range r.Vars.Names() {
			if vr, ok := r.Vars.Lookup(name); ok && vr.ReadOnly {
				fmt.Fprintf(r.stdout, "readonly %s=%s\n", name, vr.Value)
			}
		}
		r.status = Exited(0)
		return controlNormal
	}
	status := 0
	for _, arg := range opts.Args() {
		name, value, hasValue := strings.Cut(arg, "=")
		if !syntax.ValidName(name) {
			r.diag(fmt.Errorf("readonly: %s: not a valid identifier", name))
			status = 1
			continue
		}
		if hasValue {
			if err := r.Vars.Set(name, value); err != nil {
				r.diag(fmt.Errorf("readonly: %s: %v", name, err))
				status = 1
				continue
			}
		}
		r.Vars.MarkReadOnly(name)
	}
	r.status = Exited(status)
	return controlNormal
}

func builtinUnset(_ context.Context, r *Runner, args []string) control {
	opts := getopt.New()
	funcs := opts.Bool('f', "unset shell functions")
	vars := opts.Bool('v', "unset shell variables")
	if err := opts.Getopt(append([]string{"unset"}, args...), nil); err != nil {
		r.diag(err)
		r.status = Exited(2)
		return controlNormal
	}
	status := 0
	for _, name := range opts.Args() {
		if *funcs && !*vars {
			delete(r.Funcs, name)
			continue
		}
		if err := r.Vars.Unset(name); err != nil {
			r.diag(fmt.Errorf("unset: %s: %v", name, err))
			status = 1
		}
	}
	r.status = Exited(status)
	return controlNormal
}

func builtinLocal(_ context.Context, r *Runner, args []string) control {
	if r.funcDepth == 0 {
		r.diag(errors.New("local: can only be used in a function"))
		r.status = Exited(1)
		return controlNormal
	}
	status := 0
	for _, arg := range args {
		name, value, _ := strings.Cut(arg, "=")
		if !syntax.ValidName(name) {
			r.diag(fmt.Errorf("local: %s: not a valid identifier", name))
			status = 1
			continue
		}
		if err := r.declare("local", name, &value); err != nil {
			r.diag(fmt.Errorf("local: %s: %v", name, err))
			status = 1
		}
	}
	r.status = Exited(status)
	return controlNormal
}

func builtinSet(_ context.Context, r *Runner, args []string) control {
	if len(args) == 0 {
		for _, name := range r.Vars.Names() {
			fmt.Fprintf(r.stdout, "%s=%s\n", name, r.Vars.Get(name))
		}
		r.status = Exited(0)
		return controlNormal
	}
	i := 0
	sawTerminator := false
loop:
	for ; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			// The terminator replaces the positional parameters even
			// when nothing follows it.
			sawTerminator = true
			i++
			break loop
		case arg == "-o" || arg == "+o":
			if i+1 >= len(args) {
				r.printOptions()
				continue
			}
			i++
			if err := r.Opts.SetByName(args[i], arg[0] == '-'); err != nil {
				r.diag(fmt.Errorf("set: %v", err))
				r.status = Exited(2)
				return controlNormal
			}
		case len(arg) >= 2 && (arg[0] == '-' || arg[0] == '+'):
			for _, f := range []byte(arg[1:]) {
				if err := r.Opts.SetByFlag(f, arg[0] == '-'); err != nil {
					r.diag(fmt.Errorf("set: %v", err))
					r.status = Exited(2)
					return controlNormal
				}
			}
		default:
			break loop
		}
	}
	if sawTerminator || i < len(args) {
		r.Vars.Params = append([]string(nil), args[i:]...)
	}
	r.status = Exited(0)
	return controlNormal
}

func builtinShift(_ context.Context, r *Runner, args []string) control {
	n := 1
	if len(args) > 0 {
		var err error
		n, err = strconv.Atoi(args[0])
		if err != nil || n < 0 {
			r.diag(fmt.Errorf("shift: %s: bad shift count", args[0]))
			r.status = Exited(1)
			return controlNormal
		}
	}
	if n > len(r.Vars.Params) {
		r.diag(fmt.Errorf("shift: shift count out of range"))
		r.status = Exited(1)
		return controlNormal
	}
	r.Vars.Params = r.Vars.Params[n:]
	r.status = Exited(0)
	return controlNormal
}

func builtinWait(ctx context.Context, r *Runner, args []string) control {
	pending := controlNormal
	note := func(c control) {
		if c.kind != flowNormal && pending.kind == flowNormal {
			pending = c
		}
	}
	if len(args) == 0 {
		done := make(chan struct{})
		go func() {
			r.jobs.WaitAll()
			close(done)
		}()
		for {
			select {
			case <-done:
				r.status = Exited(0)
				return pending
			case name := <-r.Signals.pending():
				note(r.handleSignal(ctx, name))
			}
		}
	}
	status := Exited(0)
	for _, arg := range args {
		pid, err := strconv.Atoi(arg)
		if err != nil {
			r.diag(fmt.Errorf("wait: %s: not a job id", arg))
			status = Exited(1)
			continue
		}
		job, ok := r.jobs.Get(pid)
		if !ok {
			status = Exited(StatusNotFound)
			continue
		}
	jobWait:
		for {
			select {
			case <-job.Done():
				status = job.Wait()
				break jobWait
			case name := <-r.Signals.pending():
				note(r.handleSignal(ctx, name))
			}
		}
		r.jobs.Remove(job.ID)
	}
	r.status = status
	return pending
}

func builtinTrap(_ context.Context, r *Runner, args []string) control {
	if len(args) == 0 {
		var lines []string
		for cond, entry := range r.traps {
			lines = append(lines, fmt.Sprintf("trap -- %q %s", entry.action, cond))
		}
		sort.Strings(lines)
		for _, l := range lines {
			fmt.Fprintln(r.stdout, l)
		}
		r.status = Exited(0)
		return controlNormal
	}
	if len(args) < 2 {
		r.diag(errors.New("trap: usage: trap action condition..."))
		r.status = Exited(1)
		return controlNormal
	}
	action, conds := args[0], args[1:]
	status := 0
	for _, cond := range conds {
		if err := r.setTrap(cond, action); err != nil {
			r.diag(err)
			status = 1
		}
	}
	r.status = Exited(status)
	return controlNormal
}

func builtinEval(ctx context.Context, r *Runner, args []string) control {
	src := strings.Join(args, " ")
	if strings.TrimSpace(src) == "" {
		r.status = Exited(0)
		return controlNormal
	}
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	file, err := parser.Parse(strings.NewReader(src), "eval")
	if err != nil {
		r.diag(fmt.Errorf("eval: %v", err))
		r.status = Exited(2)
		return controlNormal
	}
	return r.stmts(ctx, file.Stmts)
}

func builtinCd(_ context.Context, r *Runner, args []string) control {
	var target string
	printDir := false
	switch {
	case len(args) == 0:
		target = r.Vars.Get("HOME")
		if target == "" {
			r.diag(errors.New("cd: HOME not set"))
			r.status = Exited(1)
			return controlNormal
		}
	case args[0] == "-":
		target = r.Vars.Get("OLDPWD")
		if target == "" {
			r.diag(errors.New("cd: OLDPWD not set"))
			r.status = Exited(1)
			return controlNormal
		}
		printDir = true
	default:
		target = args[0]
	}
	path := target
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Dir, path)
	}
	path = filepath.Clean(path)
	fi, err := r.Fs.Stat(path)
	if err != nil || !fi.IsDir() {
		r.diag(fmt.Errorf("cd: %s: no such directory", target))
		r.status = Exited(1)
		return controlNormal
	}
	r.Vars.Set("OLDPWD", r.Dir)
	r.Dir = path
	r.Vars.Set("PWD", path)
	if printDir {
		fmt.Fprintln(r.stdout, path)
	}
	r.status = Exited(0)
	return controlNormal
}

func builtinPwd(_ context.Context, r *Runner, _ []string) control {
	fmt.Fprintln(r.stdout, r.Dir)
	r.status = Exited(0)
	return controlNormal
}

// printOptions renders the "set -o" listing.
func (r *Runner) printOptions() {
	type opt struct {
		name string
		on   bool
	}
	list := []opt{
		{"errexit", r.Opts.ErrExit},
		{"nounset", r.Opts.NoUnset},
		{"noglob", r.Opts.NoGlob},
		{"noexec", r.Opts.NoExec},
		{"pipefail", r.Opts.PipeFail},
		{"failglob", r.Opts.FailGlob},
		{"subshellerrexit", r.Opts.SubshellErrExit},
	}
	for _, o := range list {
		state := "off"
		if o.on {
			state = "on"
		}
		fmt.Fprintf(r.stdout, "%-16s%s\n", o.name, state)
	}
}
