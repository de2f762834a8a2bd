// Package interp interprets parsed shell programs: it walks
// mvdan.cc/sh/v3 syntax trees, expands words through core/expand,
// resolves redirections, dispatches commands to builtins, functions,
// and external utilities, and coordinates pipelines, subshells,
// background jobs, and traps.
package interp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"

	"posh/core/config"
	"posh/core/expand"
	"posh/core/state"
)

// Runner executes shell programs against one shell environment. It is
// not safe for concurrent use; pipelines and subshells run on forked
// copies instead.
type Runner struct {
	// Vars holds variables, positional parameters, and $0.
	Vars *state.Store
	// Funcs holds defined shell functions by name.
	Funcs map[string]*syntax.Stmt
	// Opts is this environment's option set, held by value so forks
	// cannot leak option changes back.
	Opts config.Options

	// Fs backs pathname expansion, redirection targets, and PATH
	// lookup.
	Fs afero.Fs
	// Dir is the working directory.
	Dir string
	// Spawn runs external commands.
	Spawn Spawner
	// Lookup overrides the builtin registry when non-nil.
	Lookup BuiltinLookup
	// Signals feeds asynchronous signals into the trap machinery.
	Signals *SignalBridge
	// Pid is reported through $$.
	Pid int

	jobs  *JobTable
	traps map[string]trapEntry

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// status is the current value of $?.
	status Status
	// ectx is the context of the statement being evaluated, for
	// expansion callbacks that carry no context of their own.
	ectx context.Context

	loopDepth    int
	funcDepth    int
	noErrExit    bool
	handlingTrap bool
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// Env replaces the variable store.
func Env(vars *state.Store) Option {
	return func(r *Runner) { r.Vars = vars }
}

// StdIO sets the runner's standard streams. A nil reader or writer
// keeps the default.
func StdIO(in io.Reader, out, err io.Writer) Option {
	return func(r *Runner) {
		if in != nil {
			r.stdin = in
		}
		if out != nil {
			r.stdout = out
		}
		if err != nil {
			r.stderr = err
		}
	}
}

// Dir sets the working directory.
func Dir(dir string) Option {
	return func(r *Runner) { r.Dir = dir }
}

// Filesystem replaces the backing filesystem.
func Filesystem(fs afero.Fs) Option {
	return func(r *Runner) { r.Fs = fs }
}

// WithOptions seeds the shell option set.
func WithOptions(o config.Options) Option {
	return func(r *Runner) { r.Opts = o }
}

// WithSpawner replaces the external command spawner.
func WithSpawner(sp Spawner) Option {
	return func(r *Runner) { r.Spawn = sp }
}

// WithBuiltins replaces the builtin registry.
func WithBuiltins(lookup BuiltinLookup) Option {
	return func(r *Runner) { r.Lookup = lookup }
}

// Params sets $0 and the positional parameters.
func Params(name string, args ...string) Option {
	return func(r *Runner) {
		r.Vars.Name = name
		r.Vars.Params = args
	}
}

// New builds a Runner wired to the host environment; options replace
// individual collaborators, typically with in-memory fakes in tests.
func New(opts ...Option) *Runner {
	r := &Runner{
		Vars:    state.NewStoreFromEnviron(os.Environ()),
		Funcs:   make(map[string]*syntax.Stmt),
		Opts:    config.Default(),
		Fs:      afero.NewOsFs(),
		Spawn:   NewExecSpawner(),
		Signals: NewSignalBridge(),
		Pid:     os.Getpid(),
		jobs:    NewJobTable(),
		traps:   make(map[string]trapEntry),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	if wd, err := os.Getwd(); err == nil {
		r.Dir = wd
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// fork copies the runner into a child execution environment: variables,
// functions, traps, and options are copied, while the job table and the
// signal bridge stay shared.
func (r *Runner) fork() *Runner {
	nr := &Runner{
		Vars:    r.Vars.Fork(),
		Funcs:   make(map[string]*syntax.Stmt, len(r.Funcs)),
		Opts:    r.Opts,
		Fs:      r.Fs,
		Dir:     r.Dir,
		Spawn:   r.Spawn,
		Lookup:  r.Lookup,
		Signals: r.Signals,
		Pid:     r.Pid,
		jobs:    r.jobs,
		traps:   make(map[string]trapEntry, len(r.traps)),
		stdin:   r.stdin,
		stdout:  r.stdout,
		stderr:  r.stderr,
		status:  r.status,
		ectx:    r.ectx,
	}
	for name, body := range r.Funcs {
		nr.Funcs[name] = body
	}
	for cond, entry := range r.traps {
		nr.traps[cond] = entry
	}
	return nr
}

// Status reports the current value of $?.
func (r *Runner) Status() Status { return r.status }

// Run interprets a whole parsed program and returns its final exit
// status. The EXIT trap, if set, runs before Run returns.
func (r *Runner) Run(ctx context.Context, file *syntax.File) Status {
	r.ectx = ctx
	c := r.stmts(ctx, file.Stmts)
	if c.kind == flowFatal && c.err != nil {
		r.diag(c.err)
		if r.status.Ok() {
			r.status = Exited(2)
		}
	}
	r.runExitTrap(ctx)
	return r.status
}

func (r *Runner) stmts(ctx context.Context, stmts []*syntax.Stmt) control {
	for _, st := range stmts {
		if c := r.stmt(ctx, st); c.kind != flowNormal {
			return c
		}
	}
	return controlNormal
}

func (r *Runner) stmt(ctx context.Context, st *syntax.Stmt) control {
	if c := r.checkPending(ctx); c.kind != flowNormal {
		return c
	}
	if err := ctx.Err(); err != nil {
		return fatal(err)
	}
	if st.Background {
		r.bgStmt(ctx, st)
		r.status = Exited(0)
		return controlNormal
	}
	c := r.stmtSync(ctx, st)
	if c.kind == flowNormal && r.errExits(st) {
		return control{kind: flowExit}
	}
	return c
}

// errExits reports whether errexit unwinds after st. Conditions of
// if/while/until and left operands of && and || are exempt, as is a
// statement negated with "!".
func (r *Runner) errExits(st *syntax.Stmt) bool {
	return r.Opts.ErrExit && !r.noErrExit && !st.Negated && !r.status.Ok()
}

// condStmt evaluates a statement in condition position, where a
// failure steers control flow instead of triggering errexit.
func (r *Runner) condStmt(ctx context.Context, st *syntax.Stmt) control {
	old := r.noErrExit
	r.noErrExit = true
	c := r.stmt(ctx, st)
	r.noErrExit = old
	return c
}

func (r *Runner) condStmts(ctx context.Context, stmts []*syntax.Stmt) control {
	old := r.noErrExit
	r.noErrExit = true
	c := r.stmts(ctx, stmts)
	r.noErrExit = old
	return c
}

func (r *Runner) stmtSync(ctx context.Context, st *syntax.Stmt) control {
	if r.Opts.NoExec {
		r.status = Exited(0)
		return controlNormal
	}
	restore, err := r.applyRedirects(ctx, st.Redirs)
	if restore != nil {
		defer restore()
	}
	if err != nil {
		r.diag(err)
		r.status = Exited(1)
		if st.Negated {
			r.status = r.status.negate()
		}
		return controlNormal
	}
	var c control
	if st.Cmd != nil {
		c = r.cmd(ctx, st.Cmd)
	} else {
		r.status = Exited(0)
	}
	if st.Negated {
		r.status = r.status.negate()
	}
	return c
}

func (r *Runner) cmd(ctx context.Context, cm syntax.Command) control {
	switch cm := cm.(type) {
	case *syntax.CallExpr:
		return r.call(ctx, cm)
	case *syntax.BinaryCmd:
		return r.binaryCmd(ctx, cm)
	case *syntax.IfClause:
		return r.ifClause(ctx, cm)
	case *syntax.WhileClause:
		return r.whileClause(ctx, cm)
	case *syntax.ForClause:
		return r.forClause(ctx, cm)
	case *syntax.CaseClause:
		return r.caseClause(ctx, cm)
	case *syntax.Block:
		return r.stmts(ctx, cm.Stmts)
	case *syntax.Subshell:
		return r.subshell(ctx, cm)
	case *syntax.FuncDecl:
		r.Funcs[cm.Name.Value] = cm.Body
		r.status = Exited(0)
		return controlNormal
	case *syntax.DeclClause:
		return r.declClause(ctx, cm)
	default:
		return fatal(fmt.Errorf("unsupported command node %T", cm))
	}
}

func (r *Runner) binaryCmd(ctx context.Context, cm *syntax.BinaryCmd) control {
	switch cm.Op {
	case syntax.AndStmt, syntax.OrStmt:
		if c := r.condStmt(ctx, cm.X); c.kind != flowNormal {
			return c
		}
		if (cm.Op == syntax.AndStmt) == r.status.Ok() {
			return r.stmt(ctx, cm.Y)
		}
		return controlNormal
	case syntax.Pipe, syntax.PipeAll:
		return r.pipeline(ctx, cm)
	default:
		return fatal(fmt.Errorf("unsupported binary command %v", cm.Op))
	}
}

func (r *Runner) ifClause(ctx context.Context, cm *syntax.IfClause) control {
	if len(cm.Cond) == 0 {
		// Bare else arm.
		return r.stmts(ctx, cm.Then)
	}
	if c := r.condStmts(ctx, cm.Cond); c.kind != flowNormal {
		return c
	}
	if r.status.Ok() {
		return r.stmts(ctx, cm.Then)
	}
	if cm.Else != nil {
		return r.ifClause(ctx, cm.Else)
	}
	r.status = Exited(0)
	return controlNormal
}

// loopControl interprets the control value coming out of a loop body:
// break and continue are consumed here, clamped to the outermost loop
// when their level exceeds the nesting depth.
func (r *Runner) loopControl(c control) (stop bool, out control) {
	switch c.kind {
	case flowNormal:
		return false, controlNormal
	case flowBreak:
		if c.n > 1 && r.loopDepth > 1 {
			return true, breakLoops(c.n - 1)
		}
		return true, controlNormal
	case flowContinue:
		if c.n > 1 && r.loopDepth > 1 {
			return true, continueLoops(c.n - 1)
		}
		return false, controlNormal
	default:
		return true, c
	}
}

func (r *Runner) whileClause(ctx context.Context, cm *syntax.WhileClause) control {
	r.loopDepth++
	defer func() { r.loopDepth-- }()
	body := Exited(0)
	for {
		c := r.condStmts(ctx, cm.Cond)
		if c.kind == flowNormal {
			if r.status.Ok() == cm.Until {
				break
			}
			c = r.stmts(ctx, cm.Do)
			if c.kind == flowNormal {
				body = r.status
			}
		}
		if stop, out := r.loopControl(c); stop {
			return out
		}
		if c := r.checkPending(ctx); c.kind != flowNormal {
			return c
		}
	}
	r.status = body
	return controlNormal
}

func (r *Runner) forClause(ctx context.Context, cm *syntax.ForClause) control {
	switch loop := cm.Loop.(type) {
	case *syntax.WordIter:
		return r.wordIterLoop(ctx, cm, loop)
	case *syntax.CStyleLoop:
		return r.cStyleLoop(ctx, cm, loop)
	default:
		return fatal(fmt.Errorf("unsupported loop node %T", loop))
	}
}

func (r *Runner) wordIterLoop(ctx context.Context, cm *syntax.ForClause, loop *syntax.WordIter) control {
	var items []string
	if loop.InPos.IsValid() {
		var err error
		items, err = expand.Fields(r.expandCfg(), loop.Items...)
		if err != nil {
			return r.expandFailure(err)
		}
	} else {
		// "for x do ..." iterates the positional parameters.
		items = append(items, r.Vars.Params...)
	}
	r.loopDepth++
	defer func() { r.loopDepth-- }()
	r.status = Exited(0)
	for _, item := range items {
		if err := r.Vars.Set(loop.Name.Value, item); err != nil {
			r.diag(fmt.Errorf("%s: %w", loop.Name.Value, err))
			r.status = Exited(1)
			return controlNormal
		}
		if stop, out := r.loopControl(r.stmts(ctx, cm.Do)); stop {
			return out
		}
		if c := r.checkPending(ctx); c.kind != flowNormal {
			return c
		}
	}
	return controlNormal
}

func (r *Runner) cStyleLoop(ctx context.Context, cm *syntax.ForClause, loop *syntax.CStyleLoop) control {
	if loop.Init != nil {
		if _, err := expand.Arithm(r.expandCfg(), loop.Init); err != nil {
			return r.expandFailure(err)
		}
	}
	r.loopDepth++
	defer func() { r.loopDepth-- }()
	r.status = Exited(0)
	for {
		if loop.Cond != nil {
			n, err := expand.Arithm(r.expandCfg(), loop.Cond)
			if err != nil {
				return r.expandFailure(err)
			}
			if n == 0 {
				break
			}
		}
		if stop, out := r.loopControl(r.stmts(ctx, cm.Do)); stop {
			return out
		}
		if loop.Post != nil {
			if _, err := expand.Arithm(r.expandCfg(), loop.Post); err != nil {
				return r.expandFailure(err)
			}
		}
		if c := r.checkPending(ctx); c.kind != flowNormal {
			return c
		}
	}
	return controlNormal
}

func (r *Runner) caseClause(ctx context.Context, cm *syntax.CaseClause) control {
	word, err := expand.Literal(r.expandCfg(), cm.Word)
	if err != nil {
		return r.expandFailure(err)
	}
	for _, item := range cm.Items {
		for _, patWord := range item.Patterns {
			pat, err := expand.Pattern(r.expandCfg(), patWord)
			if err != nil {
				return r.expandFailure(err)
			}
			if matchPattern(pat, word) {
				r.status = Exited(0)
				return r.stmts(ctx, item.Stmts)
			}
		}
	}
	r.status = Exited(0)
	return controlNormal
}

// matchPattern reports whether s matches the shell pattern pat in its
// entirety. Unlike pathname expansion, slashes and leading dots are not
// special here.
func matchPattern(pat, s string) bool {
	expr, err := pattern.Regexp(pat, pattern.EntireString)
	if err != nil {
		// Invalid pattern: fall back to literal comparison.
		return pat == s
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return pat == s
	}
	return rx.MatchString(s)
}

func (r *Runner) subshell(ctx context.Context, cm *syntax.Subshell) control {
	sub := r.fork()
	sub.Opts.ErrExit = r.Opts.ErrExit && r.Opts.SubshellErrExit
	c := sub.stmts(ctx, cm.Stmts)
	r.status = sub.status
	if c.kind == flowFatal {
		return c
	}
	// Exit, return, break and continue are confined to the subshell.
	return controlNormal
}

// cmdSubst is the CommandSubstituter capability handed to the expander:
// a forked environment runs the statements with its stdout captured.
func (r *Runner) cmdSubst(stmts []*syntax.Stmt) (string, int, error) {
	ctx := r.ectx
	if ctx == nil {
		ctx = context.Background()
	}
	sub := r.fork()
	var buf bytes.Buffer
	sub.stdout = &buf
	c := sub.stmts(ctx, stmts)
	if c.kind == flowFatal && c.err != nil {
		return "", 0, c.err
	}
	return buf.String(), sub.status.Code, nil
}

// expandCfg builds the expansion configuration reflecting the current
// shell state. Built fresh per expansion so $?, $! and option changes
// are always current.
func (r *Runner) expandCfg() *expand.Config {
	return &expand.Config{
		Vars:       r.Vars,
		CmdSubst:   r.cmdSubst,
		Fs:         r.Fs,
		Dir:        r.Dir,
		NoUnset:    r.Opts.NoUnset,
		NoGlob:     r.Opts.NoGlob,
		FailGlob:   r.Opts.FailGlob,
		LastStatus: r.status.Code,
		Pid:        r.Pid,
		LastBgPid:  r.jobs.LastPid(),
		OptFlags:   r.Opts.Flags(),
	}
}

// expandFailure reports an expansion error. The failing command's
// status becomes 2; under errexit the whole script unwinds.
func (r *Runner) expandFailure(err error) control {
	r.diag(err)
	r.status = Exited(2)
	if r.Opts.ErrExit {
		return control{kind: flowExit}
	}
	return controlNormal
}

func (r *Runner) diag(err error) {
	fmt.Fprintf(r.stderr, "%s: %v\n", r.progName(), err)
}

func (r *Runner) progName() string {
	if r.Vars != nil && r.Vars.Name != "" {
		return r.Vars.Name
	}
	return "sh"
}
