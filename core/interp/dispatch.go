package interp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"mvdan.cc/sh/v3/syntax"

	"posh/core/expand"
	"posh/core/state"
)

// call runs one simple command: expand assignments and arguments, then
// dispatch in POSIX resolution order (special builtins, functions,
// regular builtins, external utilities).
func (r *Runner) call(ctx context.Context, ce *syntax.CallExpr) control {
	r.ectx = ctx
	cfg := r.expandCfg()
	fields, err := expand.Fields(cfg, ce.Args...)
	if err != nil {
		return r.expandFailure(err)
	}

	assigns, err := r.expandAssigns(cfg, ce.Assigns)
	if err != nil {
		return r.expandFailure(err)
	}

	if len(fields) == 0 {
		// Assignments only: they persist, and the status comes from
		// the last command substitution run during expansion.
		for _, as := range assigns {
			if err := r.Vars.Set(as.name, as.value); err != nil {
				r.diag(fmt.Errorf("%s: %w", as.name, err))
				r.status = Exited(1)
				return controlNormal
			}
		}
		r.status = Exited(cfg.LastSubstStatus)
		return controlNormal
	}

	name, args := fields[0], fields[1:]

	if bi, ok := r.lookupBuiltin(name); ok && bi.Special {
		// Assignments preceding a special builtin persist.
		for _, as := range assigns {
			if err := r.Vars.Set(as.name, as.value); err != nil {
				r.diag(fmt.Errorf("%s: %w", as.name, err))
				r.status = Exited(1)
				return controlNormal
			}
		}
		return bi.Run(ctx, r, args)
	}

	if body, ok := r.Funcs[name]; ok {
		return r.callFunction(ctx, body, assigns, args)
	}

	if bi, ok := r.lookupBuiltin(name); ok {
		restore := r.applyTempAssigns(assigns)
		defer restore()
		return bi.Run(ctx, r, args)
	}

	return r.external(ctx, name, args, assigns)
}

type assign struct {
	name  string
	value string
}

func (r *Runner) expandAssigns(cfg *expand.Config, list []*syntax.Assign) ([]assign, error) {
	var out []assign
	for _, as := range list {
		val, err := expand.Literal(cfg, as.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, assign{name: as.Name.Value, value: val})
	}
	return out, nil
}

// applyTempAssigns installs command-scoped assignments and returns the
// undo function. Previous values, including absence, are restored.
func (r *Runner) applyTempAssigns(assigns []assign) func() {
	type saved struct {
		name    string
		vr      state.Variable
		existed bool
	}
	var prev []saved
	for _, as := range assigns {
		vr, ok := r.Vars.Lookup(as.name)
		prev = append(prev, saved{name: as.name, vr: vr, existed: ok})
		nv := vr
		nv.Value = as.value
		nv.Exported = true
		if err := r.Vars.SetVar(as.name, nv); err != nil {
			r.diag(fmt.Errorf("%s: %v", as.name, err))
		}
	}
	return func() {
		for i := len(prev) - 1; i >= 0; i-- {
			p := prev[i]
			if p.existed {
				r.Vars.SetVar(p.name, p.vr)
			} else {
				r.Vars.Unset(p.name)
			}
		}
	}
}

// callFunction runs a shell function body with fresh positional
// parameters and a new local-variable scope. The scope pops on every
// exit path; Return becomes an ordinary status for the caller.
func (r *Runner) callFunction(ctx context.Context, body *syntax.Stmt, assigns []assign, args []string) control {
	restoreVars := r.applyTempAssigns(assigns)
	oldParams := r.Vars.Params
	r.Vars.Params = args
	r.Vars.PushFuncScope()
	r.funcDepth++

	c := r.stmt(ctx, body)

	r.funcDepth--
	r.Vars.PopScope()
	r.Vars.Params = oldParams
	restoreVars()

	if c.kind == flowReturn {
		return controlNormal
	}
	return c
}

func (r *Runner) lookupBuiltin(name string) (*Builtin, bool) {
	if r.Lookup != nil {
		return r.Lookup(name)
	}
	return defaultBuiltin(name)
}

// external resolves and spawns an external utility: 127 when not
// found, 126 when found but not executable or failing to start.
func (r *Runner) external(ctx context.Context, name string, args []string, assigns []assign) control {
	path, err := LookPath(r.Fs, r.Vars.Get("PATH"), r.Dir, name)
	switch {
	case errors.Is(err, ErrNotFound):
		r.diag(fmt.Errorf("%s: command not found", name))
		r.status = Exited(StatusNotFound)
		return controlNormal
	case errors.Is(err, fs.ErrPermission):
		r.diag(fmt.Errorf("%s: permission denied", name))
		r.status = Exited(StatusExecFailure)
		return controlNormal
	case err != nil:
		r.diag(fmt.Errorf("%s: %v", name, err))
		r.status = Exited(StatusExecFailure)
		return controlNormal
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Dir, path)
	}

	// Assignments are exported into the child's environment only.
	env := r.Vars.Environ()
	for _, as := range assigns {
		env = append(env, as.name+"="+as.value)
	}

	proc, err := r.Spawn.Spawn(ctx, &Cmd{
		Path:   path,
		Argv:   append([]string{name}, args...),
		Env:    env,
		Dir:    r.Dir,
		Stdin:  r.stdin,
		Stdout: r.stdout,
		Stderr: r.stderr,
	})
	if err != nil {
		r.diag(fmt.Errorf("%s: %v", name, err))
		r.status = Exited(StatusExecFailure)
		return controlNormal
	}
	st, pending := r.waitForeground(ctx, proc)
	r.status = st
	return pending
}

// waitForeground waits for a spawned unit while keeping the trap
// checkpoint live: pending signals are handled as they arrive, and any
// resulting unwind is delivered after the unit finishes.
func (r *Runner) waitForeground(ctx context.Context, p Process) (Status, control) {
	done := make(chan Status, 1)
	go func() { done <- p.Wait() }()
	pending := controlNormal
	for {
		select {
		case st := <-done:
			return st, pending
		case name := <-r.Signals.pending():
			if c := r.handleSignal(ctx, name); c.kind != flowNormal && pending.kind == flowNormal {
				pending = c
			}
		}
	}
}

// declClause handles export/readonly/local used in declaration
// position.
func (r *Runner) declClause(ctx context.Context, dc *syntax.DeclClause) control {
	cfg := r.expandCfg()
	variant := dc.Variant.Value
	for _, as := range dc.Args {
		name := as.Name.Value
		var value *string
		if as.Value != nil {
			v, err := expand.Literal(cfg, as.Value)
			if err != nil {
				return r.expandFailure(err)
			}
			value = &v
		}
		if err := r.declare(variant, name, value); err != nil {
			r.diag(fmt.Errorf("%s: %s: %v", variant, name, err))
			r.status = Exited(1)
			return controlNormal
		}
	}
	r.status = Exited(0)
	return controlNormal
}

// declare applies one export/readonly/local declaration to the store.
func (r *Runner) declare(variant, name string, value *string) error {
	switch variant {
	case "export":
		if value != nil {
			if err := r.Vars.Set(name, *value); err != nil {
				return err
			}
		}
		return r.Vars.Export(name)
	case "readonly":
		if value != nil {
			if err := r.Vars.Set(name, *value); err != nil {
				return err
			}
		}
		r.Vars.MarkReadOnly(name)
		return nil
	case "local":
		if r.funcDepth == 0 {
			return errors.New("can only be used in a function")
		}
		vr := state.Variable{Local: true}
		if value != nil {
			vr.Value = *value
		}
		return r.Vars.SetVar(name, vr)
	default:
		return fmt.Errorf("unsupported declaration %q", variant)
	}
}
