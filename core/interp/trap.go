package interp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"mvdan.cc/sh/v3/syntax"
)

// signalNames maps trap condition names to signal numbers. EXIT is the
// pseudo-condition run when the shell itself terminates.
var signalNames = map[string]int{
	"HUP":  1,
	"INT":  2,
	"QUIT": 3,
	"ABRT": 6,
	"ALRM": 14,
	"TERM": 15,
	"USR1": 10,
	"USR2": 12,
	"EXIT": 0,
}

// terminationSignals unwind the interpreter when no trap is set.
var terminationSignals = map[string]bool{
	"HUP": true, "INT": true, "QUIT": true, "ABRT": true,
	"ALRM": true, "TERM": true,
}

func signalName(sig os.Signal) (string, bool) {
	switch sig {
	case syscall.SIGHUP:
		return "HUP", true
	case syscall.SIGINT:
		return "INT", true
	case syscall.SIGQUIT:
		return "QUIT", true
	case syscall.SIGABRT:
		return "ABRT", true
	case syscall.SIGALRM:
		return "ALRM", true
	case syscall.SIGTERM:
		return "TERM", true
	case syscall.SIGUSR1:
		return "USR1", true
	case syscall.SIGUSR2:
		return "USR2", true
	}
	return "", false
}

// SignalBridge carries asynchronous signals from an external watcher
// (typically os/signal in the CLI) into the interpreter, which consults
// it at its suspension points.
type SignalBridge struct {
	ch chan string
}

// NewSignalBridge returns a bridge with a small delivery buffer so that
// a burst of signals is not dropped while the interpreter runs a
// command.
func NewSignalBridge() *SignalBridge {
	return &SignalBridge{ch: make(chan string, 16)}
}

// Deliver queues an asynchronous signal. Unknown signals are ignored.
// Safe for concurrent use.
func (b *SignalBridge) Deliver(sig os.Signal) {
	name, ok := signalName(sig)
	if !ok {
		return
	}
	b.DeliverName(name)
}

// DeliverName queues a signal by its trap condition name.
func (b *SignalBridge) DeliverName(name string) {
	select {
	case b.ch <- name:
	default:
		// Bridge full; the pending signals already force a check.
	}
}

// pending exposes the delivery channel for select loops. A nil bridge
// yields a nil channel, which never fires.
func (b *SignalBridge) pending() <-chan string {
	if b == nil {
		return nil
	}
	return b.ch
}

// take returns one pending signal without blocking.
func (b *SignalBridge) take() (string, bool) {
	if b == nil {
		return "", false
	}
	select {
	case name := <-b.ch:
		return name, true
	default:
		return "", false
	}
}

// trapEntry is one configured trap action, parsed once when set.
type trapEntry struct {
	action string
	file   *syntax.File // nil means "ignore"
}

// setTrap configures the action for one condition. An empty action
// ignores the signal; a "-" action resets to the default disposition.
func (r *Runner) setTrap(cond, action string) error {
	cond = strings.ToUpper(strings.TrimPrefix(cond, "SIG"))
	if _, ok := signalNames[cond]; !ok {
		return fmt.Errorf("trap: %s: invalid signal specification", cond)
	}
	if action == "-" {
		delete(r.traps, cond)
		return nil
	}
	entry := trapEntry{action: action}
	if action != "" {
		file, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).
			Parse(strings.NewReader(action), cond+" trap")
		if err != nil {
			return fmt.Errorf("trap: %v", err)
		}
		entry.file = file
	}
	r.traps[cond] = entry
	return nil
}

// checkPending is the trap/signal checkpoint consulted before commands,
// while waiting on a foreground job, and after loop iterations.
func (r *Runner) checkPending(ctx context.Context) control {
	if r.handlingTrap {
		// Signals arriving during a trap action stay queued until the
		// action finishes; trap actions never nest.
		return controlNormal
	}
	for {
		name, ok := r.Signals.take()
		if !ok {
			return controlNormal
		}
		if c := r.handleSignal(ctx, name); c.kind != flowNormal {
			return c
		}
	}
}

func (r *Runner) handleSignal(ctx context.Context, name string) control {
	entry, trapped := r.traps[name]
	switch {
	case trapped && entry.file != nil:
		return r.runTrap(ctx, entry)
	case trapped:
		// Ignored signal.
		return controlNormal
	case terminationSignals[name]:
		r.status = KilledBy(signalNames[name])
		return control{kind: flowExit}
	}
	return controlNormal
}

// runTrap executes a trap action as a nested invocation. The action
// must not clobber the interrupted command's status.
func (r *Runner) runTrap(ctx context.Context, entry trapEntry) control {
	if r.handlingTrap {
		return controlNormal // no recursive traps
	}
	r.handlingTrap = true
	defer func() { r.handlingTrap = false }()

	oldStatus := r.status
	c := r.stmts(ctx, entry.file.Stmts)
	r.status = oldStatus
	switch c.kind {
	case flowExit, flowFatal:
		return c
	}
	return controlNormal
}

// runExitTrap runs the EXIT trap, if any, when the shell terminates.
func (r *Runner) runExitTrap(ctx context.Context) {
	if entry, ok := r.traps["EXIT"]; ok && entry.file != nil {
		r.runTrap(ctx, entry)
	}
}
