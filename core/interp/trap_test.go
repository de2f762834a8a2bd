package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUntrappedTerminationSignal(t *testing.T) {
	r, out, _ := newTestRunner()
	r.Signals.DeliverName("TERM")
	st := r.Run(context.Background(), parseScript(t, `echo never`))
	assert.Equal(t, "", out.String())
	assert.Equal(t, 128+15, st.Code)
	assert.True(t, st.Signaled)
}

func TestIgnoredSignal(t *testing.T) {
	r, out, _ := newTestRunner()
	r.Run(context.Background(), parseScript(t, `trap '' TERM`))

	r.Signals.DeliverName("TERM")
	out.Reset()
	st := r.Run(context.Background(), parseScript(t, `echo ok`))
	assert.Equal(t, "ok\n", out.String())
	assert.Equal(t, 0, st.Code)
}

func TestTrapActionRuns(t *testing.T) {
	r, out, _ := newTestRunner()
	r.Run(context.Background(), parseScript(t, `trap 'echo got' USR1`))

	r.Signals.DeliverName("USR1")
	out.Reset()
	st := r.Run(context.Background(), parseScript(t, `echo cmd`))
	assert.Equal(t, "got\ncmd\n", out.String(), "trap action runs at the pre-command checkpoint")
	assert.Equal(t, 0, st.Code)
}

func TestSignalDuringTrapStaysQueued(t *testing.T) {
	r, out, _ := newTestRunner()
	r.Run(context.Background(), parseScript(t, `trap 'echo got' USR1`))

	// The second delivery is consulted only once the first trap body has
	// finished; it must not be swallowed by the no-nesting rule.
	r.Signals.DeliverName("USR1")
	r.Signals.DeliverName("USR1")
	out.Reset()
	st := r.Run(context.Background(), parseScript(t, `echo cmd`))
	assert.Equal(t, "got\ngot\ncmd\n", out.String())
	assert.Equal(t, 0, st.Code)
}

func TestTrapPreservesStatus(t *testing.T) {
	r, out, _ := newTestRunner()
	r.Run(context.Background(), parseScript(t, `trap 'true' USR1; false`))

	r.Signals.DeliverName("USR1")
	out.Reset()
	r.Run(context.Background(), parseScript(t, `echo $?`))
	assert.Equal(t, "1\n", out.String(), "the trap body must not clobber $?")
}

func TestTrapReset(t *testing.T) {
	r, out, _ := newTestRunner()
	r.Run(context.Background(), parseScript(t, `trap 'echo got' TERM; trap - TERM`))

	r.Signals.DeliverName("TERM")
	out.Reset()
	st := r.Run(context.Background(), parseScript(t, `echo never`))
	assert.Equal(t, "", out.String(), "reset restores the default disposition")
	assert.Equal(t, 128+15, st.Code)
}

func TestExitTrap(t *testing.T) {
	res := runScript(t, `trap 'echo bye' EXIT; echo hi`)
	assert.Equal(t, "hi\nbye\n", res.stdout)
	assert.Equal(t, 0, res.status.Code)
}

func TestExitTrapRunsOnExit(t *testing.T) {
	res := runScript(t, `trap 'echo bye' EXIT; exit 3; echo never`)
	assert.Equal(t, "bye\n", res.stdout)
	assert.Equal(t, 3, res.status.Code)
}

func TestTrapListing(t *testing.T) {
	res := runScript(t, `trap 'echo x' INT; trap`)
	assert.Contains(t, res.stdout, "INT")
	assert.Contains(t, res.stdout, "echo x")
}

func TestTrapInvalidCondition(t *testing.T) {
	res := runScript(t, `trap 'echo x' NOSUCHSIG; echo $?`)
	assert.Equal(t, "1\n", res.stdout)
	assert.Contains(t, res.stderr, "invalid signal")
}

func TestLoopIterationCheckpoint(t *testing.T) {
	r, out, _ := newTestRunner()
	r.Run(context.Background(), parseScript(t, `trap 'echo tick' USR1`))

	// Delivered mid-loop the signal is noticed between iterations.
	r.Signals.DeliverName("USR1")
	out.Reset()
	r.Run(context.Background(), parseScript(t, `for i in 1 2; do :; done; echo done`))
	assert.Contains(t, out.String(), "tick")
	assert.Contains(t, out.String(), "done")
}
