package interp

// Conventional exit statuses, matching POSIX.
const (
	// StatusExecFailure reports a command that was found but could not
	// be executed.
	StatusExecFailure = 126
	// StatusNotFound reports a command that could not be found.
	StatusNotFound = 127
	// statusSignalBase plus the signal number reports death by signal.
	statusSignalBase = 128
)

// Status is the exit status of one executable unit: a code in [0,255]
// plus a flag telling death-by-signal apart from a plain exit.
type Status struct {
	Code     int
	Signaled bool
}

// Ok reports success.
func (s Status) Ok() bool { return s.Code == 0 }

// Exited builds a plain exit status, clamping the code into [0,255] the
// way the wait interface does.
func Exited(code int) Status {
	return Status{Code: code & 0xff}
}

// KilledBy builds the status of a unit terminated by signal sig.
func KilledBy(sig int) Status {
	return Status{Code: statusSignalBase + sig, Signaled: true}
}

// negate implements the leading "!" of a pipeline: zero becomes one and
// every failure becomes success.
func (s Status) negate() Status {
	if s.Ok() {
		return Exited(1)
	}
	return Exited(0)
}

// flowKind tags the control-flow outcome of evaluating one AST node.
type flowKind uint8

const (
	// flowNormal continues sequential execution.
	flowNormal flowKind = iota
	// flowBreak unwinds n enclosing loops.
	flowBreak
	// flowContinue unwinds to the n-th enclosing loop and starts its
	// next iteration.
	flowContinue
	// flowReturn unwinds to the innermost function call.
	flowReturn
	// flowExit unwinds the whole execution context (shell or subshell).
	flowExit
	// flowFatal is an internal invariant violation or a handler's fatal
	// error; it aborts the whole invocation.
	flowFatal
)

// control is the propagated non-local-exit value threaded through every
// node evaluation. The zero value means "continue normally". The
// resulting status itself travels on the Runner.
type control struct {
	kind flowKind
	n    int   // remaining loop levels for break/continue
	err  error // only for flowFatal
}

var controlNormal = control{}

func breakLoops(n int) control    { return control{kind: flowBreak, n: n} }
func continueLoops(n int) control { return control{kind: flowContinue, n: n} }
func fatal(err error) control     { return control{kind: flowFatal, err: err} }
