package expand

import "fmt"

// ErrorKind classifies expansion failures.
type ErrorKind int

const (
	// BadSubstitution covers malformed or unsupported ${...} forms.
	BadSubstitution ErrorKind = iota
	// UnsetParameter is an unset variable under "set -u" or a failed
	// ${x:?} check.
	UnsetParameter
	// CmdSubstFailure is a command substitution that could not run.
	CmdSubstFailure
	// ArithmeticError covers bad operands and division by zero.
	ArithmeticError
	// NoGlobMatch is a glob with no matches under the fail-glob option.
	NoGlobMatch
	// AssignmentError is a failed ${x:=} style assignment, e.g. against
	// a readonly variable.
	AssignmentError
)

func (k ErrorKind) String() string {
	switch k {
	case BadSubstitution:
		return "bad substitution"
	case UnsetParameter:
		return "parameter not set"
	case CmdSubstFailure:
		return "command substitution failed"
	case ArithmeticError:
		return "arithmetic error"
	case NoGlobMatch:
		return "no matches found"
	case AssignmentError:
		return "assignment failed"
	}
	return "expansion error"
}

// Error is the failure type for every expansion operation.
type Error struct {
	Kind ErrorKind
	// Name is the parameter the error refers to, when there is one.
	Name string
	Msg  string
}

func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Name, e.Msg)
	case e.Name != "":
		return fmt.Sprintf("%s: %s", e.Name, e.Kind)
	case e.Msg != "":
		return e.Msg
	}
	return e.Kind.String()
}
