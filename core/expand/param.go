package expand

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"
)

// paramExp evaluates one ${...} or $x reference and pushes its fields.
func (x *expander) paramExp(pe *syntax.ParamExp, quoted bool) error {
	cfg := x.cfg
	name := pe.Param.Value

	if pe.Excl || pe.Index != nil || pe.Slice != nil || pe.Repl != nil || pe.Names != 0 {
		return &Error{Kind: BadSubstitution, Name: name, Msg: "unsupported substitution form"}
	}

	// ${#x} and ${#@}.
	if pe.Length {
		switch name {
		case "@", "*":
			x.b.push(strconv.Itoa(len(cfg.Vars.Params)), quoted, true)
		default:
			val, _, err := cfg.lookupParam(name)
			if err != nil {
				return err
			}
			x.b.push(strconv.Itoa(len([]rune(val))), quoted, true)
		}
		return nil
	}

	if name == "@" || name == "*" {
		return x.pushPositionals(name, quoted)
	}

	val, set, err := cfg.lookupParam(name)
	if err != nil {
		return err
	}

	if pe.Exp != nil {
		return x.paramExpOp(pe, name, val, set, quoted)
	}

	if !set && cfg.NoUnset {
		return &Error{Kind: UnsetParameter, Name: name}
	}
	x.b.push(val, quoted, true)
	return nil
}

// pushPositionals expands $@, $*, "$@" and "$*".
func (x *expander) pushPositionals(name string, quoted bool) error {
	params := x.cfg.Vars.Params
	if quoted && name == "*" {
		x.b.push(strings.Join(params, x.cfg.starSeparator()), true, true)
		return nil
	}
	// Unquoted $@ and $* behave alike; "$@" keeps each parameter one
	// field. Either way each parameter lands in its own intermediate
	// field: unquoted ones are further split, quoted ones are not.
	for i, p := range params {
		if i > 0 {
			x.b.breakField()
		}
		x.b.push(p, quoted, true)
	}
	return nil
}

// starSeparator is the join separator of "$*": the first IFS character,
// a space when IFS is unset, nothing when IFS is null.
func (cfg *Config) starSeparator() string {
	ifs, set := cfg.ifs()
	if !set {
		return " "
	}
	if ifs == "" {
		return ""
	}
	return string([]rune(ifs)[0])
}

// lookupParam resolves a parameter name, including the special and
// positional parameters.
func (cfg *Config) lookupParam(name string) (val string, set bool, err error) {
	switch name {
	case "?":
		return strconv.Itoa(cfg.LastStatus), true, nil
	case "#":
		return strconv.Itoa(len(cfg.Vars.Params)), true, nil
	case "$":
		return strconv.Itoa(cfg.Pid), true, nil
	case "!":
		if cfg.LastBgPid == 0 {
			return "", false, nil
		}
		return strconv.Itoa(cfg.LastBgPid), true, nil
	case "-":
		return cfg.OptFlags, true, nil
	case "0":
		return cfg.Vars.Name, true, nil
	}
	if n, numErr := strconv.Atoi(name); numErr == nil && n > 0 {
		if n <= len(cfg.Vars.Params) {
			return cfg.Vars.Params[n-1], true, nil
		}
		return "", false, nil
	}
	if !syntax.ValidName(name) {
		return "", false, &Error{Kind: BadSubstitution, Name: name, Msg: "invalid parameter name"}
	}
	vr, ok := cfg.Vars.Lookup(name)
	return vr.Value, ok, nil
}

// paramExpOp applies a ${x<op>word} operator.
func (x *expander) paramExpOp(pe *syntax.ParamExp, name, val string, set, quoted bool) error {
	cfg := x.cfg
	op := pe.Exp.Op
	word := pe.Exp.Word

	// The ":" variants treat a set-but-null value like unset.
	useWord := false
	switch op {
	case syntax.DefaultUnset, syntax.AssignUnset, syntax.ErrorUnset:
		useWord = !set
	case syntax.DefaultUnsetOrNull, syntax.AssignUnsetOrNull, syntax.ErrorUnsetOrNull:
		useWord = !set || val == ""
	case syntax.AlternateUnset:
		useWord = set
	case syntax.AlternateUnsetOrNull:
		useWord = set && val != ""
	}

	switch op {
	case syntax.DefaultUnset, syntax.DefaultUnsetOrNull:
		if useWord {
			return x.word(word, quoted)
		}
	case syntax.AlternateUnset, syntax.AlternateUnsetOrNull:
		if useWord {
			return x.word(word, quoted)
		}
		return nil
	case syntax.AssignUnset, syntax.AssignUnsetOrNull:
		if useWord {
			if !syntax.ValidName(name) {
				return &Error{Kind: BadSubstitution, Name: name, Msg: "cannot assign in this context"}
			}
			assigned, err := Literal(cfg, word)
			if err != nil {
				return err
			}
			if err := cfg.Vars.Set(name, assigned); err != nil {
				return &Error{Kind: AssignmentError, Name: name, Msg: err.Error()}
			}
			val = assigned
		}
	case syntax.ErrorUnset, syntax.ErrorUnsetOrNull:
		if useWord {
			msg, err := Literal(cfg, word)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "parameter null or not set"
			}
			return &Error{Kind: UnsetParameter, Name: name, Msg: msg}
		}
	case syntax.RemSmallPrefix, syntax.RemLargePrefix, syntax.RemSmallSuffix, syntax.RemLargeSuffix:
		pat, err := Pattern(cfg, word)
		if err != nil {
			return err
		}
		val, err = trimPattern(val, pat, op)
		if err != nil {
			return err
		}
	default:
		return &Error{Kind: BadSubstitution, Name: name, Msg: fmt.Sprintf("unsupported operator %s", op)}
	}

	if !set && cfg.NoUnset {
		switch op {
		case syntax.AssignUnset, syntax.AssignUnsetOrNull:
			// The assignment gave the parameter a value.
		default:
			return &Error{Kind: UnsetParameter, Name: name}
		}
	}
	x.b.push(val, quoted, true)
	return nil
}

// trimPattern implements the ${x#pat} family by scanning prefix or
// suffix cut points against an anchored pattern match.
func trimPattern(val, pat string, op syntax.ParExpOperator) (string, error) {
	if pat == "" {
		return val, nil
	}
	expr, err := pattern.Regexp(pat, pattern.Filenames|pattern.EntireString)
	if err != nil {
		return "", &Error{Kind: BadSubstitution, Msg: fmt.Sprintf("bad pattern %q", pat)}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return "", &Error{Kind: BadSubstitution, Msg: fmt.Sprintf("bad pattern %q", pat)}
	}

	runes := []rune(val)
	switch op {
	case syntax.RemSmallPrefix:
		for i := 0; i <= len(runes); i++ {
			if re.MatchString(string(runes[:i])) {
				return string(runes[i:]), nil
			}
		}
	case syntax.RemLargePrefix:
		for i := len(runes); i >= 0; i-- {
			if re.MatchString(string(runes[:i])) {
				return string(runes[i:]), nil
			}
		}
	case syntax.RemSmallSuffix:
		for i := len(runes); i >= 0; i-- {
			if re.MatchString(string(runes[i:])) {
				return string(runes[:i]), nil
			}
		}
	case syntax.RemLargeSuffix:
		for i := 0; i <= len(runes); i++ {
			if re.MatchString(string(runes[i:])) {
				return string(runes[:i]), nil
			}
		}
	}
	return val, nil
}
