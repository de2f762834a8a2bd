// Package expand implements POSIX word expansion: tilde expansion,
// parameter expansion, command substitution, arithmetic expansion, field
// splitting, pathname expansion, and quote removal, in that order.
//
// The package deliberately knows nothing about command execution. Command
// substitution goes through the narrow CommandSubstituter capability so
// that the interpreter and the expander stay separate components.
package expand

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/syntax"

	"posh/core/config"
	"posh/core/state"
)

// CommandSubstituter runs the statements of a $(...) substitution and
// returns the captured standard output together with the exit status of
// the last command.
type CommandSubstituter func(stmts []*syntax.Stmt) (string, int, error)

// Config carries the execution state the expansion depends on. It is
// owned and mutated by a single interpreter; expansions never run
// concurrently against one Config.
type Config struct {
	// Vars is the variable store; positional parameters and $0 are read
	// from it as well.
	Vars *state.Store

	// CmdSubst is consulted for $(...) words. When nil, command
	// substitution fails with a CmdSubstFailure error.
	CmdSubst CommandSubstituter

	// Fs and Dir drive pathname expansion. A nil Fs disables globbing.
	Fs  afero.Fs
	Dir string

	// HomeDir resolves ~user prefixes. When nil, only a bare ~ expands
	// (to $HOME).
	HomeDir func(user string) (string, bool)

	NoUnset  bool
	NoGlob   bool
	FailGlob bool

	// Special parameter inputs.
	LastStatus int // $?
	Pid        int // $$
	LastBgPid  int // $!
	OptFlags   string

	// LastSubstStatus records the status of the most recent command
	// substitution, which becomes the command status when a simple
	// command expands to assignments only.
	LastSubstStatus int
}

func (cfg *Config) ifs() (string, bool) {
	if cfg.Vars != nil {
		if vr, ok := cfg.Vars.Lookup("IFS"); ok {
			return vr.Value, true
		}
	}
	return config.DefaultIFS, false
}

// Fields expands words to final argument fields, running the full
// pipeline: tilde and initial expansion, field splitting, pathname
// expansion, and quote removal.
func Fields(cfg *Config, words ...*syntax.Word) ([]string, error) {
	ifs, _ := cfg.ifs()
	var out []string
	for _, w := range words {
		x := expander{cfg: cfg}
		if err := x.word(w, false); err != nil {
			return nil, err
		}
		for _, f := range x.b.take() {
			for _, sub := range splitField(f, ifs) {
				globbed, err := globField(cfg, sub)
				if err != nil {
					return nil, err
				}
				out = append(out, globbed...)
			}
		}
	}
	return out, nil
}

// Literal expands one word to a single string with no field splitting
// and no pathname expansion, as used for assignment values and case
// selector words. "$@" degrades to the fields joined on spaces.
func Literal(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	x := expander{cfg: cfg}
	if err := x.word(word, false); err != nil {
		return "", err
	}
	return joinFields(x.b.take(), " "), nil
}

// Document expands a here-document body: parameter, command, and
// arithmetic expansions are performed but no tilde expansion, splitting,
// globbing, or quote interpretation.
func Document(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	x := expander{cfg: cfg, noTilde: true}
	if err := x.parts(word.Parts, true); err != nil {
		return "", err
	}
	return joinFields(x.b.take(), " "), nil
}

// Pattern expands one word to a matching pattern. Characters that were
// quoted in the source are escaped so they only match themselves.
func Pattern(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	x := expander{cfg: cfg}
	if err := x.word(word, false); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, f := range x.b.take() {
		for _, r := range f.runes {
			if r.Quoted {
				b.WriteString(quotePatternRune(r.R))
			} else {
				b.WriteRune(r.R)
			}
		}
	}
	return b.String(), nil
}

func joinFields(fields []Field, sep string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, sep)
}

// expander walks the parts of one word and accumulates fields.
type expander struct {
	cfg *Config
	b   fieldBuilder

	noTilde bool
}

func (x *expander) word(w *syntax.Word, quoted bool) error {
	if w == nil {
		return nil
	}
	parts := w.Parts
	if !x.noTilde && !quoted {
		var err error
		parts, err = x.tilde(parts)
		if err != nil {
			return err
		}
	}
	return x.parts(parts, quoted)
}

func (x *expander) parts(parts []syntax.WordPart, quoted bool) error {
	for _, p := range parts {
		if err := x.part(p, quoted); err != nil {
			return err
		}
	}
	return nil
}

func (x *expander) part(p syntax.WordPart, quoted bool) error {
	switch p := p.(type) {
	case *syntax.Lit:
		x.b.push(p.Value, quoted, false)
	case *syntax.SglQuoted:
		val := p.Value
		if p.Dollar {
			val = unescapeDollarQuotes(val)
		}
		x.b.push(val, true, false)
	case *syntax.DblQuoted:
		if len(p.Parts) == 0 {
			// "" carries no parts but still produces one empty field.
			x.b.push("", true, false)
			return nil
		}
		return x.parts(p.Parts, true)
	case *syntax.ParamExp:
		return x.paramExp(p, quoted)
	case *syntax.CmdSubst:
		out, err := x.cmdSubst(p)
		if err != nil {
			return err
		}
		x.b.push(out, quoted, true)
	case *syntax.ArithmExp:
		n, err := Arithm(x.cfg, p.X)
		if err != nil {
			return err
		}
		x.b.push(fmt.Sprintf("%d", n), quoted, true)
	default:
		return &Error{Kind: BadSubstitution, Msg: fmt.Sprintf("unsupported word part %T", p)}
	}
	return nil
}

func (x *expander) cmdSubst(cs *syntax.CmdSubst) (string, error) {
	if x.cfg.CmdSubst == nil {
		return "", &Error{Kind: CmdSubstFailure, Msg: "command substitution is not available here"}
	}
	out, status, err := x.cfg.CmdSubst(cs.Stmts)
	if err != nil {
		return "", &Error{Kind: CmdSubstFailure, Msg: err.Error()}
	}
	x.cfg.LastSubstStatus = status
	return strings.TrimRight(out, "\n"), nil
}

// tilde performs tilde expansion on a leading unquoted ~ and returns the
// parts still left to expand.
func (x *expander) tilde(parts []syntax.WordPart) ([]syntax.WordPart, error) {
	if len(parts) == 0 {
		return parts, nil
	}
	lit, ok := parts[0].(*syntax.Lit)
	if !ok || !strings.HasPrefix(lit.Value, "~") {
		return parts, nil
	}
	prefix := lit.Value
	rest := ""
	if i := strings.IndexByte(prefix, '/'); i >= 0 {
		prefix, rest = prefix[:i], prefix[i:]
	} else if len(parts) > 1 {
		// A prefix like ~user"x" is not delimited by a slash, so no
		// tilde expansion applies.
		return parts, nil
	}

	var home string
	if prefix == "~" {
		vr, ok := x.cfg.Vars.Lookup("HOME")
		if !ok {
			return parts, nil
		}
		home = vr.Value
	} else {
		if x.cfg.HomeDir == nil {
			return parts, nil
		}
		dir, ok := x.cfg.HomeDir(prefix[1:])
		if !ok {
			return parts, nil
		}
		home = dir
	}

	// The result is unsplittable and literal in patterns.
	x.b.push(home, true, false)
	out := make([]syntax.WordPart, 0, len(parts))
	if rest != "" {
		out = append(out, &syntax.Lit{Value: rest})
	}
	return append(out, parts[1:]...), nil
}

// unescapeDollarQuotes handles the common $'...' escapes.
func unescapeDollarQuotes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '0':
			b.WriteByte(0)
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
