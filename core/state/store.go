// Package state holds the shell variable store: scoped variables with
// export/readonly/local attributes, positional parameters, and the
// fork-copy semantics subshells rely on.
package state

import (
	"fmt"
	"sort"
	"strings"
)

// ErrReadOnly is returned when assigning to a readonly variable.
var ErrReadOnly = fmt.Errorf("readonly variable")

// Variable is a single shell variable with its attributes.
type Variable struct {
	Value    string
	Exported bool
	ReadOnly bool
	// Local marks a variable created with "local"; it lives in the scope
	// that created it and vanishes when that scope is popped.
	Local bool
}

type scope struct {
	vars map[string]Variable
	// funcScope marks scopes pushed by function calls. Lookups traverse
	// them, but "local" only ever writes to the topmost one.
	funcScope bool
}

// Store is the process-wide shell variable state. It is owned by a single
// interpreter goroutine; forked copies (see Fork) are fully independent.
type Store struct {
	scopes []scope

	// Name is $0; Params are the positional parameters $1..$n.
	Name   string
	Params []string
}

// NewStore creates an empty store with a single global scope.
func NewStore() *Store {
	return &Store{scopes: []scope{{vars: make(map[string]Variable)}}}
}

// NewStoreFromEnviron seeds a store from "key=value" pairs as handed over
// by the external process environment. All seeded variables are exported.
func NewStoreFromEnviron(environ []string) *Store {
	s := NewStore()
	for _, e := range environ {
		key, value, _ := strings.Cut(e, "=")
		s.scopes[0].vars[key] = Variable{Value: value, Exported: true}
	}
	return s
}

// Lookup finds a variable, searching scopes innermost first.
func (s *Store) Lookup(name string) (Variable, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if vr, ok := s.scopes[i].vars[name]; ok {
			return vr, true
		}
	}
	return Variable{}, false
}

// Get returns the value of a variable, or "" if unset.
func (s *Store) Get(name string) string {
	vr, _ := s.Lookup(name)
	return vr.Value
}

// Set assigns name=value, keeping existing attributes. The assignment
// lands in the scope that already holds the variable, or the global scope
// for new variables.
func (s *Store) Set(name, value string) error {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if vr, ok := s.scopes[i].vars[name]; ok {
			if vr.ReadOnly {
				return fmt.Errorf("%s: %w", name, ErrReadOnly)
			}
			vr.Value = value
			s.scopes[i].vars[name] = vr
			return nil
		}
	}
	s.scopes[0].vars[name] = Variable{Value: value}
	return nil
}

// SetVar assigns a variable with explicit attributes, placing Local
// variables in the innermost function scope.
func (s *Store) SetVar(name string, vr Variable) error {
	if prev, ok := s.Lookup(name); ok && prev.ReadOnly && !vr.ReadOnly {
		return fmt.Errorf("%s: %w", name, ErrReadOnly)
	}
	if vr.Local {
		for i := len(s.scopes) - 1; i >= 0; i-- {
			if s.scopes[i].funcScope {
				s.scopes[i].vars[name] = vr
				return nil
			}
		}
		// No function scope; fall through to a plain global.
		vr.Local = false
	}
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if _, ok := s.scopes[i].vars[name]; ok {
			s.scopes[i].vars[name] = vr
			return nil
		}
	}
	s.scopes[0].vars[name] = vr
	return nil
}

// Export marks a variable as exported, creating it empty if needed.
func (s *Store) Export(name string) error {
	vr, ok := s.Lookup(name)
	if ok && vr.ReadOnly {
		// Exporting a readonly variable is fine; only the value is frozen.
		vr.Exported = true
		return s.setKeepReadOnly(name, vr)
	}
	vr.Exported = true
	return s.SetVar(name, vr)
}

func (s *Store) setKeepReadOnly(name string, vr Variable) error {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if _, ok := s.scopes[i].vars[name]; ok {
			s.scopes[i].vars[name] = vr
			return nil
		}
	}
	s.scopes[0].vars[name] = vr
	return nil
}

// MarkReadOnly freezes a variable's value.
func (s *Store) MarkReadOnly(name string) {
	vr, _ := s.Lookup(name)
	vr.ReadOnly = true
	_ = s.setKeepReadOnly(name, vr)
}

// Unset removes a variable from every scope it appears in.
func (s *Store) Unset(name string) error {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if vr, ok := s.scopes[i].vars[name]; ok {
			if vr.ReadOnly {
				return fmt.Errorf("%s: %w", name, ErrReadOnly)
			}
			delete(s.scopes[i].vars, name)
		}
	}
	return nil
}

// Environ returns the exported variables as "key=value" pairs, suitable
// for handing to a spawned child verbatim.
func (s *Store) Environ() []string {
	seen := make(map[string]bool)
	var env []string
	for i := len(s.scopes) - 1; i >= 0; i-- {
		for k, vr := range s.scopes[i].vars {
			if seen[k] {
				continue
			}
			seen[k] = true
			if vr.Exported {
				env = append(env, fmt.Sprintf("%s=%s", k, vr.Value))
			}
		}
	}
	return env
}

// Names returns the names of all visible variables, sorted.
func (s *Store) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for i := len(s.scopes) - 1; i >= 0; i-- {
		for k := range s.scopes[i].vars {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// PushFuncScope begins a function-local scope.
func (s *Store) PushFuncScope() {
	s.scopes = append(s.scopes, scope{vars: make(map[string]Variable), funcScope: true})
}

// PopScope discards the innermost scope. Popping the global scope is an
// interpreter bug.
func (s *Store) PopScope() {
	if len(s.scopes) <= 1 {
		panic("state: popped the global scope")
	}
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// Fork returns a deep copy of the store for a subshell. Mutations on the
// copy are never visible to the parent.
func (s *Store) Fork() *Store {
	out := &Store{
		Name:   s.Name,
		Params: append([]string(nil), s.Params...),
		scopes: make([]scope, len(s.scopes)),
	}
	for i, sc := range s.scopes {
		vars := make(map[string]Variable, len(sc.vars))
		for k, v := range sc.vars {
			vars[k] = v
		}
		out.scopes[i] = scope{vars: vars, funcScope: sc.funcScope}
	}
	return out
}
