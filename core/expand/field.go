package expand

import "strings"

// Rune is one character of an intermediate expansion result along with
// the attributes that decide its later treatment.
type Rune struct {
	R rune
	// Quoted characters are exempt from field splitting and are literal
	// in patterns. Tilde expansion results are pushed quoted for the same
	// reason.
	Quoted bool
	// Soft characters came from a parameter expansion, command
	// substitution, or arithmetic expansion and are the only ones subject
	// to field splitting.
	Soft bool
}

// Field is one intermediate expansion result: a string of attributed
// characters. After field splitting, pathname expansion, and quote
// removal it collapses to a plain string.
type Field struct {
	runes []Rune
	// keep marks a field that must survive even when empty, i.e. one that
	// contains a quoted (possibly empty) portion. This is what makes ""
	// produce one empty field while an unquoted unset $x produces none.
	keep bool
}

// String applies quote removal: the attribute markup is dropped and only
// the character values remain.
func (f Field) String() string {
	var b strings.Builder
	b.Grow(len(f.runes))
	for _, r := range f.runes {
		b.WriteRune(r.R)
	}
	return b.String()
}

// Empty reports whether the field has no characters and no quoted
// portion forcing it to survive.
func (f Field) Empty() bool {
	return len(f.runes) == 0 && !f.keep
}

func (f *Field) push(s string, quoted, soft bool) {
	if quoted {
		f.keep = true
	}
	for _, r := range s {
		f.runes = append(f.runes, Rune{R: r, Quoted: quoted, Soft: soft})
	}
}

// hasGlob reports whether any unquoted character is a pattern
// metacharacter, which is what makes a field eligible for pathname
// expansion.
func (f Field) hasGlob() bool {
	for _, r := range f.runes {
		if r.Quoted {
			continue
		}
		switch r.R {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// fieldBuilder accumulates the fields produced by the initial expansion
// of a single word. Most words build exactly one field; "$@" and field
// splitting are the sources of more.
type fieldBuilder struct {
	fields []Field
}

// current returns the field under construction, starting one if needed.
func (b *fieldBuilder) current() *Field {
	if len(b.fields) == 0 {
		b.fields = append(b.fields, Field{})
	}
	return &b.fields[len(b.fields)-1]
}

// push appends text to the current field. Pushing an empty unquoted
// string is a no-op and does not start a field.
func (b *fieldBuilder) push(s string, quoted, soft bool) {
	if s == "" && !quoted {
		return
	}
	b.current().push(s, quoted, soft)
}

// breakField ends the current field so the next push starts a new one.
// Used between the positional parameters of "$@".
func (b *fieldBuilder) breakField() {
	b.fields = append(b.fields, Field{})
}

// take returns the accumulated fields, dropping empty leftovers from
// trailing field breaks.
func (b *fieldBuilder) take() []Field {
	out := b.fields[:0]
	for _, f := range b.fields {
		if !f.Empty() {
			out = append(out, f)
		}
	}
	b.fields = nil
	return out
}
