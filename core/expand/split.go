package expand

import "strings"

func isIFSWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n'
}

// splitField performs field splitting on one intermediate field. Only
// unquoted characters that came from an expansion are delimiter
// candidates. An empty field with no quoted portion vanishes entirely.
func splitField(f Field, ifs string) []Field {
	if len(f.runes) == 0 {
		if f.keep {
			return []Field{f}
		}
		return nil
	}
	if ifs == "" {
		return []Field{f}
	}

	var out []Field
	var cur Field
	started := false
	emit := func(keepEmpty bool) {
		if keepEmpty {
			cur.keep = true
		}
		out = append(out, cur)
		cur = Field{}
		started = false
	}
	// afterField is set while consuming the whitespace run right after a
	// field; one non-whitespace IFS character may merge into that run
	// without producing an empty field.
	afterField := false

	for _, r := range f.runes {
		delim := !r.Quoted && r.Soft && strings.ContainsRune(ifs, r.R)
		switch {
		case !delim:
			cur.runes = append(cur.runes, r)
			if r.Quoted {
				cur.keep = true
			}
			started = true
			afterField = false
		case isIFSWhitespace(r.R):
			if started {
				emit(false)
				afterField = true
			}
		default: // non-whitespace IFS delimiter
			switch {
			case started:
				emit(false)
			case afterField:
				// Merges with the preceding whitespace run.
				afterField = false
			default:
				// Adjacent (or leading) separators delimit an empty
				// field that must survive.
				emit(true)
			}
		}
	}
	if started || cur.keep {
		emit(false)
	}
	return out
}
