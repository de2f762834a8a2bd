package expand

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/pattern"
)

// quotePatternRune escapes a rune so it matches itself in a shell
// pattern.
func quotePatternRune(r rune) string {
	return pattern.QuoteMeta(string(r), 0)
}

// component is one slash-delimited piece of a field being globbed.
type component struct {
	runes []Rune
}

func (c component) literal() string {
	var b strings.Builder
	for _, r := range c.runes {
		b.WriteRune(r.R)
	}
	return b.String()
}

func (c component) hasMeta() bool {
	for _, r := range c.runes {
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

// regexp translates the component into an anchored regular expression,
// escaping quoted characters.
func (c component) regexp() (*regexp.Regexp, error) {
	var pat strings.Builder
	for _, r := range c.runes {
		if r.Quoted {
			pat.WriteString(quotePatternRune(r.R))
		} else {
			pat.WriteRune(r.R)
		}
	}
	expr, err := pattern.Regexp(pat.String(), pattern.Filenames|pattern.EntireString)
	if err != nil {
		return nil, err
	}
	return regexp.Compile(expr)
}

// explicitDot reports whether the component names a leading dot
// literally, which is required to match hidden entries.
func (c component) explicitDot() bool {
	return len(c.runes) > 0 && c.runes[0].R == '.'
}

// globField replaces a field containing unquoted pattern metacharacters
// with the sorted list of matching pathnames. A field with no matches is
// returned unchanged, unless the fail-glob option converts that into an
// error.
func globField(cfg *Config, f Field) ([]string, error) {
	if cfg.NoGlob || cfg.Fs == nil || !f.hasGlob() {
		return []string{f.String()}, nil
	}

	comps := splitComponents(f)
	rooted := len(comps) > 0 && len(comps[0].runes) == 0

	// Candidate paths are grown component by component. The empty string
	// stands for the starting directory.
	candidates := []string{""}
	if rooted {
		candidates = []string{"/"}
		comps = comps[1:]
	}

	for _, c := range comps {
		if len(c.runes) == 0 {
			continue // collapse duplicate slashes
		}
		var next []string
		if !c.hasMeta() {
			lit := c.literal()
			for _, dir := range candidates {
				p := joinPath(dir, lit)
				if ok, err := exists(cfg, p); err == nil && ok {
					next = append(next, p)
				}
			}
		} else {
			re, err := c.regexp()
			if err != nil {
				return nil, &Error{Kind: BadSubstitution, Msg: err.Error()}
			}
			for _, dir := range candidates {
				names, err := readDirNames(cfg, dir)
				if err != nil {
					continue
				}
				sort.Strings(names)
				for _, name := range names {
					if strings.HasPrefix(name, ".") && !c.explicitDot() {
						continue
					}
					if re.MatchString(name) {
						next = append(next, joinPath(dir, name))
					}
				}
			}
		}
		candidates = next
		if len(candidates) == 0 {
			break
		}
	}

	if len(candidates) == 0 {
		if cfg.FailGlob {
			return nil, &Error{Kind: NoGlobMatch, Msg: f.String() + ": no matches found"}
		}
		return []string{f.String()}, nil
	}
	sort.Strings(candidates)
	return candidates, nil
}

// splitComponents cuts the field on slashes. Slashes are path
// separators no matter how they were quoted.
func splitComponents(f Field) []component {
	var comps []component
	cur := component{}
	for _, r := range f.runes {
		if r.R == '/' {
			comps = append(comps, cur)
			cur = component{}
			continue
		}
		cur.runes = append(cur.runes, r)
	}
	return append(comps, cur)
}

func joinPath(dir, name string) string {
	switch dir {
	case "":
		return name
	case "/":
		return "/" + name
	}
	return dir + "/" + name
}

func (cfg *Config) resolve(p string) string {
	if path.IsAbs(p) || cfg.Dir == "" {
		return p
	}
	return path.Join(cfg.Dir, p)
}

func exists(cfg *Config, p string) (bool, error) {
	_, err := cfg.Fs.Stat(cfg.resolve(p))
	if err != nil {
		return false, err
	}
	return true, nil
}

func readDirNames(cfg *Config, dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	f, err := cfg.Fs.Open(cfg.resolve(dir))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
