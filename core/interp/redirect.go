package interp

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"posh/core/expand"
)

// RedirectError reports a redirection that could not be resolved or
// applied. The affected command fails; the script continues.
type RedirectError struct {
	Op  string
	Msg string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect %s: %s", e.Op, e.Msg)
}

// savedIO remembers the runner's streams so redirections can be fully
// restored around builtins and functions.
type savedIO struct {
	in       io.Reader
	out, err io.Writer
}

// applyRedirects resolves and applies a statement's redirections left
// to right. The returned restore function is non-nil whenever any
// stream may have been touched and must run after the command; it also
// closes files opened here.
func (r *Runner) applyRedirects(ctx context.Context, redirs []*syntax.Redirect) (func(), error) {
	if len(redirs) == 0 {
		return nil, nil
	}
	saved := savedIO{in: r.stdin, out: r.stdout, err: r.stderr}
	var opened []io.Closer
	restore := func() {
		for _, c := range opened {
			c.Close()
		}
		r.stdin, r.stdout, r.stderr = saved.in, saved.out, saved.err
	}
	for _, rd := range redirs {
		cls, err := r.redirect(ctx, rd)
		if cls != nil {
			opened = append(opened, cls)
		}
		if err != nil {
			return restore, err
		}
	}
	return restore, nil
}

// redirect applies one redirection, returning a closer for any file it
// opened.
func (r *Runner) redirect(ctx context.Context, rd *syntax.Redirect) (io.Closer, error) {
	if rd.Hdoc != nil {
		body, err := r.heredocBody(rd)
		if err != nil {
			return nil, err
		}
		r.stdin = strings.NewReader(body)
		return nil, nil
	}

	fd, err := redirectFd(rd)
	if err != nil {
		return nil, err
	}
	target, err := r.redirectTarget(rd)
	if err != nil {
		return nil, err
	}

	switch rd.Op {
	case syntax.WordHdoc:
		r.stdin = strings.NewReader(target + "\n")
		return nil, nil
	case syntax.DplIn:
		return nil, r.dupIn(fd, target)
	case syntax.DplOut:
		return nil, r.dupOut(fd, target)
	}

	if target == "" {
		return nil, &RedirectError{Op: rd.Op.String(), Msg: fmt.Sprintf("%s: %v", target, fs.ErrNotExist)}
	}
	path := target
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Dir, path)
	}
	var flag int
	switch rd.Op {
	case syntax.RdrIn:
		flag = os.O_RDONLY
	case syntax.RdrOut, syntax.ClbOut:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case syntax.AppOut:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case syntax.RdrInOut:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, &RedirectError{Op: rd.Op.String(), Msg: "unsupported redirection operator"}
	}
	f, err := r.Fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, &RedirectError{Op: rd.Op.String(), Msg: fmt.Sprintf("%s: %v", target, err)}
	}
	switch {
	case rd.Op == syntax.RdrIn:
		r.stdin = f
	case rd.Op == syntax.RdrInOut && fd == 0:
		r.stdin = f
	case fd == 2:
		r.stderr = f
	default:
		r.stdout = f
	}
	return f, nil
}

// redirectFd resolves the file descriptor a redirection applies to,
// defaulting to 0 for input operators and 1 for output operators. Only
// the three standard streams are modeled.
func redirectFd(rd *syntax.Redirect) (int, error) {
	if rd.N == nil {
		switch rd.Op {
		case syntax.RdrIn, syntax.DplIn, syntax.RdrInOut, syntax.WordHdoc:
			return 0, nil
		default:
			return 1, nil
		}
	}
	fd, err := strconv.Atoi(rd.N.Value)
	if err != nil || fd < 0 || fd > 2 {
		return 0, &RedirectError{Op: rd.Op.String(), Msg: fmt.Sprintf("unsupported file descriptor %s", rd.N.Value)}
	}
	return fd, nil
}

// redirectTarget expands the redirection word. A target expanding to
// more than one field is an ambiguous redirect; zero fields reduce to
// the empty string, which fails later as an unopenable path.
func (r *Runner) redirectTarget(rd *syntax.Redirect) (string, error) {
	fields, err := expand.Fields(r.expandCfg(), rd.Word)
	if err != nil {
		return "", err
	}
	if len(fields) > 1 {
		return "", &RedirectError{Op: rd.Op.String(), Msg: fmt.Sprintf("ambiguous redirect (%d fields)", len(fields))}
	}
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

func (r *Runner) dupIn(fd int, target string) error {
	if fd != 0 {
		return &RedirectError{Op: "<&", Msg: fmt.Sprintf("cannot duplicate onto descriptor %d", fd)}
	}
	switch target {
	case "-":
		r.stdin = eofReader{}
	case "0":
		// Already there.
	default:
		return &RedirectError{Op: "<&", Msg: fmt.Sprintf("bad source descriptor %q", target)}
	}
	return nil
}

func (r *Runner) dupOut(fd int, target string) error {
	var w io.Writer
	switch target {
	case "1":
		w = r.stdout
	case "2":
		w = r.stderr
	case "-":
		w = io.Discard
	default:
		return &RedirectError{Op: ">&", Msg: fmt.Sprintf("bad source descriptor %q", target)}
	}
	if fd == 2 {
		r.stderr = w
	} else {
		r.stdout = w
	}
	return nil
}

// heredocBody expands a here-document. A quoted delimiter suppresses
// expansion entirely; <<- strips leading tabs from each body line.
func (r *Runner) heredocBody(rd *syntax.Redirect) (string, error) {
	if quotedHdocDelim(rd.Word) {
		return flattenHdoc(rd.Hdoc, rd.Op == syntax.DashHdoc), nil
	}
	body := rd.Hdoc
	if rd.Op == syntax.DashHdoc {
		body = stripHdocTabs(body)
	}
	return expand.Document(r.expandCfg(), body)
}

// quotedHdocDelim reports whether any part of the delimiter word was
// quoted, which per POSIX turns off expansion of the body.
func quotedHdocDelim(w *syntax.Word) bool {
	if w == nil {
		return false
	}
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.SglQuoted, *syntax.DblQuoted:
			return true
		case *syntax.Lit:
			if strings.ContainsAny(p.Value, `\'"`) {
				return true
			}
		}
	}
	return false
}

// flattenHdoc renders an unexpanded here-document body literally.
func flattenHdoc(w *syntax.Word, stripTabs bool) string {
	if w == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range w.Parts {
		if lit, ok := part.(*syntax.Lit); ok {
			b.WriteString(lit.Value)
		}
	}
	if !stripTabs {
		return b.String()
	}
	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(line, "\t")
	}
	return strings.Join(lines, "\n")
}

// stripHdocTabs rewrites a parsed body so that every line's leading
// tabs are gone while embedded expansions stay in place.
func stripHdocTabs(w *syntax.Word) *syntax.Word {
	out := &syntax.Word{}
	atLineStart := true
	for _, part := range w.Parts {
		lit, ok := part.(*syntax.Lit)
		if !ok {
			out.Parts = append(out.Parts, part)
			atLineStart = false
			continue
		}
		var b strings.Builder
		for i, line := range strings.Split(lit.Value, "\n") {
			if i > 0 {
				b.WriteByte('\n')
				atLineStart = true
			}
			if atLineStart {
				line = strings.TrimLeft(line, "\t")
			}
			if line != "" {
				atLineStart = false
			}
			b.WriteString(line)
		}
		out.Parts = append(out.Parts, &syntax.Lit{Value: b.String()})
	}
	return out
}

// eofReader is a closed standard input: reads see immediate EOF.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
