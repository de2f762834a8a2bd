package interp

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// ErrNotFound is the error resulting if a path search failed to find an
// executable file.
var ErrNotFound = exec.ErrNotFound

// Cmd describes one external command for the spawn capability.
type Cmd struct {
	// Path is the resolved path of the executable.
	Path string
	// Argv holds the arguments including the command name as Argv[0].
	Argv []string
	// Env holds the "key=value" environment for the child.
	Env []string
	// Dir is the working directory of the child.
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a spawned unit supporting "wait for status change".
type Process interface {
	Wait() Status
}

// Spawner is the external process-spawning capability. The default
// implementation runs real OS processes; tests plug in fakes.
type Spawner interface {
	Spawn(ctx context.Context, cmd *Cmd) (Process, error)
}

type execSpawner struct{}

// NewExecSpawner returns a Spawner backed by os/exec.
func NewExecSpawner() Spawner { return execSpawner{} }

func (execSpawner) Spawn(ctx context.Context, c *Cmd) (Process, error) {
	cmd := exec.CommandContext(ctx, c.Path)
	cmd.Args = c.Argv
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() Status {
	err := p.cmd.Wait()
	if err == nil {
		return Exited(0)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return KilledBy(int(ws.Signal()))
		}
		return Exited(exitErr.ExitCode())
	}
	return Exited(StatusExecFailure)
}

func findExecutable(fsys afero.Fs, file string) error {
	d, err := fsys.Stat(file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case err != nil:
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0111 != 0 {
		return nil
	}
	return fs.ErrPermission
}

// LookPath searches for an executable named file in the directories
// named by the PATH value. If file contains a slash, it is tried
// directly and the PATH is not consulted. The result may be an absolute
// path or a path relative to dir.
func LookPath(fsys afero.Fs, path, dir, file string) (string, error) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) || dir == "" {
			return p
		}
		return filepath.Join(dir, p)
	}
	if strings.Contains(file, "/") {
		if err := findExecutable(fsys, resolve(file)); err != nil {
			return "", err
		}
		return file, nil
	}
	var firstErr error
	for _, elem := range filepath.SplitList(path) {
		if elem == "" {
			// Unix shell semantics: path element "" means "."
			elem = "."
		}
		candidate := filepath.Join(elem, file)
		err := findExecutable(fsys, resolve(candidate))
		if err == nil {
			return candidate, nil
		}
		if firstErr == nil && errors.Is(err, fs.ErrPermission) {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", ErrNotFound
}
