// Package config defines the shell option set and the optional YAML
// profile that seeds it.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// DefaultIFS is the field separator used when IFS is unset.
const DefaultIFS = " \t\n"

// Options is the runtime option set of one interpreter. A subshell gets a
// copy by value, so option changes never leak back to the parent.
type Options struct {
	// ErrExit aborts the whole script when a command fails (set -e).
	ErrExit bool
	// NoUnset makes expanding an unset parameter an error (set -u).
	NoUnset bool
	// NoGlob disables pathname expansion (set -f).
	NoGlob bool
	// NoExec parses but does not run commands (set -n).
	NoExec bool
	// PipeFail reports the first nonzero status of a pipeline instead of
	// the last component's status.
	PipeFail bool
	// FailGlob turns a glob with no matches into an expansion error
	// instead of leaving the pattern literal.
	FailGlob bool
	// SubshellErrExit controls whether ( ... ) inherits ErrExit. POSIX
	// implementations disagree here, so it is an explicit knob.
	SubshellErrExit bool
}

// optNames maps "set -o" names to option fields.
var optNames = map[string]func(*Options) *bool{
	"errexit":         func(o *Options) *bool { return &o.ErrExit },
	"nounset":         func(o *Options) *bool { return &o.NoUnset },
	"noglob":          func(o *Options) *bool { return &o.NoGlob },
	"noexec":          func(o *Options) *bool { return &o.NoExec },
	"pipefail":        func(o *Options) *bool { return &o.PipeFail },
	"failglob":        func(o *Options) *bool { return &o.FailGlob },
	"subshellerrexit": func(o *Options) *bool { return &o.SubshellErrExit },
}

// shortFlags maps single-letter set flags to long names.
var shortFlags = map[byte]string{
	'e': "errexit",
	'u': "nounset",
	'f': "noglob",
	'n': "noexec",
}

// Default returns the option set of a fresh interpreter.
func Default() Options {
	return Options{SubshellErrExit: true}
}

// SetByName flips an option by its "set -o" name.
func (o *Options) SetByName(name string, on bool) error {
	get, ok := optNames[name]
	if !ok {
		return fmt.Errorf("unknown option %q", name)
	}
	*get(o) = on
	return nil
}

// SetByFlag flips an option by its single-letter "set -e" style flag.
func (o *Options) SetByFlag(flag byte, on bool) error {
	name, ok := shortFlags[flag]
	if !ok {
		return fmt.Errorf("unknown option -%c", flag)
	}
	return o.SetByName(name, on)
}

// Flags renders the single-letter view of the enabled options for $-.
func (o *Options) Flags() string {
	var b strings.Builder
	for _, f := range []byte("efnu") {
		if *optNames[shortFlags[f]](o) {
			b.WriteByte(f)
		}
	}
	return b.String()
}

// Profile is the on-disk YAML configuration.
type Profile struct {
	// Options lists "set -o" names to enable at startup.
	Options []string `json:"options" validate:"dive,required"`
	// IFS overrides the initial field separator set.
	IFS *string `json:"ifs"`
	// Vars are extra variables assigned (and exported) at startup.
	Vars map[string]string `json:"vars" validate:"dive,keys,required,endkeys"`
}

// Validate the profile for basic semantic errors.
func (p *Profile) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})
	if err := validate.Struct(p); err != nil {
		return err
	}
	for _, name := range p.Options {
		if _, ok := optNames[name]; !ok {
			return fmt.Errorf("profile: unknown option %q", name)
		}
	}
	return nil
}

// LoadProfile reads and validates a profile file.
func LoadProfile(fs afero.Fs, path string) (*Profile, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply merges the profile into an option set.
func (p *Profile) Apply(o *Options) error {
	for _, name := range p.Options {
		if err := o.SetByName(name, true); err != nil {
			return err
		}
	}
	return nil
}
