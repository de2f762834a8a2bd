// Command posh runs shell programs through the execution core: a
// script file, a -c string, or standard input.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"

	"posh/core/config"
	"posh/core/interp"
	"posh/core/state"
)

var fatalColor = color.New(color.FgRed, color.Bold)

var (
	flagCommand string
	flagProfile string
	flagOpts    []string
	flagErrExit bool
	flagNoUnset bool
	flagNoGlob  bool
	flagNoExec  bool
)

var rootCmd = &cobra.Command{
	Use:           "posh [flags] [script [args...]]",
	Short:         "POSIX shell execution core",
	Long:          `posh interprets POSIX shell programs: word expansion, redirections, control flow, pipelines, jobs, and traps.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagCommand, "command", "c", "", "run this command string instead of a script file")
	rootCmd.Flags().StringVar(&flagProfile, "profile", "", "YAML profile with startup options and variables")
	rootCmd.Flags().StringArrayVarP(&flagOpts, "option", "o", nil, "enable a named shell option (may repeat)")
	rootCmd.Flags().BoolVarP(&flagErrExit, "errexit", "e", false, "exit on the first command failure")
	rootCmd.Flags().BoolVarP(&flagNoUnset, "nounset", "u", false, "treat unset parameters as errors")
	rootCmd.Flags().BoolVarP(&flagNoGlob, "noglob", "f", false, "disable pathname expansion")
	rootCmd.Flags().BoolVarP(&flagNoExec, "noexec", "n", false, "parse commands without running them")
}

func run(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	opts := config.Default()
	vars := state.NewStoreFromEnviron(os.Environ())

	if flagProfile != "" {
		profile, err := config.LoadProfile(fs, flagProfile)
		if err != nil {
			return err
		}
		if err := profile.Apply(&opts); err != nil {
			return err
		}
		if profile.IFS != nil {
			vars.Set("IFS", *profile.IFS)
		}
		for name, value := range profile.Vars {
			vars.Set(name, value)
			vars.Export(name)
		}
	}
	for _, name := range flagOpts {
		if err := opts.SetByName(name, true); err != nil {
			return err
		}
	}
	opts.ErrExit = opts.ErrExit || flagErrExit
	opts.NoUnset = opts.NoUnset || flagNoUnset
	opts.NoGlob = opts.NoGlob || flagNoGlob
	opts.NoExec = opts.NoExec || flagNoExec

	name := "posh"
	params := args
	var src *strings.Reader
	switch {
	case flagCommand != "":
		src = strings.NewReader(flagCommand)
		if len(args) > 0 {
			name, params = args[0], args[1:]
		}
	case len(args) > 0:
		data, err := afero.ReadFile(fs, args[0])
		if err != nil {
			return err
		}
		src = strings.NewReader(string(data))
		name, params = args[0], args[1:]
	default:
		data, err := afero.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		src = strings.NewReader(string(data))
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	file, err := parser.Parse(src, name)
	if err != nil {
		return err
	}

	runner := interp.New(
		interp.Env(vars),
		interp.WithOptions(opts),
		interp.Params(name, params...),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT,
		syscall.SIGALRM, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			runner.Signals.Deliver(sig)
		}
	}()

	status := runner.Run(context.Background(), file)
	os.Exit(status.Code)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatalColor.Fprintf(os.Stderr, "posh: %v\n", err)
		os.Exit(2)
	}
}
