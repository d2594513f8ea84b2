package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vk/scopegrid/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// usageError marks an error caused by bad arguments rather than a failed run.
func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand builds the scopegrid command tree. Output goes to outW.
func NewRootCommand(outW io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "scopegrid",
		Short: "Acquire waveforms from trigger-grouped instruments and filter them live",
		Long: `scopegrid runs a live acquisition session: instruments grouped under shared
triggers feed a graph of filters that is recomputed as new waveforms arrive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML settings file.")
	pf.StringVar(&opts.logLevel, "log-level", "", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log output format. Options: 'text' or 'json'.")

	root.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newHistoryCommand(opts),
	)
	return root
}

// Execute runs the command tree with args. Argument problems come back as
// an *ExitError with code 2.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root := NewRootCommand(outW)
	root.SetArgs(args)
	slog.Debug("CLI parser started.", "args", args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	// Cobra reports unknown commands and bad arity as plain errors.
	if strings.HasPrefix(err.Error(), "unknown command") || strings.Contains(err.Error(), "arg(s)") {
		return usageError(err)
	}
	return err
}

// settings loads the YAML settings and applies the persistent flag overrides.
func (o *rootOptions) settings(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.LoadSettings(o.configPath)
	if err != nil {
		return nil, usageError(err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		s.Log.Level = strings.ToLower(o.logLevel)
	}
	if flags.Changed("log-format") {
		s.Log.Format = strings.ToLower(o.logFormat)
	}
	if err := s.Validate(); err != nil {
		return nil, usageError(err)
	}
	return s, nil
}

// layoutPaths returns the layout arguments, or a usage error when none were
// given.
func layoutPaths(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, usageError(fmt.Errorf("%s: at least one LAYOUT_PATH is required", cmd.CommandPath()))
	}
	return args, nil
}
