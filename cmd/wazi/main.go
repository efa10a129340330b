// Command wazi runs and inspects WebAssembly 1.0 (20191205) binaries with the wazi interpreter.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/tetratelabs/wazi/internal/version"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	cmd := newRootCommand(stdOut, stdErr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stdErr, "error: %v\n", err)
		var status statusError
		if errors.As(err, &status) {
			return status.code
		}
		return 1
	}
	return 0
}

// statusError is returned by commands that fail with an exit code other than one.
type statusError struct {
	code int
	err  error
}

func (e statusError) Error() string { return e.err.Error() }

func (e statusError) Unwrap() error { return e.err }

// globalOptions are the flags shared by all commands.
type globalOptions struct {
	logLevel   string
	configPath string
}

func newRootCommand(stdOut, stdErr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "wazi",
		Short:         "A WebAssembly interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "minimum level of logs written to stderr: debug, info, warn or error")
	flags.StringVar(&opts.configPath, "config", "", "path to a TOML file with runtime limits and host imports")

	cmd.AddCommand(newRunCommand(opts), newInspectCommand(opts), newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of wazi",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetWaziVersion())
		},
	}
}

// newLogger writes to w in the console format when it is a terminal, or as JSON otherwise.
func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)), nil
}
