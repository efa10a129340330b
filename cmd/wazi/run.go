package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tetratelabs/wazi"
	"github.com/tetratelabs/wazi/internal/wasmdebug"
)

type runOptions struct {
	*globalOptions
	invoke string
	fuel   uint64
	name   string
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{globalOptions: global}
	cmd := &cobra.Command{
		Use:   "run [OPTIONS] FILE [ARG...]",
		Short: "Instantiate a module and optionally invoke one of its exported functions",
		Long: `Instantiate a module, running its start function if any. With --invoke, the exported function is then
called with ARGs parsed by its parameter types, and each result is printed on its own line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args[0], args[1:])
		},
	}

	opts.installFlags(cmd.Flags())
	return cmd
}

func (o *runOptions) installFlags(flags *pflag.FlagSet) {
	// Everything after FILE is an ARG, so negative numbers aren't mistaken for flags.
	flags.SetInterspersed(false)
	flags.StringVar(&o.invoke, "invoke", "", "name of the exported function to call")
	flags.Uint64Var(&o.fuel, "fuel", 0, "maximum instructions per call, overriding the config file (0 is unlimited)")
	flags.StringVar(&o.name, "name", "", "module name, defaulting to the name section or the file name")
}

func runRun(cmd *cobra.Command, opts *runOptions, path string, args []string) error {
	if opts.invoke == "" && len(args) > 0 {
		return errors.New("args require --invoke")
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint

	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading wasm binary: %w", err)
	}

	rc := cfg.runtimeConfig().WithLogger(logger)
	if cmd.Flags().Changed("fuel") {
		rc = rc.WithFuel(opts.fuel)
	}
	imports, err := cfg.imports()
	if err != nil {
		return err
	}

	ctx := context.Background()
	timeout, _ := cfg.timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r := wazi.NewRuntimeWithConfig(ctx, rc)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, source)
	if err != nil {
		return fmt.Errorf("error compiling wasm binary: %w", err)
	}

	mc := wazi.NewModuleConfig().WithImports(imports)
	switch {
	case opts.name != "":
		mc = mc.WithName(opts.name)
	case compiled.Name() == "":
		mc = mc.WithName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}
	mod, err := r.InstantiateModule(ctx, compiled, mc)
	if err != nil {
		return fmt.Errorf("error instantiating wasm binary: %w", err)
	}
	logger.Debug("instantiated", zap.String("path", path), zap.String("module", mod.Name()))

	if opts.invoke == "" {
		return nil
	}

	fn := mod.ExportedFunction(opts.invoke)
	if fn == nil {
		return fmt.Errorf("function %q is not exported in module %q", opts.invoke, mod.Name())
	}
	params, err := parseParams(fn, args)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.invoke, err)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		if wasmdebug.IsTrap(err) {
			return statusError{code: 2, err: err}
		}
		return err
	}

	out := cmd.OutOrStdout()
	for i, t := range fn.ResultTypes() {
		fmt.Fprintln(out, formatValue(t, results[i]))
	}
	return nil
}
