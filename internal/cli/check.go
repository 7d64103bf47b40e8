package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"oqcpipe/internal/config"
	"oqcpipe/internal/engine"
	"oqcpipe/internal/flags"
	"oqcpipe/internal/logging"
)

// cfg holds flag values only. The effective configuration is built per run
// by loadConfig.
var (
	cfg        = config.New()
	configPath string
)

// runCheck evaluates every configured project and returns the exit code.
func runCheck(cmd *cobra.Command, lookup config.LookupFunc) int {
	c, err := loadConfig(cmd, lookup, cfg)
	if err == nil {
		err = c.Validate()
	}
	if err != nil {
		return reportConfigError(cmd.ErrOrStderr(), err)
	}

	setupLogging(c.Runtime.Debug)

	ctx, cancel := runContext(c)
	defer cancel()

	eng := engine.NewEngine()
	if w := cmd.OutOrStdout(); w != os.Stdout {
		eng.Stdout = w
	}
	return eng.Run(ctx, c)
}

// loadConfig merges the YAML file, the environment and the flags that were
// set explicitly on cmd. It does not validate.
func loadConfig(cmd *cobra.Command, lookup config.LookupFunc, flagValues *config.Config) (*config.Config, error) {
	path := ""
	if f := cmd.Flags().Lookup(flags.FlagConfig); f != nil {
		path = f.Value.String()
	}
	c, err := config.Load(lookup, path)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, c, flagValues)
	return c, nil
}

func applyFlagOverrides(cmd *cobra.Command, dst, src *config.Config) {
	changed := func(name string) bool {
		return cmd.Flags().Changed(name)
	}

	if changed(flags.FlagToken) {
		dst.QualityChecker.Token = src.QualityChecker.Token
	}
	if changed(flags.FlagProject) {
		dst.QualityChecker.ProjectName = src.QualityChecker.ProjectName
	}
	if changed(flags.FlagBaseURL) {
		dst.QualityChecker.BaseURL = src.QualityChecker.BaseURL
	}
	if changed(flags.FlagBranch) {
		dst.Bitbucket.Branch = src.Bitbucket.Branch
	}
	if changed(flags.FlagCommit) {
		dst.Bitbucket.Commit = src.Bitbucket.Commit
	}
	if changed(flags.FlagCodeInsights) {
		dst.Bitbucket.CodeInsights = src.Bitbucket.CodeInsights
	}
	if changed(flags.FlagConsoleFormat) {
		dst.Output.ConsoleFormat = src.Output.ConsoleFormat
	}
	if changed(flags.FlagOut) {
		dst.Output.Out = src.Output.Out
	}
	if changed(flags.FlagOutFormat) {
		dst.Output.OutFormat = src.Output.OutFormat
	}
	if changed(flags.FlagConcurrency) {
		dst.Runtime.Concurrency = src.Runtime.Concurrency
	}
	if changed(flags.FlagTimeout) {
		dst.Runtime.Timeout = src.Runtime.Timeout
	}
	if changed(flags.FlagCompoundBackoff) {
		dst.Runtime.CompoundBackoff = src.Runtime.CompoundBackoff
	}
	if changed(flags.FlagDebug) {
		dst.Runtime.Debug = src.Runtime.Debug
	}
}

// reportConfigError prints err for a human and returns the exit code.
func reportConfigError(w io.Writer, err error) int {
	var missing *config.MissingError
	if errors.As(err, &missing) {
		fmt.Fprintln(w, "Error: missing required configuration:")
		for _, v := range missing.Vars {
			fmt.Fprintf(w, "  - %s\n", v)
		}
		return 1
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

func setupLogging(debug bool) {
	lc := logging.DefaultConfig()
	if debug {
		lc.Level = "debug"
	}
	logging.Init(lc)
}

// runContext is cancelled on SIGINT/SIGTERM or, when --timeout is set, once
// the run timeout elapses.
func runContext(c *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cancel := context.CancelFunc(func() {})
	if c.Runtime.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Runtime.Timeout)
	}
	return ctx, func() {
		cancel()
		stop()
	}
}
