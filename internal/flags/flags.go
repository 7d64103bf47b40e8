package flags

// Package flags defines canonical CLI flag names shared across the CLI and
// config layers. Keeping these as constants helps avoid drift between Cobra
// flag wiring and the code that decides which flags override the environment.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.QualityChecker.Token, flags.FlagToken, "", "...")
//	arg := "--" + flags.FlagToken
const (
	// OpenQualityChecker
	FlagToken   = "token"
	FlagProject = "project"
	FlagBaseURL = "base-url"

	// Bitbucket
	FlagBranch       = "branch"
	FlagCommit       = "commit"
	FlagCodeInsights = "code-insights"

	// Output
	FlagConsoleFormat = "console-format"
	FlagOut           = "out"
	FlagOutFormat     = "out-format"

	// Runtime
	FlagConfig          = "config"
	FlagDebug           = "debug"
	FlagConcurrency     = "concurrency"
	FlagTimeout         = "timeout"
	FlagCompoundBackoff = "compound-backoff"
)
