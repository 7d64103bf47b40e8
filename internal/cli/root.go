package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"oqcpipe/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

const rootHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
  Every setting can come from the environment, which is how Bitbucket Pipelines
  passes pipe variables. Flags win over the environment, which wins over the
  optional --config YAML file.

  Required:
    OPENQUALITYCHECKER_ACCESS_TOKEN   API token sent in the "token" header
    OPENQUALITYCHECKER_PROJECT_NAME   comma-separated project names

  Optional:
    OPENQUALITYCHECKER_BASE_URL       server root, e.g. https://oqc.example.com/backend
    BITBUCKET_BRANCH, BITBUCKET_COMMIT
    BITBUCKET_CODE_INSIGHTS           post a report for failing projects (true/false)
    BITBUCKET_ACCESS_TOKEN            bearer token for Code Insights
    BITBUCKET_USERNAME, BITBUCKET_PASSWORD
    BITBUCKET_REPOSITORY              repository slug or workspace/slug
    DEBUG                             debug logging on stderr (true/false)

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

var rootCmd = &cobra.Command{
	Use:   "oqc-pipe",
	Short: "Fail a Bitbucket pipeline when OpenQualityChecker rejects the commit",
	Long: `oqc-pipe asks OpenQualityChecker for the quality profile of the current commit
and reports one verdict per project.

For every project it resolves project, branch, commit version and quality
profile in turn. Unknown projects and branches fail immediately. A version or
profile that does not exist yet is polled with Fibonacci backoff (1s steps,
capped at 100s) for up to an hour, since analysis runs asynchronously after a
push.

Output:
	Verdicts go to stdout, diagnostics to stderr.
	--console-format ndjson streams lifecycle events instead of text, one JSON
	object per line (run.started, project.verdict, run.failed, run.finished).
	--out / --out-format additionally write a JSON array of verdicts or the
	NDJSON stream to a file.

Exit codes:
	0 = every project passed the analysis
	1 = a project failed, configuration is missing, or the run could not complete

Examples:
	# Inside a pipeline step (settings come from pipe variables)
	oqc-pipe

	# Locally against a single project
	oqc-pipe --token "$TOKEN" --base-url https://oqc.example.com/backend \
	  --project my-service --branch master --commit "$(git rev-parse HEAD)"

	# List projects visible to the token
	oqc-pipe projects list`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCheck(cmd, os.LookupEnv))
	},
}

func init() {
	rootCmd.SetHelpTemplate(rootHelpTemplate)

	// MAINTAINER NOTE: every flag bound here must also be handled in
	// applyFlagOverrides, otherwise it silently loses to the environment.
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, flags.FlagConfig, "", "YAML file with pipe variables (keys as environment variable names)")
	pf.StringVar(&cfg.QualityChecker.Token, flags.FlagToken, "", "OpenQualityChecker API token (env: OPENQUALITYCHECKER_ACCESS_TOKEN)")
	pf.StringVar(&cfg.QualityChecker.BaseURL, flags.FlagBaseURL, "", "OpenQualityChecker server root (env: OPENQUALITYCHECKER_BASE_URL)")
	pf.BoolVar(&cfg.Runtime.Debug, flags.FlagDebug, false, "Enable debug logging, including every API call (env: DEBUG)")
	pf.DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Global timeout for the whole run (0 = no deadline, each project is bounded by its polling budgets)")

	f := rootCmd.Flags()
	f.StringVar(&cfg.QualityChecker.ProjectName, flags.FlagProject, "", "Comma-separated project names (env: OPENQUALITYCHECKER_PROJECT_NAME)")
	f.StringVar(&cfg.Bitbucket.Branch, flags.FlagBranch, "", "Branch to check (env: BITBUCKET_BRANCH)")
	f.StringVar(&cfg.Bitbucket.Commit, flags.FlagCommit, "", "Commit hash to check (env: BITBUCKET_COMMIT)")
	f.BoolVar(&cfg.Bitbucket.CodeInsights, flags.FlagCodeInsights, false, "Post a Code Insights report when a project fails (env: BITBUCKET_CODE_INSIGHTS)")
	f.StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|ndjson")
	f.StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	f.StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	f.IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, cfg.Runtime.Concurrency, "Projects resolved at once (1 = sequential)")
	f.BoolVar(&cfg.Runtime.CompoundBackoff, flags.FlagCompoundBackoff, false, "Also poll the version listing inside each version lookup attempt")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
