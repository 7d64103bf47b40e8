package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"oqcpipe/internal/config"
	"oqcpipe/internal/oqc"
)

var projectsListQuiet bool

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Inspect OpenQualityChecker projects",
	Long: `Inspect the OpenQualityChecker projects visible to the access token.

Use this to find the exact names for OPENQUALITYCHECKER_PROJECT_NAME; names are
matched case-sensitively.

Examples:
  # List all visible projects
  oqc-pipe projects list
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects visible to the access token",
	Long: `List every project visible to the access token, sorted by name.

Examples:
  oqc-pipe projects list --token "$TOKEN" --base-url https://oqc.example.com/backend

Output:
  One project per line as ID<TAB>NAME, or only the name with --quiet.
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runProjectsList(cmd, os.LookupEnv))
	},
}

func runProjectsList(cmd *cobra.Command, lookup config.LookupFunc) int {
	c, err := loadConfig(cmd, lookup, cfg)
	if err == nil && strings.TrimSpace(c.QualityChecker.Token) == "" {
		err = &config.MissingError{Vars: []string{config.EnvToken}}
	}
	if err != nil {
		return reportConfigError(cmd.ErrOrStderr(), err)
	}

	setupLogging(c.Runtime.Debug)

	ctx, cancel := runContext(c)
	defer cancel()

	client, err := oqc.NewClient(c.QualityChecker.BaseURL, c.QualityChecker.Token, oqc.WithVerbose(c.Runtime.Debug))
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	projects, err := client.ListProjects(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}

	printProjects(cmd.OutOrStdout(), projects, projectsListQuiet)
	return 0
}

func printProjects(w io.Writer, projects []oqc.Project, quiet bool) {
	sorted := append([]oqc.Project(nil), projects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	bold := color.New(color.Bold)
	if w != os.Stdout {
		bold.DisableColor()
	}
	for _, p := range sorted {
		if quiet {
			fmt.Fprintln(w, p.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t", p.ID)
		bold.Fprintln(w, p.Name)
	}
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsListCmd.Flags().BoolVarP(&projectsListQuiet, "quiet", "q", false, "Only print project names")
}
