package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"oqcpipe/internal/backoff"
	"oqcpipe/internal/bitbucket"
	"oqcpipe/internal/config"
	"oqcpipe/internal/logging"
	"oqcpipe/internal/oqc"
	"oqcpipe/internal/output"
	"oqcpipe/internal/resolver"
)

// Bitbucket rejects annotation summaries longer than this.
const maxAnnotationSummary = 450

func exitCodeForRun(fatal, failed bool) int {
	// Exit code contract:
	// 0 = every project passed the analysis
	// 1 = at least one project failed, or the run could not complete
	if fatal || failed {
		return 1
	}
	return 0
}

// InsightsPublisher posts Code Insights data for a commit.
type InsightsPublisher interface {
	GetOrCreateReport(ctx context.Context, commit, details string) (*bitbucket.Report, error)
	Annotate(ctx context.Context, commit, reportID string, a bitbucket.Annotation) (*bitbucket.Annotation, error)
}

type Engine struct {
	// Stdout receives console output. Nil means os.Stdout.
	Stdout io.Writer

	logger *slog.Logger

	// newResolver and newInsights are test seams. If nil, Engine builds the
	// real OpenQualityChecker and Bitbucket clients from cfg.
	newResolver func(cfg *config.Config) (ProjectResolver, error)
	newInsights func(ctx context.Context, cfg *config.Config) (InsightsPublisher, error)
}

func NewEngine() *Engine {
	return &Engine{
		logger: logging.WithComponent("engine"),
	}
}

func defaultResolver(cfg *config.Config) (ProjectResolver, error) {
	policy := backoff.DefaultPolicy()
	client, err := oqc.NewClient(cfg.QualityChecker.BaseURL, cfg.QualityChecker.Token,
		oqc.WithBackoff(policy),
		oqc.WithVerbose(cfg.Runtime.Debug),
	)
	if err != nil {
		return nil, err
	}
	return resolver.NewPipeline(client, resolver.Options{
		Policy:          policy,
		CompoundBackoff: cfg.Runtime.CompoundBackoff,
	})
}

func defaultInsights(ctx context.Context, cfg *config.Config) (InsightsPublisher, error) {
	return bitbucket.NewClient(ctx, cfg.RepositoryOwner(), cfg.RepositorySlug(),
		bitbucket.Credentials{
			Username:    cfg.Bitbucket.Username,
			Password:    cfg.Bitbucket.Password,
			AccessToken: cfg.Bitbucket.AccessToken,
		},
		bitbucket.WithVerbose(cfg.Runtime.Debug),
	)
}

func (e *Engine) setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	if err := outMgr.AddSink(output.NewConsoleSink(e.Stdout, cfg.Output.ConsoleFormat)); err != nil {
		outMgr.Close()
		return nil, err
	}

	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		e.logger = logging.WithComponent("engine")
	}
	return e.logger
}

func (e *Engine) write(outMgr *output.Manager, ev output.Event) {
	if err := outMgr.Write(ev); err != nil {
		e.log().Warn("failed to write output", "event", ev.Type, "error", err)
	}
}

// Run evaluates every configured project and returns the process exit code.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	outMgr, err := e.setupOutputManager(cfg)
	if err != nil {
		e.log().Error("failed to create output sinks", "error", err)
		return exitCodeForRun(true, false)
	}
	defer func() {
		if err := outMgr.Close(); err != nil {
			e.log().Warn("failed to close output sinks", "error", err)
		}
	}()

	names := SplitProjectNames(cfg.QualityChecker.ProjectName)
	branch, commit := cfg.Bitbucket.Branch, cfg.Bitbucket.Commit
	e.log().Debug("Executing the pipe...", "projects", names, "branch", branch, "commit", commit)
	e.write(outMgr, output.Event{Type: output.EventRunStarted, Projects: len(names), Branch: branch, Commit: commit})

	abort := func(err error) int {
		code := exitCodeForRun(true, false)
		e.write(outMgr, output.Event{Type: output.EventRunFailed, Message: err.Error(), ExitCode: code})
		e.write(outMgr, output.Event{Type: output.EventRunFinished, Aborted: true, ExitCode: code})
		return code
	}

	newResolver := e.newResolver
	if newResolver == nil {
		newResolver = defaultResolver
	}
	res, err := newResolver(cfg)
	if err != nil {
		return abort(err)
	}
	evaluator, err := NewEvaluator(res, cfg.Runtime.Concurrency)
	if err != nil {
		return abort(err)
	}

	summary, err := evaluator.Evaluate(ctx, names, branch, commit, func(v ProjectVerdict) {
		e.log().Debug(fmt.Sprintf("Quality profile result for project '%s': %t", v.ProjectName, v.Passed))
		e.write(outMgr, output.VerdictEvent(v.ProjectName, v.Passed, v.Message(), v.Reason))
	})
	if err != nil {
		return abort(err)
	}

	if cfg.Bitbucket.CodeInsights && !summary.Passed {
		e.publishInsights(ctx, cfg, summary)
	}

	code := exitCodeForRun(false, !summary.Passed)
	passed := summary.Passed
	e.write(outMgr, output.Event{Type: output.EventRunFinished, Passed: &passed, ExitCode: code})
	return code
}

// publishInsights attaches a report with one annotation per rule of every
// failing project. Failures are logged and never change the verdict.
func (e *Engine) publishInsights(ctx context.Context, cfg *config.Config, summary Summary) {
	newInsights := e.newInsights
	if newInsights == nil {
		newInsights = defaultInsights
	}
	commit := cfg.Bitbucket.Commit

	pub, err := newInsights(ctx, cfg)
	if err != nil {
		e.log().Warn("Code Insights disabled", "error", err)
		return
	}

	failed := summary.FailedVerdicts()
	details := fmt.Sprintf("%d of %d OpenQualityChecker project(s) failed the analysis", len(failed), len(summary.Verdicts))
	report, err := pub.GetOrCreateReport(ctx, commit, details)
	if err != nil {
		e.log().Warn("failed to create Code Insights report", "commit", commit, "error", err)
		return
	}
	reportID := report.UUID
	if reportID == "" {
		reportID = report.ExternalID
	}

	for _, v := range failed {
		for _, rule := range v.FailedRules {
			a := bitbucket.Annotation{
				Summary: truncateRunes(RuleLine(rule), maxAnnotationSummary),
				Details: fmt.Sprintf("The commit for project '%s' is FAILED the analysis", v.ProjectName),
			}
			if _, err := pub.Annotate(ctx, commit, reportID, a); err != nil {
				e.log().Warn("failed to create Code Insights annotation", "project", v.ProjectName, "entity", rule.Entity, "error", err)
			}
		}
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
