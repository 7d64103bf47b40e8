package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"oqcpipe/internal/oqc"
)

// ProjectResolver resolves one project to the quality profile of a commit.
type ProjectResolver interface {
	Resolve(ctx context.Context, projectName, branchName, commitHash string) (*oqc.QualityProfile, error)
}

// ProjectVerdict is the outcome for one requested project.
type ProjectVerdict struct {
	ProjectName string
	Passed      bool
	// Reason is empty when the project passed.
	Reason string
	// FailedRules are the rules reported by a failing profile.
	FailedRules []oqc.RuleResult
}

// Message is the console line for the verdict.
func (v ProjectVerdict) Message() string {
	if v.Passed {
		return fmt.Sprintf("The commit for project '%s' is PASSED the analysis", v.ProjectName)
	}
	return fmt.Sprintf("The commit for project '%s' is FAILED the analysis\n\tReason: %s", v.ProjectName, v.Reason)
}

// Summary aggregates all verdicts of a run. Verdicts are in input order.
type Summary struct {
	Passed   bool
	Verdicts []ProjectVerdict
}

func (s Summary) FailedVerdicts() []ProjectVerdict {
	var out []ProjectVerdict
	for _, v := range s.Verdicts {
		if !v.Passed {
			out = append(out, v)
		}
	}
	return out
}

// SplitProjectNames splits a comma-separated project list, trimming each
// name and dropping empty entries.
func SplitProjectNames(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Evaluator fans resolution out over several projects.
type Evaluator struct {
	resolver    ProjectResolver
	concurrency int
}

func NewEvaluator(r ProjectResolver, concurrency int) (*Evaluator, error) {
	if r == nil {
		return nil, errors.New("resolver is nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &Evaluator{resolver: r, concurrency: concurrency}, nil
}

// Evaluate resolves every project and calls emit with each verdict in input
// order as soon as it and all earlier verdicts are known.
//
// A resolution error aborts the run: remaining projects are not evaluated and
// the error is returned together with the verdicts emitted so far. A failing
// quality profile is a verdict, not an error.
func (e *Evaluator) Evaluate(ctx context.Context, names []string, branch, commit string, emit func(ProjectVerdict)) (Summary, error) {
	if emit == nil {
		emit = func(ProjectVerdict) {}
	}
	if e.concurrency == 1 || len(names) <= 1 {
		return e.evaluateSequential(ctx, names, branch, commit, emit)
	}
	return e.evaluateParallel(ctx, names, branch, commit, emit)
}

func (e *Evaluator) evaluateSequential(ctx context.Context, names []string, branch, commit string, emit func(ProjectVerdict)) (Summary, error) {
	sum := Summary{Passed: true}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			sum.Passed = false
			return sum, err
		}
		profile, err := e.resolve(ctx, name, branch, commit)
		if err != nil {
			sum.Passed = false
			return sum, err
		}
		v := verdictFor(name, profile)
		sum.add(v)
		emit(v)
	}
	return sum, nil
}

type slot struct {
	profile *oqc.QualityProfile
	err     error
	done    chan struct{}
}

func (e *Evaluator) evaluateParallel(ctx context.Context, names []string, branch, commit string, emit func(ProjectVerdict)) (Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	slots := make([]slot, len(names))
	for i := range slots {
		slots[i].done = make(chan struct{})
	}

	// Go blocks while the limit is reached, so scheduling runs beside the
	// ordered collector below.
	scheduled := make(chan struct{})
	go func() {
		defer close(scheduled)
		for i, name := range names {
			name := name
			s := &slots[i]
			g.Go(func() error {
				defer close(s.done)
				if err := gctx.Err(); err != nil {
					s.err = err
					return err
				}
				s.profile, s.err = e.resolve(gctx, name, branch, commit)
				return s.err
			})
		}
	}()

	sum := Summary{Passed: true}
	for i, name := range names {
		<-slots[i].done
		if slots[i].err != nil {
			break
		}
		v := verdictFor(name, slots[i].profile)
		sum.add(v)
		emit(v)
	}

	<-scheduled
	if err := g.Wait(); err != nil {
		sum.Passed = false
		return sum, err
	}
	return sum, nil
}

// ErrNoQualityProfile is returned when a resolver reports success without a profile.
var ErrNoQualityProfile = errors.New("Quality profile not available for this commit")

func (e *Evaluator) resolve(ctx context.Context, name, branch, commit string) (*oqc.QualityProfile, error) {
	profile, err := e.resolver.Resolve(ctx, name, branch, commit)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrNoQualityProfile
	}
	return profile, nil
}

func (s *Summary) add(v ProjectVerdict) {
	s.Verdicts = append(s.Verdicts, v)
	s.Passed = s.Passed && v.Passed
}

func verdictFor(name string, profile *oqc.QualityProfile) ProjectVerdict {
	if profile.Result {
		return ProjectVerdict{ProjectName: name, Passed: true}
	}
	return ProjectVerdict{
		ProjectName: name,
		Reason:      FailureReason(profile.Rules),
		FailedRules: profile.Rules,
	}
}
