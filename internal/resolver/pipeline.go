// Package resolver turns a project name and a branch/commit pair into the
// OpenQualityChecker quality profile for that commit.
//
// Resolution runs four dependent stages: project id, branch id, version id and
// quality profile. Project and branch misses are configuration errors and fail
// immediately. A version miss is retried with backoff because the analysis of a
// freshly pushed commit shows up some time after the push.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"oqcpipe/internal/backoff"
	"oqcpipe/internal/logging"
	"oqcpipe/internal/oqc"
)

// QualityClient is the subset of the OpenQualityChecker API used for resolution.
type QualityClient interface {
	ListProjects(ctx context.Context) ([]oqc.Project, error)
	ListBranches(ctx context.Context, projectID oqc.ID) []oqc.Branch
	FetchVersions(ctx context.Context, branchID oqc.ID) ([]oqc.Version, error)
	ListVersions(ctx context.Context, branchID oqc.ID) []oqc.Version
	GetQualityProfile(ctx context.Context, versionID oqc.ID) *oqc.QualityProfile
}

type Options struct {
	// Policy drives the version lookup retry loop.
	Policy backoff.Policy

	// CompoundBackoff polls the backoff-wrapped version listing inside the
	// outer retry loop, so an empty listing waits out a full client-level
	// budget before the hash is checked. When false each outer attempt makes
	// one plain request.
	CompoundBackoff bool

	Logger *slog.Logger
}

type Pipeline struct {
	client   QualityClient
	policy   backoff.Policy
	compound bool
	logger   *slog.Logger
}

func NewPipeline(client QualityClient, opts Options) (*Pipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("resolver: client is nil")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("resolver")
	}
	return &Pipeline{
		client:   client,
		policy:   opts.Policy,
		compound: opts.CompoundBackoff,
		logger:   logger,
	}, nil
}

// Resolve returns the quality profile of commitHash on branchName of the
// project called projectName.
func (p *Pipeline) Resolve(ctx context.Context, projectName, branchName, commitHash string) (*oqc.QualityProfile, error) {
	log := logging.WithProject(p.logger, projectName)
	ctx = logging.ContextWithProject(ctx, projectName)

	projectID, err := p.findProjectID(ctx, log, projectName)
	if err != nil {
		return nil, err
	}
	branchID, err := p.findBranchID(ctx, log, projectName, projectID, branchName)
	if err != nil {
		return nil, err
	}
	versionID, err := p.findVersionID(ctx, log, projectName, branchID, commitHash)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, err
	}
	return p.findQualityProfile(ctx, log, projectName, versionID)
}

func (p *Pipeline) findProjectID(ctx context.Context, log *slog.Logger, name string) (oqc.ID, error) {
	log.Info(fmt.Sprintf("[%s] Searching project id by name", name))

	projects, err := p.client.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	if len(projects) == 0 {
		msg := fmt.Sprintf("[%s] No OpenQualityChecker project is found for the given token", name)
		log.Warn(msg)
		return "", &NotFoundError{Entity: EntityProject, Message: msg}
	}

	for _, project := range projects {
		log.Debug(fmt.Sprintf("[%s] Current project name for checking: '%s'", name, project.Name))
		if project.Name == name {
			return project.ID, nil
		}
	}
	return "", &NotFoundError{
		Entity:  EntityProject,
		Message: fmt.Sprintf("[%s] Project id NOT found for project name", name),
	}
}

func (p *Pipeline) findBranchID(ctx context.Context, log *slog.Logger, name string, projectID oqc.ID, branchName string) (oqc.ID, error) {
	log.Info(fmt.Sprintf("[%s] Searching branch id for project: '%s' and branch name: '%s'", name, projectID, branchName))

	for _, branch := range p.client.ListBranches(ctx, projectID) {
		log.Debug(fmt.Sprintf("[%s] Current branch for checking: '%s'", name, branch.Name))
		if branch.Name == branchName {
			return branch.ID, nil
		}
	}
	nf := &NotFoundError{
		Entity:  EntityBranch,
		Message: fmt.Sprintf("[%s] Branch not found: '%s'", name, branchName),
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", nf, err)
	}
	return "", nf
}

func (p *Pipeline) findVersionID(ctx context.Context, log *slog.Logger, name string, branchID oqc.ID, commitHash string) (oqc.ID, error) {
	policy := p.policy
	policy.OnRetry = func(attempt int, delay time.Duration) {
		log.Debug(fmt.Sprintf("[%s] Version not available yet, retrying", name), "attempt", attempt, "delay", delay)
	}

	return backoff.OnError(ctx, policy, func(ctx context.Context) (oqc.ID, error) {
		log.Info(fmt.Sprintf("[%s] Searching version for branch id: '%s' and commit: '%s'", name, branchID, commitHash))

		for _, version := range p.versions(ctx, log, branchID) {
			if version.CommitHash == commitHash {
				return version.ID, nil
			}
		}
		return "", &NotFoundError{
			Entity:  EntityVersion,
			Message: fmt.Sprintf("[%s] Version not found for branch id: '%s' and hash: '%s'", name, branchID, commitHash),
		}
	}, IsRetryable)
}

func (p *Pipeline) versions(ctx context.Context, log *slog.Logger, branchID oqc.ID) []oqc.Version {
	if p.compound {
		return p.client.ListVersions(ctx, branchID)
	}
	versions, err := p.client.FetchVersions(ctx, branchID)
	if err != nil {
		log.Error("OPENQUALITYCHECKER__ERROR", "op", "list versions", "branch_id", branchID, "error", err)
		return nil
	}
	return versions
}

func (p *Pipeline) findQualityProfile(ctx context.Context, log *slog.Logger, name string, versionID oqc.ID) (*oqc.QualityProfile, error) {
	log.Info(fmt.Sprintf("[%s] Searching quality profile for branch version: '%s'", name, versionID))

	profile := p.client.GetQualityProfile(ctx, versionID)
	if profile == nil {
		nf := &NotFoundError{
			Entity:  EntityQualityProfile,
			Message: fmt.Sprintf("[%s] No quality profile found for version: '%s'", name, versionID),
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", nf, err)
		}
		return nil, nf
	}
	return profile, nil
}
