package resolver

import "errors"

// Entity names the lookup stage that came back empty.
type Entity string

const (
	EntityProject        Entity = "ProjectId"
	EntityBranch         Entity = "BranchId"
	EntityVersion        Entity = "VersionId"
	EntityQualityProfile Entity = "QualityProfile"
)

// NotFoundError reports that a stage of the resolution found no match.
// Only version lookups are retryable: the analysis for a fresh commit may
// simply not exist yet.
type NotFoundError struct {
	Entity  Entity
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Retryable() bool {
	return e.Entity == EntityVersion
}

// IsRetryable reports whether err is a NotFoundError that may resolve itself
// with time.
func IsRetryable(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Retryable()
}

// IsNotFound reports whether err is a NotFoundError for entity.
func IsNotFound(err error, entity Entity) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Entity == entity
}
