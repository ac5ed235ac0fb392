// Package bootstrap implements the configuration lifecycle: deciding which
// pipeline configuration should be active for a given scope, comparing the
// on-disk installation against its target descriptor, and driving atomic
// update-with-rollback when the installation is stale.
package bootstrap

import (
	"context"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
)

// Status is the result of comparing an on-disk configuration against its
// target descriptor. It is computed fresh on every call, never cached.
type Status string

const (
	// StatusUpToDate means the installation matches the target exactly.
	StatusUpToDate Status = "UP_TO_DATE"

	// StatusMissing means nothing is installed yet.
	StatusMissing Status = "MISSING"

	// StatusDifferent means an installation exists but does not match the
	// target, or the target is mutable and must always be refreshed.
	StatusDifferent Status = "DIFFERENT"

	// StatusInvalid means the on-disk state cannot be interpreted.
	StatusInvalid Status = "INVALID"
)

// DeployGeneration is the generation number of the deploy logic. It is
// stamped into every installation; a bump forces existing installations to
// report DIFFERENT and re-deploy with the current logic.
const DeployGeneration = 11

// Configuration is an installed-or-installable pipeline configuration bound
// to a filesystem root and an owning scope.
type Configuration interface {
	// Path returns the configuration root.
	Path() string

	// Descriptor returns the target config descriptor.
	Descriptor() *descriptor.Descriptor

	// Status compares the on-disk installation against the target.
	Status() (Status, error)

	// Update brings the installation in sync with the target descriptor.
	// Callers must check Status first: invoking Update on an up-to-date
	// cached configuration is a caller bug, not guarded here.
	Update(ctx context.Context) error
}
