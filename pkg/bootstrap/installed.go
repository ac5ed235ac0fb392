package bootstrap

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
)

// InstalledConfiguration is a classic pre-existing on-disk setup managed
// outside this toolkit. It is never updated here; its descriptor is marked
// non-copiable by the resolver.
type InstalledConfiguration struct {
	path string
	desc *descriptor.Descriptor
}

// NewInstalledConfiguration wraps an existing classic installation.
func NewInstalledConfiguration(path string, desc *descriptor.Descriptor) *InstalledConfiguration {
	return &InstalledConfiguration{path: path, desc: desc}
}

// Path returns the installation root.
func (c *InstalledConfiguration) Path() string { return c.path }

// Descriptor returns the installed-path descriptor.
func (c *InstalledConfiguration) Descriptor() *descriptor.Descriptor { return c.desc }

// Status validates that the expected metadata is present. A missing
// pipeline configuration file is a hard error rather than INVALID: there is
// no repair path this toolkit could drive for an externally managed setup.
func (c *InstalledConfiguration) Status() (Status, error) {
	metadata := filepath.Join(c.path, "config", "core", "pipeline_configuration.yml")
	if _, err := os.Stat(metadata); err != nil {
		return "", descriptor.NewResolutionError(
			"installed configuration at "+c.path+" is missing its pipeline configuration metadata", err)
	}
	return StatusUpToDate, nil
}

// Update is a no-op: the installation is managed externally.
func (c *InstalledConfiguration) Update(ctx context.Context) error {
	return nil
}
