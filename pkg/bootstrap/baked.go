package bootstrap

import (
	"context"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
)

// BakedConfiguration is a read-only, pre-materialized configuration
// scaffold produced by a separate baking procedure at build time. Nothing
// is resolved or written at bootstrap time.
type BakedConfiguration struct {
	path string
	desc *descriptor.Descriptor
}

// NewBakedConfiguration wraps an existing baked scaffold.
func NewBakedConfiguration(path string, desc *descriptor.Descriptor) *BakedConfiguration {
	return &BakedConfiguration{path: path, desc: desc}
}

// Path returns the scaffold root.
func (c *BakedConfiguration) Path() string { return c.path }

// Descriptor returns the config descriptor the scaffold was baked from.
func (c *BakedConfiguration) Descriptor() *descriptor.Descriptor { return c.desc }

// Status always reports UP_TO_DATE: baked scaffolds are immutable.
func (c *BakedConfiguration) Status() (Status, error) {
	return StatusUpToDate, nil
}

// Update is a no-op.
func (c *BakedConfiguration) Update(ctx context.Context) error {
	return nil
}
