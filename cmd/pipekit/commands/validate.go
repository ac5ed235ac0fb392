package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <descriptor-uri>",
		Short: "Validate a descriptor URI",
		Long: `Parse a descriptor URI and check that it names a supported type and
carries every key that type requires.

The canonical form of the URI is printed on success, so the command also
serves to normalize hand-written descriptors.`,
		Example: `  # Validate an app-store descriptor
  pipekit validate "sgtk:descriptor:app_store?name=tk-core&version=v0.21.6"

  # Validate a git descriptor
  pipekit validate "sgtk:descriptor:git?path=git@example.com:tk-config.git&version=v1.2.3"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := descriptor.ParseURI(args[0])
			if err != nil {
				return err
			}
			if err := spec.Validate(); err != nil {
				return err
			}

			fmt.Printf("valid: %s\n", spec.URI())
			return nil
		},
	}

	return cmd
}
