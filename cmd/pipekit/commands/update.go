package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pipelinekit/pipelinekit/pkg/bootstrap"
)

func newUpdateCommand() *cobra.Command {
	var (
		configName string
		configID   int
		force      bool
		checkOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Bring the resolved pipeline configuration up to date",
		Long: `Resolve the pipeline configuration for the current scope and install or
refresh it on disk.

An update backs up the existing configuration and core before installing
the new contents. If the install fails the backup is restored, so a
previously working configuration is never left broken.`,
		Example: `  # Update if the cached configuration is stale
  pipekit update -s settings.yml

  # Report status without changing anything
  pipekit update -s settings.yml --check

  # Reinstall even when up to date
  pipekit update -s settings.yml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.close()
			ctx = env.instrument(ctx)

			fallback, err := env.fallbackSpec()
			if err != nil {
				return fmt.Errorf("invalid fallback descriptor: %w", err)
			}

			cfg, err := env.resolver().Resolve(ctx, configName, configID, fallback)
			if err != nil {
				return err
			}

			status, err := cfg.Status()
			if err != nil {
				return err
			}

			log.Info().
				Str("path", cfg.Path()).
				Str("status", string(status)).
				Msg("Configuration resolved")

			if checkOnly {
				fmt.Printf("Configuration %s is %s\n", cfg.Path(), status)
				return nil
			}

			if status == bootstrap.StatusUpToDate && !force {
				fmt.Printf("Configuration %s is up to date\n", cfg.Path())
				return nil
			}

			if err := cfg.Update(ctx); err != nil {
				return fmt.Errorf("configuration update failed: %w", err)
			}

			fmt.Printf("Configuration %s updated\n", cfg.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&configName, "name", "", "restrict resolution to a named configuration")
	cmd.Flags().IntVar(&configID, "id", 0, "restrict resolution to a configuration record id")
	cmd.Flags().BoolVar(&force, "force", false, "update even when the configuration is up to date")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "report status without updating")

	return cmd
}
