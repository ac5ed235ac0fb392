package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newResolveCommand() *cobra.Command {
	var (
		configName string
		configID   int
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the pipeline configuration for the current scope",
		Long: `Resolve which pipeline configuration applies to the plugin and project
declared in the settings file.

Resolution prefers per-user sandboxes over shared configurations and
project records over site records. When no record matches, the fallback
descriptor from the settings file is used.`,
		Example: `  # Resolve using the settings file scope
  pipekit resolve -s settings.yml

  # Resolve a named configuration
  pipekit resolve -s settings.yml --name Primary

  # Machine-readable output
  pipekit resolve -s settings.yml --json`,
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

			log.Debug().
				Str("plugin_id", env.settings.PluginID).
				Int("project_id", env.settings.ProjectID).
				Str("name", configName).
				Int("id", configID).
				Msg("Resolving configuration")

			cfg, err := env.resolver().Resolve(ctx, configName, configID, fallback)
			if err != nil {
				return err
			}

			status, err := cfg.Status()
			if err != nil {
				return err
			}

			if jsonOutput {
				out := map[string]any{
					"path":   cfg.Path(),
					"status": string(status),
				}
				if desc := cfg.Descriptor(); desc != nil {
					out["descriptor"] = desc.Spec().URI()
				}
				encoded, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
				return nil
			}

			fmt.Printf("Configuration path: %s\n", cfg.Path())
			if desc := cfg.Descriptor(); desc != nil {
				fmt.Printf("Descriptor:         %s\n", desc.Spec().URI())
			}
			fmt.Printf("Status:             %s\n", status)

			return nil
		},
	}

	cmd.Flags().StringVar(&configName, "name", "", "restrict resolution to a named configuration")
	cmd.Flags().IntVar(&configID, "id", 0, "restrict resolution to a configuration record id")

	return cmd
}
