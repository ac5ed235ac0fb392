package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDevCommand() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "dev <config-path>",
		Short: "Watch a configuration under development",
		Long: `Watch a pipeline configuration directory and report changes to its
core metadata files.

Intended for dev descriptors pointing at a configuration checkout: every
change to the config metadata is logged as it happens. Stop with Ctrl+C.`,
		Example: `  # Watch a configuration checkout
  pipekit dev ~/dev/tk-config-basic

  # Watch with a longer debounce window
  pipekit dev --debounce 2s ~/dev/tk-config-basic`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			configPath := args[0]

			if _, err := os.Stat(configPath); err != nil {
				return fmt.Errorf("config path not accessible: %w", err)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			// Watch the root and the metadata folders; fsnotify does not
			// recurse, and the core files are what matter here.
			watchDirs := []string{
				configPath,
				filepath.Join(configPath, "config"),
				filepath.Join(configPath, "config", "core"),
			}
			for _, dir := range watchDirs {
				if _, err := os.Stat(dir); err != nil {
					continue
				}
				if err := watcher.Add(dir); err != nil {
					return fmt.Errorf("failed to watch %s: %w", dir, err)
				}
				log.Debug().Str("dir", dir).Msg("Watching directory")
			}

			log.Info().Str("path", configPath).Msg("Watching configuration, Ctrl+C to stop")

			// Coalesce bursts of events (editors often write several times)
			// into one report per debounce window.
			var timer *time.Timer
			pending := map[string]struct{}{}
			fire := make(chan struct{}, 1)

			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					pending[event.Name] = struct{}{}
					if timer == nil {
						timer = time.AfterFunc(debounce, func() {
							select {
							case fire <- struct{}{}:
							default:
							}
						})
					} else {
						timer.Reset(debounce)
					}

				case <-fire:
					timer = nil
					for name := range pending {
						log.Info().Str("file", name).Msg("Configuration changed")
					}
					pending = map[string]struct{}{}

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watcher error")

				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "delay before reporting a burst of changes")

	return cmd
}
