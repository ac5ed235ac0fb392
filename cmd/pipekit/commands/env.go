package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/pipelinekit/pipelinekit/pkg/bootstrap"
	"github.com/pipelinekit/pipelinekit/pkg/config"
	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
	"github.com/pipelinekit/pipelinekit/pkg/telemetry"
)

// environment bundles the collaborators every command needs: loaded
// settings, the record-store mirror, a transport factory bound to the
// cache roots, and the telemetry stack.
type environment struct {
	settings  *config.Settings
	store     *recordstore.SQLiteStore
	session   recordstore.Session
	factory   *descriptor.Factory
	telemetry *telemetry.Telemetry
}

// newEnvironment loads settings and opens the record-store mirror. The
// caller must invoke close when done.
func newEnvironment(ctx context.Context) (*environment, error) {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, err
	}

	store, err := recordstore.NewSQLiteStore(recordstore.Config{
		Path: filepath.Join(settings.Cache.Root, "records.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate record store: %w", err)
	}

	telCfg := telemetry.DefaultConfig()
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// Progress events double as log lines in the CLI.
	tel.Events.Subscribe(func(event telemetry.Event) {
		log.Debug().
			Str("event", event.Type).
			Str("config", event.ConfigName).
			Str("bundle", event.BundleName).
			Msg(event.Message)
	}, nil)

	session := settings.Session()
	factory := descriptor.NewFactory(
		settings.CacheRoots(),
		store,
		&session,
		descriptor.NewExecGitRunner(log.Logger),
		log.Logger,
	)

	return &environment{
		settings:  settings,
		store:     store,
		session:   session,
		factory:   factory,
		telemetry: tel,
	}, nil
}

// instrument attaches the telemetry stack to the command context so the
// resolver, transports and updater record metrics, spans and events.
func (e *environment) instrument(ctx context.Context) context.Context {
	return e.telemetry.WithContext(ctx)
}

// resolver builds a configuration resolver for the settings scope.
func (e *environment) resolver() *bootstrap.Resolver {
	return &bootstrap.Resolver{
		PluginID:    e.settings.PluginID,
		ProjectID:   e.settings.ProjectID,
		Factory:     e.factory,
		Store:       e.store,
		Session:     &e.session,
		Interpreter: e.settings.Interpreter,
		Logger:      log.Logger,
	}
}

// fallbackSpec parses the configured fallback descriptor, if any.
func (e *environment) fallbackSpec() (descriptor.Spec, error) {
	if e.settings.FallbackDescriptor == "" {
		return nil, nil
	}
	return descriptor.ParseURI(e.settings.FallbackDescriptor)
}

func (e *environment) close() {
	if err := e.telemetry.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close record store")
	}
}
