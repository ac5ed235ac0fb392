// Package telemetry provides observability instrumentation for the toolkit.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics collection (Prometheus), and progress event publishing
// into a single cohesive interface used by the descriptor, bootstrap and record-store
// layers.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry spans around resolution, download and update
//  3. Metrics Collection - Prometheus counters and histograms
//  4. Progress Events - Subscriber-based progress reporting for long operations
//
// # Quick Start
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "pipelinekit"
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context so downstream components pick it up:
//
//	ctx := tel.WithContext(context.Background())
//
// # Logging
//
// Loggers carry toolkit-specific fields:
//
//	logger := telemetry.FromContext(ctx)
//	logger.WithDescriptor(uri).Info("resolving descriptor")
//	logger.WithBundle("tk-core", "v0.21.6").Debug("bundle already cached")
//
// Components that take a plain zerolog.Logger are wired through Zerolog:
//
//	factory := descriptor.NewFactory(roots, store, session, git, tel.Logger.Zerolog())
//
// # Tracing
//
// Spans wrap the three long-running operations:
//
//	ctx = telemetry.WithResolveContext(ctx, pluginID, projectID)
//	defer telemetry.EndResolveContext(ctx, configName, uri, source, err)
//
//	ctx = telemetry.WithUpdateContext(ctx, configName, configPath, uri)
//	defer telemetry.EndUpdateContext(ctx, configName, err)
//
//	err := telemetry.RecordDownloadOperation(ctx, "app_store", uri, "tk-core", target, func() error {
//	    return transport.DownloadLocal(ctx)
//	})
//
// # Progress Events
//
// Subscribers receive progress events during bootstrap, suitable for driving
// a progress UI or an audit log:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("[%s] %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelInfo))
//
// Filters can narrow a subscription to a configuration or a bundle:
//
//	tel.Events.Subscribe(handler, telemetry.FilterByConfigName("Primary"))
//	tel.Events.Subscribe(handler, telemetry.FilterByType(telemetry.EventTypeDownloadFailed))
//
// # Configuration Profiles
//
// Development (verbose console logging, full trace sampling to stdout):
//
//	cfg := telemetry.DevelopmentConfig()
//
// Production (JSON logs, sampled OTLP traces, metrics endpoint):
//
//	cfg := telemetry.ProductionConfig()
//	cfg.Tracing.Endpoint = "otel-collector:4317"
//
// # Shutdown
//
// Always shut down telemetry gracefully to flush pending spans and events:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown: %v", err)
//	}
package telemetry
