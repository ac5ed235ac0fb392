package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/pipelinekit/pipelinekit/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "pipelinekit"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		fmt.Println("failed to initialize telemetry:", err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("toolkit started")
}

// Example_progressEvents demonstrates subscribing to bootstrap progress events.
func Example_progressEvents() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	// Subscribe to download failures only
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("download failed: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypeDownloadFailed))

	// Subscribe to everything at warning level or above
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("[%s] %s\n", event.Level, event.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
}

// Example_instrumentedDownload demonstrates instrumenting a bundle download.
func Example_instrumentedDownload() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	ctx := tel.WithContext(context.Background())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	uri := "sgtk:descriptor:app_store?name=tk-core&version=v0.21.6"
	err := telemetry.RecordDownloadOperation(ctx, "app_store", uri, "tk-core", "/var/cache/bundles/app_store/tk-core/v0.21.6", func() error {
		// Perform the actual download here.
		return nil
	})
	if err != nil {
		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("download failed")
	}
}

// Example_instrumentedUpdate demonstrates instrumenting a configuration update.
func Example_instrumentedUpdate() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	ctx := tel.WithContext(context.Background())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	uri := "sgtk:descriptor:app_store?name=tk-config-basic&version=v1.2.0"
	ctx = telemetry.WithUpdateContext(ctx, "Primary", "/configs/primary", uri)

	var updateErr error
	// Perform the actual update here.
	telemetry.EndUpdateContext(ctx, "Primary", updateErr)
}

// Example_operationHelper demonstrates the generic operation helper.
func Example_operationHelper() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	ctx := tel.WithContext(context.Background())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	ic := telemetry.StartOperation(ctx, "cache.scan",
		telemetry.AttrCacheRoot.String("/var/cache/bundles"),
	)
	ic.Logger.Info("scanning bundle cache")

	var scanErr error
	// Perform the scan here.
	ic.End(scanErr)
}
