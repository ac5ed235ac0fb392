package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	// Add trace context to logger if available
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithResolveContext creates a context enriched with resolution-specific telemetry.
func WithResolveContext(ctx context.Context, pluginID string, projectID int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start resolution span
	spanCtx, span := tel.Tracer.StartResolveSpan(ctx, pluginID, projectID)

	// Create resolution-specific logger
	logger := tel.Logger.WithField("plugin_id", pluginID).WithProjectID(projectID)
	spanCtx = logger.WithContext(spanCtx)

	// Store the span and timer in context for later retrieval
	spanCtx = context.WithValue(spanCtx, resolveSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, resolveTimerKey{}, NewTimer())

	return spanCtx
}

// resolveSpanKey is the context key for resolution spans.
type resolveSpanKey struct{}

// resolveTimerKey is the context key for resolution timers.
type resolveTimerKey struct{}

// EndResolveContext completes the resolution context, recording metrics and events.
func EndResolveContext(ctx context.Context, configName, descriptorURI, source string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the resolution span from context
	if span, ok := ctx.Value(resolveSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			span.SetAttributes(
				AttrConfigName.String(configName),
				AttrDescriptorURI.String(descriptorURI),
			)
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(resolveTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	// Record metrics and publish events
	if err != nil {
		tel.Metrics.RecordResolution(source, "failed", duration)
	} else {
		tel.Metrics.RecordResolution(source, "succeeded", duration)
		_ = tel.Events.PublishConfigResolved(configName, descriptorURI, source)
	}
}

// WithUpdateContext creates a context enriched with update-specific telemetry.
func WithUpdateContext(ctx context.Context, configName, configPath, descriptorURI string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start update span
	spanCtx, span := tel.Tracer.StartUpdateSpan(ctx, configPath, descriptorURI)

	// Create update-specific logger
	logger := tel.Logger.
		WithConfigName(configName).
		WithDescriptor(descriptorURI)
	spanCtx = logger.WithContext(spanCtx)

	// Publish update started event
	_ = tel.Events.PublishUpdateStarted(configName, descriptorURI)

	// Store the span and timer in context
	spanCtx = context.WithValue(spanCtx, updateSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, updateTimerKey{}, NewTimer())

	return spanCtx
}

// updateSpanKey is the context key for update spans.
type updateSpanKey struct{}

// updateTimerKey is the context key for update timers.
type updateTimerKey struct{}

// EndUpdateContext completes the update context, recording metrics and events.
func EndUpdateContext(ctx context.Context, configName string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the span from context
	if span, ok := ctx.Value(updateSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Get the timer from context
	var duration time.Duration
	if timer, ok := ctx.Value(updateTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	// Record metrics and publish events
	if err != nil {
		tel.Metrics.RecordUpdateCompleted("failed", duration)
		_ = tel.Events.PublishUpdateFailed(configName, err.Error())
	} else {
		tel.Metrics.RecordUpdateCompleted("succeeded", duration)
		_ = tel.Events.PublishUpdateCompleted(configName, duration)
	}
}

// RecordDownloadOperation records a bundle download with metrics, tracing and events.
// path is the cache location the download lands in, published with the completion event.
func RecordDownloadOperation(ctx context.Context, descriptorType, descriptorURI, bundleName, path string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	// Start span
	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartDownloadSpan(ctx, descriptorType, descriptorURI)
		defer span.End()

		tel.Metrics.RecordDownloadStarted(descriptorType)
		_ = tel.Events.PublishDownloadStarted(descriptorURI, bundleName)
	}

	// Start timer
	timer := NewTimer()

	// Execute download
	err := fn()

	// Record metrics and publish events
	if tel != nil {
		duration := timer.Duration()
		if err != nil {
			tel.Metrics.RecordDownloadCompleted(descriptorType, "failed", duration)
			_ = tel.Events.PublishDownloadFailed(descriptorURI, bundleName, err.Error())
			RecordError(span, err)
		} else {
			tel.Metrics.RecordDownloadCompleted(descriptorType, "succeeded", duration)
			_ = tel.Events.PublishDownloadCompleted(descriptorURI, bundleName, path, duration)
			RecordSuccess(span)
		}
	}

	return err
}

// RecordStoreOperation records a record-store call with metrics and tracing.
func RecordStoreOperation(ctx context.Context, entity, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	// Start span
	var span trace.Span
	if tel != nil {
		_, span = tel.Tracer.StartSpan(ctx, "store."+operation,
			AttrStoreEntity.String(entity),
			AttrStoreOperation.String(operation),
		)
		defer span.End()
	}

	// Start timer
	timer := NewTimer()

	// Execute operation
	err := fn()

	// Record metrics
	if tel != nil {
		duration := timer.Duration()
		tel.Metrics.RecordStoreCall(entity, operation, duration)
		if err != nil {
			tel.Metrics.RecordStoreError(entity, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
