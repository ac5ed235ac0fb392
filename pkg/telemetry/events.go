package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a progress event emitted during bootstrap operations.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// DescriptorURI is the associated descriptor, if applicable.
	DescriptorURI string `json:"descriptor_uri,omitempty"`

	// ConfigName is the associated configuration name, if applicable.
	ConfigName string `json:"config_name,omitempty"`

	// BundleName is the associated bundle name, if applicable.
	BundleName string `json:"bundle_name,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeDownloadStarted   = "download.started"
	EventTypeDownloadCompleted = "download.completed"
	EventTypeDownloadFailed    = "download.failed"
	EventTypeConfigResolved    = "config.resolved"
	EventTypeUpdateStarted     = "config.update.started"
	EventTypeUpdateCompleted   = "config.update.completed"
	EventTypeUpdateFailed      = "config.update.failed"
	EventTypeRollback          = "config.rolled_back"
	EventTypeBackupCreated     = "config.backup_created"
	EventTypeError             = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 && cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishDownloadStarted publishes a download started event.
func (ep *EventPublisher) PublishDownloadStarted(descriptorURI, bundleName string) error {
	return ep.Publish(Event{
		Type:          EventTypeDownloadStarted,
		Source:        "descriptor",
		DescriptorURI: descriptorURI,
		BundleName:    bundleName,
		Message:       fmt.Sprintf("Downloading %s", bundleName),
		Level:         EventLevelInfo,
	})
}

// PublishDownloadCompleted publishes a download completed event.
func (ep *EventPublisher) PublishDownloadCompleted(descriptorURI, bundleName, path string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:          EventTypeDownloadCompleted,
		Source:        "descriptor",
		DescriptorURI: descriptorURI,
		BundleName:    bundleName,
		Message:       fmt.Sprintf("Downloaded %s to %s", bundleName, path),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"path":     path,
			"duration": duration.Seconds(),
		},
	})
}

// PublishDownloadFailed publishes a download failed event.
func (ep *EventPublisher) PublishDownloadFailed(descriptorURI, bundleName, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypeDownloadFailed,
		Source:        "descriptor",
		DescriptorURI: descriptorURI,
		BundleName:    bundleName,
		Message:       fmt.Sprintf("Download of %s failed: %s", bundleName, reason),
		Level:         EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishConfigResolved publishes a configuration resolved event.
func (ep *EventPublisher) PublishConfigResolved(configName, descriptorURI, source string) error {
	return ep.Publish(Event{
		Type:          EventTypeConfigResolved,
		Source:        "resolver",
		ConfigName:    configName,
		DescriptorURI: descriptorURI,
		Message:       fmt.Sprintf("Resolved configuration %s from %s", configName, source),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"resolution_source": source,
		},
	})
}

// PublishUpdateStarted publishes a configuration update started event.
func (ep *EventPublisher) PublishUpdateStarted(configName, descriptorURI string) error {
	return ep.Publish(Event{
		Type:          EventTypeUpdateStarted,
		Source:        "bootstrap",
		ConfigName:    configName,
		DescriptorURI: descriptorURI,
		Message:       fmt.Sprintf("Updating configuration %s", configName),
		Level:         EventLevelInfo,
	})
}

// PublishUpdateCompleted publishes a configuration update completed event.
func (ep *EventPublisher) PublishUpdateCompleted(configName string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeUpdateCompleted,
		Source:     "bootstrap",
		ConfigName: configName,
		Message:    fmt.Sprintf("Configuration %s updated", configName),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishUpdateFailed publishes a configuration update failed event.
func (ep *EventPublisher) PublishUpdateFailed(configName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeUpdateFailed,
		Source:     "bootstrap",
		ConfigName: configName,
		Message:    fmt.Sprintf("Update of configuration %s failed: %s", configName, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishRollback publishes a rollback event.
func (ep *EventPublisher) PublishRollback(configName, backupPath string) error {
	return ep.Publish(Event{
		Type:       EventTypeRollback,
		Source:     "bootstrap",
		ConfigName: configName,
		Message:    fmt.Sprintf("Configuration %s restored from %s", configName, backupPath),
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"backup_path": backupPath,
		},
	})
}

// PublishBackupCreated publishes a backup created event.
func (ep *EventPublisher) PublishBackupCreated(configName, backupPath string) error {
	return ep.Publish(Event{
		Type:       EventTypeBackupCreated,
		Source:     "bootstrap",
		ConfigName: configName,
		Message:    fmt.Sprintf("Backed up configuration %s to %s", configName, backupPath),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"backup_path": backupPath,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByConfigName creates a filter that only allows events for a specific configuration.
func FilterByConfigName(configName string) EventFilter {
	return func(event Event) bool {
		return event.ConfigName == configName
	}
}

// FilterByBundle creates a filter that only allows events for a specific bundle.
func FilterByBundle(bundleName string) EventFilter {
	return func(event Event) bool {
		return event.BundleName == bundleName
	}
}
