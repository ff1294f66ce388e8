// Package realtime provides a real-time event broadcasting system for
// observers of a running upstream sync.
package realtime

import (
	"log/slog"
)

// EventPublisher publishes sync-engine progress events to an EventBus.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

// PublishSyncStarted publishes the start of a sync invocation for a given
// filter hash (the delta anchor key it will run against).
func (p *EventPublisher) PublishSyncStarted(runID, filterHash string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(EventTypeSyncStarted, map[string]interface{}{
		"run_id":      runID,
		"filter_hash": filterHash,
	}, EventSourceSyncEngine)
	return p.eventBus.Publish(*event)
}

// PublishAuthExchanged publishes a successful auth state transition.
func (p *EventPublisher) PublishAuthExchanged(runID, state string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(EventTypeAuthExchanged, map[string]interface{}{
		"run_id": runID,
		"state":  state,
	}, EventSourceSyncEngine)
	return p.eventBus.Publish(*event)
}

// PublishBatchFetched publishes one GetUpdateData batch landing in the
// metadata store.
func (p *EventPublisher) PublishBatchFetched(runID string, batchSize, totalFetched int) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(EventTypeBatchFetched, map[string]interface{}{
		"run_id":        runID,
		"batch_size":    batchSize,
		"total_fetched": totalFetched,
	}, EventSourceSyncEngine)
	return p.eventBus.Publish(*event)
}

// PublishRetryScheduled publishes a retry after a transient upstream fault.
func (p *EventPublisher) PublishRetryScheduled(runID string, attempt int, delaySeconds float64, cause string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(EventTypeRetryScheduled, map[string]interface{}{
		"run_id":        runID,
		"attempt":       attempt,
		"delay_seconds": delaySeconds,
		"cause":         cause,
	}, EventSourceSyncEngine)
	return p.eventBus.Publish(*event)
}

// PublishAnchorCommitted publishes a new delta anchor durably recorded.
func (p *EventPublisher) PublishAnchorCommitted(runID, filterHash string, anchorHash string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(EventTypeAnchorCommitted, map[string]interface{}{
		"run_id":      runID,
		"filter_hash": filterHash,
		"anchor_hash": anchorHash,
	}, EventSourceSyncEngine)
	return p.eventBus.Publish(*event)
}

// PublishSyncCompleted publishes a sync invocation finishing. errMsg is
// empty on success.
func (p *EventPublisher) PublishSyncCompleted(runID string, fetched int, errMsg string) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"run_id":  runID,
		"fetched": fetched,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	event := NewEvent(EventTypeSyncCompleted, data, EventSourceSyncEngine)
	return p.eventBus.Publish(*event)
}

// PublishSystemNotification publishes an operator-facing notice not tied to
// a specific sync invocation.
func (p *EventPublisher) PublishSystemNotification(level string, message string) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"level":   level,
		"message": message,
	}
	event := NewEvent(EventTypeSystemNotification, data, EventSourceSystem)
	return p.eventBus.Publish(*event)
}
