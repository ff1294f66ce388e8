// Package realtime provides a real-time event broadcasting system for
// observers of a running upstream sync (spec §5: "progress events are
// single-producer per operation; subscribers must not block the producer").
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event type (sync_started, batch_fetched, anchor_committed, etc.)
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the event source (sync_engine, system)
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants for sync-engine progress events.
const (
	// EventTypeSyncStarted marks the beginning of a sync invocation.
	EventTypeSyncStarted = "sync_started"

	// EventTypeAuthExchanged marks a successful auth state transition
	// (HaveAuthInfo/HaveAuthCookie/HaveAccessCookie).
	EventTypeAuthExchanged = "auth_exchanged"

	// EventTypeBatchFetched marks one GetRevisionIdList/GetUpdateData batch
	// landing in the metadata store.
	EventTypeBatchFetched = "batch_fetched"

	// EventTypeRetryScheduled marks a retry after a transient upstream fault.
	EventTypeRetryScheduled = "retry_scheduled"

	// EventTypeAnchorCommitted marks a new delta anchor durably recorded.
	EventTypeAnchorCommitted = "anchor_committed"

	// EventTypeSyncCompleted marks a sync invocation finishing, successfully
	// or not (see the event Data's "error" key).
	EventTypeSyncCompleted = "sync_completed"

	// EventTypeSystemNotification carries operator-facing notices not tied
	// to a specific sync invocation.
	EventTypeSystemNotification = "system_notification"
)

// EventSource constants.
const (
	EventSourceSyncEngine = "sync_engine"
	EventSourceSystem     = "system"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // Will be set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
