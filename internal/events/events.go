// Package events provides an in-process event bus used to push job and
// entity lifecycle updates to SSE subscribers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	EventJobQueued    EventType = "job.queued"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"

	EventEntityDiscovered EventType = "entity.discovered"
	EventEntityIdentified EventType = "entity.identified"
	EventEntityEnriched   EventType = "entity.enriched"
	EventEntityPublished  EventType = "entity.published"

	EventCacheGC EventType = "cache.gc"
)

// Event is one bus message. Data is marshaled to JSON for SSE delivery.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// TargetID is the job, entity, or library the event concerns.
	TargetID string `json:"target_id,omitempty"`

	// Data carries type-specific payload fields.
	Data map[string]any `json:"data,omitempty"`
}

// New creates an event with a fresh ID and timestamp.
func New(eventType EventType, targetID string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		TargetID:  targetID,
		Data:      data,
	}
}
