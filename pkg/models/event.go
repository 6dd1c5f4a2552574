package models

import "time"

// EventKind names a step of the relay cycle
type EventKind string

const (
	EventCycleStarted     EventKind = "cycle_started"
	EventImageArchived    EventKind = "image_archived"
	EventFetchFailed      EventKind = "fetch_failed"
	EventDirectoryFailed  EventKind = "directory_failed"
	EventConnectionFailed EventKind = "connection_failed"
	EventImagePosted      EventKind = "image_posted"
	EventTransferFailed   EventKind = "transfer_failed"
	EventCycleFinished    EventKind = "cycle_finished"
)

// CycleEvent is a status notification emitted by the relay controller.
// Observers receive these; they never influence control flow.
type CycleEvent struct {
	// Unique identifier of the cycle that produced this event
	CycleID string `json:"cycle_id"`

	Kind EventKind `json:"kind"`

	// Timestamp when the event happened
	Timestamp time.Time `json:"timestamp"`

	// Camera name, empty for cycle-level events
	Camera string `json:"camera,omitempty"`

	// Local archive path for image_archived, remote path for image_posted
	Path string `json:"path,omitempty"`

	// Error text for *_failed events
	Error string `json:"error,omitempty"`

	// Duration of the phase or cycle, set on cycle_finished
	Duration time.Duration `json:"duration,omitempty"`

	// NextCycle is when the next cycle starts, set on cycle_finished
	NextCycle *time.Time `json:"next_cycle,omitempty"`
}
