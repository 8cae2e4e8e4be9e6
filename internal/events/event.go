package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a step of an attempt's lifecycle.
type EventType string

const (
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptAutosaved EventType = "attempt.autosaved"
	EventAttemptSubmitted EventType = "attempt.submitted"
)

// AttemptEvent is published whenever an attempt changes state.
type AttemptEvent struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AttemptID     uuid.UUID       `json:"attempt_id"`
	ApplicationID int             `json:"application_id"`
	StudentID     int             `json:"student_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewAttemptEvent builds an event with a fresh id. data is optional and is
// marshaled as-is.
func NewAttemptEvent(t EventType, attemptID uuid.UUID, applicationID, studentID int, at time.Time, data any) (*AttemptEvent, error) {
	e := &AttemptEvent{
		ID:            uuid.NewString(),
		Type:          t,
		AttemptID:     attemptID,
		ApplicationID: applicationID,
		StudentID:     studentID,
		OccurredAt:    at.UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		e.Data = raw
	}
	return e, nil
}
