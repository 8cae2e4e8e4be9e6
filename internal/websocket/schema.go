package websocket

import (
	"time"

	"github.com/provalivre/exam-engine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionState    Action = "state"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message. Fields beyond Action are read
// according to the action.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QuestionID int    `json:"question_id,omitempty"`
	OptionIDs  []int  `json:"option_ids,omitempty"`
	Text       string `json:"text,omitempty"`

	// submit; overrides autosaved answers
	Answers []model.Answer `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventState     Event = "state"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event      Event `json:"event"`
	QuestionID int   `json:"question_id"`
}

type SubmittedResponse struct {
	Event      Event                   `json:"event"`
	Submission *model.SubmissionResult `json:"submission"`
}

type StateResponse struct {
	Event    Event                   `json:"event"`
	Status   model.ApplicationStatus `json:"status"`
	Deadline *time.Time              `json:"deadline,omitempty"`
	// RemainingSeconds is present while the attempt is running with a deadline.
	RemainingSeconds *int64 `json:"remaining_seconds,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
