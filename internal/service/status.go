package service

import (
	"time"

	"github.com/provalivre/exam-engine/internal/model"
)

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

// DeriveStatus computes the lifecycle status of a student's application from
// its schedule and the latest attempt (nil when none exists). It reads no
// state besides its arguments.
//
// Precedence: the window opening beats everything, a submitted attempt stays
// submitted after the window closes, and a closed window beats per-attempt
// expiry.
func DeriveStatus(app *model.Application, attempt *model.Attempt, now time.Time) model.ApplicationStatus {
	if now.Before(app.StartedAt) {
		return model.StatusWaiting
	}

	if attempt != nil && attempt.Submitted() {
		if attempt.NeedsManualCorrection() {
			return model.StatusAwaitingCorrection
		}
		return model.StatusSubmitted
	}

	if now.After(app.EndedAt) {
		return model.StatusEnded
	}

	if attempt == nil {
		return model.StatusStarted
	}

	if expired(app, attempt, now) {
		return model.StatusExpired
	}
	return model.StatusInitialized
}

func expired(app *model.Application, attempt *model.Attempt, now time.Time) bool {
	limit := app.TimeLimit()
	return limit > 0 && now.Sub(attempt.InitializedAt) > limit
}

// Deadline returns the instant an unsubmitted attempt stops accepting work:
// the earlier of its time limit and the end of the window.
func Deadline(app *model.Application, attempt *model.Attempt) time.Time {
	deadline := app.EndedAt
	if limit := app.TimeLimit(); limit > 0 {
		if d := attempt.InitializedAt.Add(limit); d.Before(deadline) {
			deadline = d
		}
	}
	return deadline
}

// IsRunning reports whether an attempt still blocks a new start.
func IsRunning(app *model.Application, attempt *model.Attempt, now time.Time) bool {
	return attempt != nil && DeriveStatus(app, attempt, now) == model.StatusInitialized
}
