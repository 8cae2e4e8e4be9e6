package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/provalivre/exam-engine/internal/events"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppID   = 77
	testStudent = 501
)

type stubResolver struct {
	questions []model.ResolvedQuestion
	err       error
	calls     int
	mu        sync.Mutex
}

func (r *stubResolver) ResolveQuestionSet(_ context.Context, _ int, _ int64) ([]model.ResolvedQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]model.ResolvedQuestion, len(r.questions))
	copy(out, r.questions)
	return out, nil
}

func snapshotQuestions(withDiscursive bool) []model.ResolvedQuestion {
	qs := []model.ResolvedQuestion{{
		QuestionID: 1, RuleID: 1, Position: 1, Type: model.QuestionTypeOptions, Description: "2+2?", Score: 2,
		Options: []model.QuestionOption{
			{ID: 11, QuestionID: 1, Description: "4", IsCorrect: true},
			{ID: 12, QuestionID: 1, Description: "5"},
		},
	}}
	if withDiscursive {
		qs = append(qs, model.ResolvedQuestion{
			QuestionID: 2, RuleID: 2, Position: 2, Type: model.QuestionTypeDiscursive,
			Description: "Explain.", MaxLength: ptr(10), Score: 3,
		})
	}
	return qs
}

type attemptFixture struct {
	svc      *AttemptService
	apps     *memApps
	store    *memAttempts
	buffer   *memBuffer
	resolver *stubResolver
	events   *recordingPublisher
	now      time.Time
}

func newAttemptFixture(t *testing.T, app model.Application, withDiscursive bool) *attemptFixture {
	t.Helper()
	f := &attemptFixture{
		apps:     newMemApps(app),
		store:    newMemAttempts(),
		buffer:   newMemBuffer(),
		resolver: &stubResolver{questions: snapshotQuestions(withDiscursive)},
		events:   &recordingPublisher{},
		now:      app.StartedAt.Add(10 * time.Minute),
	}
	f.svc = NewAttemptService(f.apps, f.store, f.resolver, f.buffer, f.events, true, zerolog.Nop())
	f.setNow(f.now)
	return f
}

func (f *attemptFixture) setNow(now time.Time) {
	f.now = now
	f.svc.clock = fixedClock(now)
	f.svc.ledger.clock = f.svc.clock
}

func (f *attemptFixture) advance(d time.Duration) {
	f.setNow(f.now.Add(d))
}

func openApplication() model.Application {
	return model.Application{
		ID:        testAppID,
		CompanyID: companyA,
		ExamID:    testExamID,
		StartedAt: windowStart,
		EndedAt:   windowEnd,
		Attempts:  2,
		LimitTime: ptr(30),
	}
}

func TestStartAttempt(t *testing.T) {
	ctx := context.Background()

	t.Run("creates snapshot and counts the attempt", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)

		attempt, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, attempt.ID)
		assert.Equal(t, SeedFromAttemptID(attempt.ID), attempt.Seed)
		assert.Equal(t, f.now, attempt.InitializedAt)
		assert.Len(t, attempt.Questions, 1)
		assert.Equal(t, 1, f.store.count(testAppID, testStudent))
		assert.Equal(t, []events.EventType{events.EventAttemptStarted}, f.events.types())

		running, err := f.svc.Ledger().HasRunningAttempt(ctx, &model.Application{ID: testAppID, StartedAt: windowStart, EndedAt: windowEnd, LimitTime: ptr(30)}, testStudent)
		require.NoError(t, err)
		assert.True(t, running)
	})

	t.Run("before the window", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		f.setNow(windowStart.Add(-time.Second))

		_, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		assert.ErrorIs(t, err, ErrApplicationNotStarted)
		assert.Equal(t, 0, f.store.count(testAppID, testStudent))
	})

	t.Run("after the window", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		f.setNow(windowEnd.Add(time.Second))

		_, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		assert.ErrorIs(t, err, ErrApplicationEnded)
	})

	t.Run("unknown application", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		_, err := f.svc.StartAttempt(ctx, 404, testStudent)
		assert.ErrorIs(t, err, ErrApplicationNotFound)
	})

	t.Run("second start while running", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		first, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)

		f.advance(5 * time.Minute)
		_, err = f.svc.StartAttempt(ctx, testAppID, testStudent)

		var rerr *RunningAttemptError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, first.ID, rerr.AttemptID)
		assert.ErrorIs(t, err, ErrRunningAttempt)
		assert.Equal(t, 1, f.store.count(testAppID, testStudent))
	})

	t.Run("running check precedes attempts check", func(t *testing.T) {
		app := openApplication()
		app.Attempts = 1
		f := newAttemptFixture(t, app, false)
		_, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)

		_, err = f.svc.StartAttempt(ctx, testAppID, testStudent)
		assert.ErrorIs(t, err, ErrRunningAttempt)
	})

	t.Run("attempts exhausted after submission", func(t *testing.T) {
		app := openApplication()
		app.Attempts = 1
		f := newAttemptFixture(t, app, false)
		a, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)
		_, err = f.svc.SubmitAttempt(ctx, a.ID, testStudent, nil)
		require.NoError(t, err)

		_, err = f.svc.StartAttempt(ctx, testAppID, testStudent)
		var nerr *NoAttemptsLeftError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, NoAttemptsLeftError{Used: 1, Allowed: 1}, *nerr)
		assert.ErrorIs(t, err, ErrNoAttemptsLeft)
	})

	t.Run("restart after expiry when allowed", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		first, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)

		f.advance(31 * time.Minute)
		second, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 2, f.store.count(testAppID, testStudent))

		f.advance(31 * time.Minute)
		_, err = f.svc.StartAttempt(ctx, testAppID, testStudent)
		assert.ErrorIs(t, err, ErrNoAttemptsLeft)
	})

	t.Run("restart after expiry when disallowed", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		f.svc.allowRestartAfterExpiry = false
		_, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)

		f.advance(31 * time.Minute)
		_, err = f.svc.StartAttempt(ctx, testAppID, testStudent)
		assert.ErrorIs(t, err, ErrNoAttemptsLeft)
		assert.Equal(t, 1, f.store.count(testAppID, testStudent))
	})

	t.Run("resolver failure leaves no trace", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		f.resolver.err = &InsufficientQuestionsError{RuleID: 3, Requested: 5, Available: 2}

		_, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		var ierr *InsufficientQuestionsError
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, 0, f.store.count(testAppID, testStudent))
		assert.Equal(t, 0, f.store.total())
		assert.Empty(t, f.events.types())
	})

	t.Run("students are independent", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		_, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)
		_, err = f.svc.StartAttempt(ctx, testAppID, testStudent+1)
		assert.NoError(t, err)
	})
}

func TestStartAttemptConcurrentRace(t *testing.T) {
	ctx := context.Background()
	app := openApplication()
	app.Attempts = 3
	f := newAttemptFixture(t, app, false)

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		running   int
		other     []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrRunningAttempt):
				running++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, running)
	assert.Empty(t, other)
	assert.Equal(t, 1, f.store.count(testAppID, testStudent))
	assert.Equal(t, 1, f.store.total())
}

// lockFreeResolver fails whenever it is called while any ledger transaction
// is open, as a real resolver would wait for a pool connection held by it.
type lockFreeResolver struct {
	stubResolver
	store *memAttempts
}

func (r *lockFreeResolver) ResolveQuestionSet(ctx context.Context, examID int, seed int64) ([]model.ResolvedQuestion, error) {
	if r.store.held.Load() > 0 {
		return nil, errors.New("resolver queried the database while the ledger was held")
	}
	return r.stubResolver.ResolveQuestionSet(ctx, examID, seed)
}

func TestStartAttemptResolvesOutsideLedger(t *testing.T) {
	ctx := context.Background()
	app := openApplication()
	app.Attempts = 2
	f := newAttemptFixture(t, app, false)
	resolver := &lockFreeResolver{stubResolver: stubResolver{questions: snapshotQuestions(false)}, store: f.store}
	svc := NewAttemptService(f.apps, f.store, resolver, f.buffer, f.events, true, zerolog.Nop())
	svc.clock = fixedClock(f.now)
	svc.ledger.clock = svc.clock

	a, err := svc.StartAttempt(ctx, testAppID, testStudent)
	require.NoError(t, err)
	assert.Len(t, a.Questions, 1)
	assert.Equal(t, SeedFromAttemptID(a.ID), a.Seed)

	for student := testStudent + 1; student <= testStudent+3; student++ {
		_, err := svc.StartAttempt(ctx, testAppID, student)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, f.store.total())
	assert.Equal(t, 4, resolver.calls)

	// A rejected start never reaches the resolver.
	_, err = svc.StartAttempt(ctx, testAppID, testStudent)
	assert.ErrorIs(t, err, ErrRunningAttempt)
	assert.Equal(t, 4, resolver.calls)
}

// A start that loses the race after resolving leaves no trace.
func TestStartAttemptLoserDiscardsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newAttemptFixture(t, openApplication(), false)

	first, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
	require.NoError(t, err)

	// Simulate the winner committing between the loser's pre-check and lock.
	app := openApplication()
	err = f.store.WithLedger(ctx, testAppID, testStudent, func(tx repository.LedgerTx) error {
		return f.svc.checkStart(ctx, tx, &app, testStudent, f.now)
	})
	var running *RunningAttemptError
	require.ErrorAs(t, err, &running)
	assert.Equal(t, first.ID, running.AttemptID)
	assert.Equal(t, 1, f.store.total())
	assert.Equal(t, 1, f.store.count(testAppID, testStudent))
}

func TestSubmitAttempt(t *testing.T) {
	ctx := context.Background()

	start := func(t *testing.T, f *attemptFixture) *model.Attempt {
		t.Helper()
		a, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)
		return a
	}

	t.Run("options only attempt becomes submitted", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		a := start(t, f)
		f.advance(5 * time.Minute)

		res, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, []model.Answer{{QuestionID: 1, OptionIDs: []int{11}}})
		require.NoError(t, err)
		assert.Equal(t, model.StatusSubmitted, res.Status)
		assert.Equal(t, f.now, res.SubmittedAt)
		assert.Equal(t, 1, res.AnsweredCount)
		assert.Equal(t, 1, res.QuestionCount)

		stored, err := f.store.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.SubmittedAt)
		assert.Equal(t, []int{11}, stored.Answers[1].OptionIDs)
		assert.Equal(t, []uuid.UUID{a.ID}, f.store.rowLocks, "submission must hold the attempt row")
		assert.Equal(t, []events.EventType{events.EventAttemptStarted, events.EventAttemptSubmitted}, f.events.types())
	})

	t.Run("discursive attempt awaits correction", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), true)
		a := start(t, f)

		res, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, []model.Answer{{QuestionID: 2, Text: "because"}})
		require.NoError(t, err)
		assert.Equal(t, model.StatusAwaitingCorrection, res.Status)
	})

	t.Run("autosaved answers are merged and explicit ones win", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), true)
		a := start(t, f)

		require.NoError(t, f.svc.SaveAnswer(ctx, a.ID, testStudent, model.Answer{QuestionID: 1, OptionIDs: []int{12}}))
		require.NoError(t, f.svc.SaveAnswer(ctx, a.ID, testStudent, model.Answer{QuestionID: 2, Text: "draft"}))

		res, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, []model.Answer{{QuestionID: 2, Text: "final"}})
		require.NoError(t, err)
		assert.Equal(t, 2, res.AnsweredCount)

		stored, err := f.store.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{12}, stored.Answers[1].OptionIDs)
		assert.Equal(t, "final", stored.Answers[2].Text)

		buffered, _ := f.buffer.All(ctx, a.ID)
		assert.Empty(t, buffered)
	})

	t.Run("second submit", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		a := start(t, f)
		_, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, nil)
		require.NoError(t, err)

		_, err = f.svc.SubmitAttempt(ctx, a.ID, testStudent, nil)
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
	})

	t.Run("after the time limit", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		a := start(t, f)
		f.advance(31 * time.Minute)

		_, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, nil)
		assert.ErrorIs(t, err, ErrExpiredAttempt)

		stored, err := f.store.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.SubmittedAt)
	})

	t.Run("after the window closed", func(t *testing.T) {
		app := openApplication()
		app.LimitTime = nil
		f := newAttemptFixture(t, app, false)
		a := start(t, f)
		f.setNow(windowEnd.Add(time.Minute))

		_, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, nil)
		assert.ErrorIs(t, err, ErrApplicationEnded)
	})

	t.Run("someone else's attempt", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		a := start(t, f)

		_, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent+1, nil)
		assert.ErrorIs(t, err, ErrAttemptNotFound)
		_, err = f.svc.SubmitAttempt(ctx, uuid.New(), testStudent, nil)
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("invalid answers are rejected", func(t *testing.T) {
		tests := []struct {
			name   string
			answer model.Answer
		}{
			{"question outside snapshot", model.Answer{QuestionID: 99, OptionIDs: []int{11}}},
			{"option of another question", model.Answer{QuestionID: 1, OptionIDs: []int{21}}},
			{"repeated option", model.Answer{QuestionID: 1, OptionIDs: []int{11, 11}}},
			{"text for options question", model.Answer{QuestionID: 1, Text: "4"}},
			{"options for discursive question", model.Answer{QuestionID: 2, OptionIDs: []int{11}}},
			{"text over max length", model.Answer{QuestionID: 2, Text: strings.Repeat("é", 11)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newAttemptFixture(t, openApplication(), true)
				a := start(t, f)

				_, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, []model.Answer{tt.answer})
				assert.ErrorIs(t, err, ErrInvalidAnswer)

				stored, err := f.store.GetAttempt(ctx, a.ID)
				require.NoError(t, err)
				assert.Nil(t, stored.SubmittedAt)
			})
		}
	})

	t.Run("text at max length is accepted", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), true)
		a := start(t, f)
		_, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, []model.Answer{{QuestionID: 2, Text: strings.Repeat("é", 10)}})
		assert.NoError(t, err)
	})

	t.Run("duplicate answers for a question", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		a := start(t, f)
		_, err := f.svc.SubmitAttempt(ctx, a.ID, testStudent, []model.Answer{
			{QuestionID: 1, OptionIDs: []int{11}},
			{QuestionID: 1, OptionIDs: []int{12}},
		})
		assert.ErrorIs(t, err, ErrInvalidAnswer)
	})
}

func TestSaveAnswer(t *testing.T) {
	ctx := context.Background()
	f := newAttemptFixture(t, openApplication(), true)
	a, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
	require.NoError(t, err)

	require.NoError(t, f.svc.SaveAnswer(ctx, a.ID, testStudent, model.Answer{QuestionID: 2, Text: "hello"}))
	buffered, _ := f.buffer.All(ctx, a.ID)
	assert.Equal(t, "hello", buffered[2].Text)

	assert.ErrorIs(t, f.svc.SaveAnswer(ctx, a.ID, testStudent, model.Answer{QuestionID: 2, Text: "far too long text"}), ErrInvalidAnswer)
	assert.ErrorIs(t, f.svc.SaveAnswer(ctx, a.ID, testStudent+1, model.Answer{QuestionID: 2}), ErrAttemptNotFound)

	f.advance(31 * time.Minute)
	assert.ErrorIs(t, f.svc.SaveAnswer(ctx, a.ID, testStudent, model.Answer{QuestionID: 2, Text: "late"}), ErrExpiredAttempt)
}

func TestCurrentState(t *testing.T) {
	ctx := context.Background()
	f := newAttemptFixture(t, openApplication(), false)

	state, err := f.svc.CurrentState(ctx, testAppID, testStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStarted, state.Status)
	assert.True(t, state.CanStart)
	assert.Nil(t, state.Attempt)

	a, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
	require.NoError(t, err)
	require.NoError(t, f.svc.SaveAnswer(ctx, a.ID, testStudent, model.Answer{QuestionID: 1, OptionIDs: []int{11}}))
	f.advance(10 * time.Minute)

	state, err = f.svc.CurrentState(ctx, testAppID, testStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInitialized, state.Status)
	assert.False(t, state.CanStart)
	assert.Equal(t, 1, state.AttemptsUsed)
	require.NotNil(t, state.RemainingSeconds)
	assert.Equal(t, int64(20*60), *state.RemainingSeconds)
	require.NotNil(t, state.Attempt)
	assert.Len(t, state.Attempt.Answers, 1, "autosaved answers are visible before submission")

	f.advance(25 * time.Minute)
	state, err = f.svc.CurrentState(ctx, testAppID, testStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, state.Status)
	assert.True(t, state.CanStart)
	assert.Nil(t, state.RemainingSeconds)

	stored, err := f.store.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SubmittedAt, "expiry is derived, never written")
}

func TestAttemptView(t *testing.T) {
	ctx := context.Background()

	t.Run("hides grading data while running", func(t *testing.T) {
		app := openApplication()
		app.ShowAnswers = true
		f := newAttemptFixture(t, app, false)
		a, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)

		view, err := f.svc.AttemptView(ctx, a.ID, testStudent)
		require.NoError(t, err)
		require.Len(t, view.Questions, 1)
		assert.Nil(t, view.Questions[0].Score)
		for _, o := range view.Questions[0].Options {
			assert.Nil(t, o.IsCorrect)
		}
		require.NotNil(t, view.Deadline)
		assert.Equal(t, a.InitializedAt.Add(30*time.Minute), *view.Deadline)
	})

	t.Run("reveals answers and scores after submission when allowed", func(t *testing.T) {
		app := openApplication()
		app.ShowAnswers = true
		app.ShowScores = true
		f := newAttemptFixture(t, app, false)
		a, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)
		_, err = f.svc.SubmitAttempt(ctx, a.ID, testStudent, []model.Answer{{QuestionID: 1, OptionIDs: []int{12}}})
		require.NoError(t, err)

		view, err := f.svc.AttemptView(ctx, a.ID, testStudent)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSubmitted, view.Status)
		require.NotNil(t, view.Questions[0].Score)
		assert.Equal(t, 2.0, *view.Questions[0].Score)
		require.NotNil(t, view.Questions[0].Options[0].IsCorrect)
		assert.True(t, *view.Questions[0].Options[0].IsCorrect)
		assert.Nil(t, view.Deadline)
		assert.Equal(t, []model.Answer{{QuestionID: 1, OptionIDs: []int{12}}}, view.Answers)
	})

	t.Run("keeps answers hidden when not allowed", func(t *testing.T) {
		f := newAttemptFixture(t, openApplication(), false)
		a, err := f.svc.StartAttempt(ctx, testAppID, testStudent)
		require.NoError(t, err)
		_, err = f.svc.SubmitAttempt(ctx, a.ID, testStudent, nil)
		require.NoError(t, err)

		view, err := f.svc.AttemptView(ctx, a.ID, testStudent)
		require.NoError(t, err)
		assert.Nil(t, view.Questions[0].Options[0].IsCorrect)
		assert.Nil(t, view.Questions[0].Score)
	})
}
