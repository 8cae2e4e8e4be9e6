package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provalivre/exam-engine/internal/model"
)

// LedgerTx is the attempt surface available while holding the ledger lock
// of one (application, student) pair.
type LedgerTx interface {
	CountAttempts(ctx context.Context, applicationID, studentID int) (int, error)
	LatestAttempt(ctx context.Context, applicationID, studentID int) (*model.Attempt, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	LockAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	InsertAttempt(ctx context.Context, a *model.Attempt) error
	IncrementAttempts(ctx context.Context, applicationID, studentID int) error
	MarkSubmitted(ctx context.Context, id uuid.UUID, submittedAt time.Time) error
	UpsertAnswers(ctx context.Context, attemptID uuid.UUID, answers []model.Answer, savedAt time.Time) error
}

// AttemptResult is one row of an application's results listing.
type AttemptResult struct {
	AttemptID     uuid.UUID  `json:"attempt_id"`
	StudentID     int        `json:"student_id"`
	InitializedAt time.Time  `json:"initialized_at"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	QuestionCount int        `json:"question_count"`
	AnswerCount   int        `json:"answer_count"`
	HasDiscursive bool       `json:"has_discursive"`
}

// AttemptRepository handles attempt, answer and ledger data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool, db: pool}
}

// WithLedger opens a transaction, locks the ledger row of the pair (creating
// it on first use) and runs fn with a repository bound to that transaction.
// Concurrent callers for the same pair block until the holder commits or
// rolls back.
func (r *AttemptRepository) WithLedger(ctx context.Context, applicationID, studentID int, fn func(tx LedgerTx) error) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO attempt_ledger (application_id, student_id)
			 VALUES ($1, $2)
			 ON CONFLICT (application_id, student_id) DO NOTHING`,
			applicationID, studentID,
		); err != nil {
			return fmt.Errorf("ensure ledger row: %w", err)
		}

		var used int
		if err := tx.QueryRow(ctx,
			`SELECT attempts_used FROM attempt_ledger
			 WHERE application_id = $1 AND student_id = $2
			 FOR UPDATE`, applicationID, studentID,
		).Scan(&used); err != nil {
			return fmt.Errorf("lock ledger row: %w", err)
		}

		return fn(&AttemptRepository{pool: r.pool, db: tx})
	})
}

// CountAttempts returns how many attempts the student has started.
func (r *AttemptRepository) CountAttempts(ctx context.Context, applicationID, studentID int) (int, error) {
	var used int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(
		   (SELECT attempts_used FROM attempt_ledger
		    WHERE application_id = $1 AND student_id = $2), 0)`,
		applicationID, studentID,
	).Scan(&used)
	return used, err
}

// IncrementAttempts bumps the ledger counter of the pair.
func (r *AttemptRepository) IncrementAttempts(ctx context.Context, applicationID, studentID int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE attempt_ledger SET attempts_used = attempts_used + 1
		 WHERE application_id = $1 AND student_id = $2`, applicationID, studentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const attemptColumns = `id, application_id, student_id, seed, initialized_at, submitted_at, questions`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var snapshot []byte
	if err := row.Scan(&a.ID, &a.ApplicationID, &a.StudentID, &a.Seed, &a.InitializedAt, &a.SubmittedAt, &snapshot); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &a.Questions); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return a, nil
}

// LatestAttempt returns the most recently initialized attempt of the pair,
// with its answers.
func (r *AttemptRepository) LatestAttempt(ctx context.Context, applicationID, studentID int) (*model.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE application_id = $1 AND student_id = $2
		 ORDER BY initialized_at DESC
		 LIMIT 1`, applicationID, studentID))
	if err != nil {
		return nil, err
	}
	if a.Answers, err = r.listAnswers(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAttempt retrieves an attempt with its answers.
func (r *AttemptRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if a.Answers, err = r.listAnswers(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// LockAttempt is GetAttempt holding the attempt row FOR UPDATE until the
// transaction ends, which makes concurrent autosave writes wait for it. Only
// meaningful inside WithLedger.
func (r *AttemptRepository) LockAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if a.Answers, err = r.listAnswers(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// InsertAttempt persists a new attempt with its question snapshot. The
// snapshot column is never updated afterwards.
func (r *AttemptRepository) InsertAttempt(ctx context.Context, a *model.Attempt) error {
	snapshot, err := json.Marshal(a.Questions)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO attempts (id, application_id, student_id, seed, initialized_at, questions)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ApplicationID, a.StudentID, a.Seed, a.InitializedAt.UTC(), snapshot)
	return err
}

// MarkSubmitted records the submission time of an attempt.
func (r *AttemptRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, submittedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE attempts SET submitted_at = $1
		 WHERE id = $2 AND submitted_at IS NULL`, submittedAt.UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpsertAnswers writes answers of an attempt as of savedAt, replacing earlier
// versions unconditionally.
func (r *AttemptRepository) UpsertAnswers(ctx context.Context, attemptID uuid.UUID, answers []model.Answer, savedAt time.Time) error {
	if len(answers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(
			`INSERT INTO attempt_answers (attempt_id, question_id, option_ids, text, saved_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET option_ids = EXCLUDED.option_ids, text = EXCLUDED.text,
			     saved_at = EXCLUDED.saved_at, updated_at = NOW()`,
			attemptID, a.QuestionID, optionIDs(a), a.Text, savedAt.UTC())
	}
	return r.sendBatch(ctx, batch)
}

// UpsertOpenAnswer persists one autosaved answer. It holds the attempt row
// FOR SHARE, so a submission in flight is waited for, and writes nothing once
// the attempt is submitted. An existing row saved after savedAt is kept.
// written reports whether a row was inserted or updated.
func (r *AttemptRepository) UpsertOpenAnswer(ctx context.Context, attemptID uuid.UUID, a model.Answer, savedAt time.Time) (written bool, err error) {
	err = withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM attempts
			 WHERE id = $1 AND submitted_at IS NULL
			 FOR SHARE`, attemptID,
		).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock open attempt: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO attempt_answers (attempt_id, question_id, option_ids, text, saved_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET option_ids = EXCLUDED.option_ids, text = EXCLUDED.text,
			     saved_at = EXCLUDED.saved_at, updated_at = NOW()
			 WHERE attempt_answers.saved_at <= EXCLUDED.saved_at`,
			attemptID, a.QuestionID, optionIDs(a), a.Text, savedAt.UTC())
		if err != nil {
			return err
		}
		written = tag.RowsAffected() > 0
		return nil
	})
	return written, err
}

func optionIDs(a model.Answer) []int {
	if a.OptionIDs == nil {
		return []int{}
	}
	return a.OptionIDs
}

func (r *AttemptRepository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := r.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert answer %d: %w", i, err)
		}
	}
	return br.Close()
}

func (r *AttemptRepository) listAnswers(ctx context.Context, attemptID uuid.UUID) (map[int]model.Answer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT question_id, option_ids, text
		 FROM attempt_answers
		 WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[int]model.Answer)
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.OptionIDs, &a.Text); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers[a.QuestionID] = a
	}
	return answers, rows.Err()
}

// ListResults returns every attempt of an application with answer counts,
// ordered by student then start time.
func (r *AttemptRepository) ListResults(ctx context.Context, applicationID int) ([]AttemptResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.id, a.student_id, a.initialized_at, a.submitted_at,
		        jsonb_array_length(a.questions),
		        (SELECT COUNT(*) FROM attempt_answers aa WHERE aa.attempt_id = a.id),
		        jsonb_path_exists(a.questions, '$[*] ? (@.type == "discursive")')
		 FROM attempts a
		 WHERE a.application_id = $1
		 ORDER BY a.student_id, a.initialized_at`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AttemptResult
	for rows.Next() {
		var res AttemptResult
		if err := rows.Scan(&res.AttemptID, &res.StudentID, &res.InitializedAt, &res.SubmittedAt,
			&res.QuestionCount, &res.AnswerCount, &res.HasDiscursive); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
