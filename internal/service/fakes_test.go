package service

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/events"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/repository"
)

func ptr[T any](v T) *T { return &v }

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

// ---------- categories ----------

type memCategories struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	nextID     int
	categories map[int]model.Category
	questions  map[int]int // question id -> company id
	links      map[[2]int]bool
}

func newMemCategories() *memCategories {
	return &memCategories{
		nextID:     100,
		categories: map[int]model.Category{},
		questions:  map[int]int{},
		links:      map[[2]int]bool{},
	}
}

func (m *memCategories) add(c model.Category) model.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return c
}

// InTx serializes whole transactions; the fake has no rollback since every
// write happens last.
func (m *memCategories) InTx(ctx context.Context, fn func(tx repository.CategoryTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *memCategories) GetByID(_ context.Context, id int) (*model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (m *memCategories) LockCategory(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (m *memCategories) ListChildIDs(_ context.Context, parentID int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for _, c := range m.categories {
		if c.ParentID != nil && *c.ParentID == parentID {
			ids = append(ids, c.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *memCategories) QuestionCompanyID(_ context.Context, questionID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	companyID, ok := m.questions[questionID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	return companyID, nil
}

func (m *memCategories) CountQuestionLinks(_ context.Context, questionID int, categoryIDs []int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range categoryIDs {
		if m.links[[2]int{questionID, id}] {
			n++
		}
	}
	return n, nil
}

func (m *memCategories) LinkQuestion(_ context.Context, questionID, categoryID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[[2]int{questionID, categoryID}] = true
	return nil
}

func (m *memCategories) UnlinkQuestion(_ context.Context, questionID, categoryID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, [2]int{questionID, categoryID})
	return nil
}

func (m *memCategories) Create(_ context.Context, c *model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	m.categories[c.ID] = *c
	return nil
}

func (m *memCategories) ListByCompany(_ context.Context, companyID int) ([]model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Category
	for _, c := range m.categories {
		if c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCategories) Delete(_ context.Context, companyID, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok || c.CompanyID != companyID {
		return pgx.ErrNoRows
	}
	delete(m.categories, id)
	for k := range m.links {
		if k[1] == id {
			delete(m.links, k)
		}
	}
	return nil
}

// ---------- questions and exams ----------

type memQuestions struct {
	mu        sync.Mutex
	questions map[int]model.Question
}

func newMemQuestions(qs ...model.Question) *memQuestions {
	m := &memQuestions{questions: map[int]model.Question{}}
	for _, q := range qs {
		m.questions[q.ID] = q
	}
	return m
}

func (m *memQuestions) ListCandidateIDs(_ context.Context, f model.QuestionFilter) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for _, q := range m.questions {
		if q.CompanyID != f.CompanyID || !q.Enabled {
			continue
		}
		if f.Type != nil && q.Type != *f.Type {
			continue
		}
		if len(f.CategoryIDs) > 0 && !slices.ContainsFunc(q.CategoryIDs, func(id int) bool {
			return slices.Contains(f.CategoryIDs, id)
		}) {
			continue
		}
		ids = append(ids, q.ID)
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *memQuestions) GetMany(_ context.Context, ids []int) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Question
	for _, id := range ids {
		if q, ok := m.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memQuestions) Create(_ context.Context, q *model.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = len(m.questions) + 1
	for i := range q.Options {
		q.Options[i].ID = q.ID*100 + i
		q.Options[i].QuestionID = q.ID
	}
	m.questions[q.ID] = *q
	return nil
}

func (m *memQuestions) SetEnabled(_ context.Context, companyID, id int, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok || q.CompanyID != companyID {
		return pgx.ErrNoRows
	}
	q.Enabled = enabled
	m.questions[id] = q
	return nil
}

func (m *memQuestions) ListByCompany(_ context.Context, companyID, limit, offset int) ([]model.Question, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Question
	for _, q := range m.questions {
		if q.CompanyID == companyID {
			all = append(all, q)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

type memExams struct {
	mu    sync.Mutex
	exams map[int]model.Exam
	rules map[int][]model.ExamRule
	next  int
}

func newMemExams() *memExams {
	return &memExams{exams: map[int]model.Exam{}, rules: map[int][]model.ExamRule{}, next: 1000}
}

func (m *memExams) GetByID(_ context.Context, id int) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (m *memExams) ListRules(_ context.Context, examID int) ([]model.ExamRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := slices.Clone(m.rules[examID])
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (m *memExams) Create(_ context.Context, e *model.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	e.ID = m.next
	m.exams[e.ID] = *e
	return nil
}

func (m *memExams) ListByCompany(_ context.Context, companyID, limit, offset int) ([]model.Exam, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Exam
	for _, e := range m.exams {
		if e.CompanyID == companyID {
			all = append(all, e)
		}
	}
	return all, len(all), nil
}

func (m *memExams) AddRule(_ context.Context, rule *model.ExamRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	rule.ID = m.next
	m.rules[rule.ExamID] = append(m.rules[rule.ExamID], *rule)
	return nil
}

func (m *memExams) DeleteRule(_ context.Context, examID, ruleID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := m.rules[examID]
	for i, r := range rules {
		if r.ID == ruleID {
			m.rules[examID] = append(rules[:i], rules[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

// ---------- applications ----------

type memApps struct {
	mu   sync.Mutex
	apps map[int]model.Application
	next int
}

func newMemApps(apps ...model.Application) *memApps {
	m := &memApps{apps: map[int]model.Application{}, next: 500}
	for _, a := range apps {
		m.apps[a.ID] = a
	}
	return m
}

func (m *memApps) GetByID(_ context.Context, id int) (*model.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &a, nil
}

func (m *memApps) Create(_ context.Context, a *model.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	a.ID = m.next
	m.apps[a.ID] = *a
	return nil
}

func (m *memApps) ListByCompany(_ context.Context, companyID, limit, offset int) ([]model.Application, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Application
	for _, a := range m.apps {
		if a.CompanyID == companyID {
			all = append(all, a)
		}
	}
	return all, len(all), nil
}

func (m *memApps) ListOpen(_ context.Context, companyID int, now time.Time) ([]model.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Application
	for _, a := range m.apps {
		if a.CompanyID == companyID && a.EndedAt.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---------- attempts ----------

type pairKey struct{ app, student int }

type memAttempts struct {
	held     atomic.Int32 // ledger callbacks currently running
	mu       sync.Mutex
	locks    map[pairKey]*sync.Mutex
	used     map[pairKey]int
	attempts map[uuid.UUID]*model.Attempt
	order    []uuid.UUID
	answers  map[uuid.UUID]map[int]model.Answer
	rowLocks []uuid.UUID // attempts locked through LockAttempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{
		locks:    map[pairKey]*sync.Mutex{},
		used:     map[pairKey]int{},
		attempts: map[uuid.UUID]*model.Attempt{},
		answers:  map[uuid.UUID]map[int]model.Answer{},
	}
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	c.Questions = slices.Clone(a.Questions)
	if a.SubmittedAt != nil {
		c.SubmittedAt = ptr(*a.SubmittedAt)
	}
	return &c
}

// WithLedger holds a per-pair mutex for the whole callback and applies the
// staged writes only when fn succeeds.
func (m *memAttempts) WithLedger(ctx context.Context, applicationID, studentID int, fn func(tx repository.LedgerTx) error) error {
	key := pairKey{applicationID, studentID}
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	m.held.Add(1)
	defer m.held.Add(-1)

	tx := &memLedgerTx{store: m, incr: map[pairKey]int{}, submits: map[uuid.UUID]time.Time{}, answers: map[uuid.UUID][]model.Answer{}}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *memAttempts) CountAttempts(_ context.Context, applicationID, studentID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[pairKey{applicationID, studentID}], nil
}

func (m *memAttempts) LatestAttempt(_ context.Context, applicationID, studentID int) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.attempts[m.order[i]]
		if a.ApplicationID == applicationID && a.StudentID == studentID {
			return m.withAnswers(a), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memAttempts) GetAttempt(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return m.withAnswers(a), nil
}

func (m *memAttempts) withAnswers(a *model.Attempt) *model.Attempt {
	c := cloneAttempt(a)
	c.Answers = map[int]model.Answer{}
	for id, ans := range m.answers[a.ID] {
		c.Answers[id] = ans
	}
	return c
}

func (m *memAttempts) InsertAttempt(_ context.Context, a *model.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = cloneAttempt(a)
	m.order = append(m.order, a.ID)
	return nil
}

func (m *memAttempts) IncrementAttempts(_ context.Context, applicationID, studentID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[pairKey{applicationID, studentID}]++
	return nil
}

func (m *memAttempts) MarkSubmitted(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok || a.SubmittedAt != nil {
		return pgx.ErrNoRows
	}
	a.SubmittedAt = ptr(at)
	return nil
}

func (m *memAttempts) UpsertAnswers(_ context.Context, attemptID uuid.UUID, answers []model.Answer, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answers[attemptID] == nil {
		m.answers[attemptID] = map[int]model.Answer{}
	}
	for _, a := range answers {
		m.answers[attemptID][a.QuestionID] = a
	}
	return nil
}

func (m *memAttempts) ListResults(_ context.Context, applicationID int) ([]repository.AttemptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.AttemptResult
	for _, id := range m.order {
		a := m.attempts[id]
		if a.ApplicationID != applicationID {
			continue
		}
		out = append(out, repository.AttemptResult{
			AttemptID:     a.ID,
			StudentID:     a.StudentID,
			InitializedAt: a.InitializedAt,
			SubmittedAt:   a.SubmittedAt,
			QuestionCount: len(a.Questions),
			AnswerCount:   len(m.answers[a.ID]),
			HasDiscursive: a.NeedsManualCorrection(),
		})
	}
	return out, nil
}

func (m *memAttempts) count(applicationID, studentID int) int {
	n, _ := m.CountAttempts(context.Background(), applicationID, studentID)
	return n
}

func (m *memAttempts) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// memLedgerTx reads committed state and stages writes until commit.
type memLedgerTx struct {
	store   *memAttempts
	inserts []*model.Attempt
	incr    map[pairKey]int
	submits map[uuid.UUID]time.Time
	answers map[uuid.UUID][]model.Answer
}

func (t *memLedgerTx) CountAttempts(ctx context.Context, applicationID, studentID int) (int, error) {
	return t.store.CountAttempts(ctx, applicationID, studentID)
}

func (t *memLedgerTx) LatestAttempt(ctx context.Context, applicationID, studentID int) (*model.Attempt, error) {
	return t.store.LatestAttempt(ctx, applicationID, studentID)
}

func (t *memLedgerTx) GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return t.store.GetAttempt(ctx, id)
}

func (t *memLedgerTx) LockAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	t.store.mu.Lock()
	t.store.rowLocks = append(t.store.rowLocks, id)
	t.store.mu.Unlock()
	return t.store.GetAttempt(ctx, id)
}

func (t *memLedgerTx) InsertAttempt(_ context.Context, a *model.Attempt) error {
	t.inserts = append(t.inserts, cloneAttempt(a))
	return nil
}

func (t *memLedgerTx) IncrementAttempts(_ context.Context, applicationID, studentID int) error {
	t.incr[pairKey{applicationID, studentID}]++
	return nil
}

func (t *memLedgerTx) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) error {
	a, err := t.store.GetAttempt(ctx, id)
	if err != nil || a.SubmittedAt != nil {
		return pgx.ErrNoRows
	}
	t.submits[id] = at
	return nil
}

func (t *memLedgerTx) UpsertAnswers(_ context.Context, attemptID uuid.UUID, answers []model.Answer, _ time.Time) error {
	t.answers[attemptID] = append(t.answers[attemptID], answers...)
	return nil
}

func (t *memLedgerTx) commit() {
	ctx := context.Background()
	for _, a := range t.inserts {
		_ = t.store.InsertAttempt(ctx, a)
	}
	for k, n := range t.incr {
		for i := 0; i < n; i++ {
			_ = t.store.IncrementAttempts(ctx, k.app, k.student)
		}
	}
	for id, answers := range t.answers {
		_ = t.store.UpsertAnswers(ctx, id, answers, time.Time{})
	}
	for id, at := range t.submits {
		_ = t.store.MarkSubmitted(ctx, id, at)
	}
}

// ---------- buffer and events ----------

type memBuffer struct {
	mu      sync.Mutex
	answers map[uuid.UUID]map[int]model.Answer
}

func newMemBuffer() *memBuffer {
	return &memBuffer{answers: map[uuid.UUID]map[int]model.Answer{}}
}

func (b *memBuffer) Put(_ context.Context, attemptID uuid.UUID, a model.Answer, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.answers[attemptID] == nil {
		b.answers[attemptID] = map[int]model.Answer{}
	}
	b.answers[attemptID][a.QuestionID] = a
	return nil
}

func (b *memBuffer) All(_ context.Context, attemptID uuid.UUID) (map[int]model.Answer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[int]model.Answer{}
	for id, a := range b.answers[attemptID] {
		out[id] = a
	}
	return out, nil
}

func (b *memBuffer) Clear(_ context.Context, attemptID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.answers, attemptID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.AttemptEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.AttemptEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
