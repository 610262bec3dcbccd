package analysis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medflow/medflow/internal/domain/patient"
	"github.com/medflow/medflow/internal/platform/completion"
	"github.com/medflow/medflow/internal/platform/quota"
)

// -- Mock Repository --

type mockRepo struct {
	mu        sync.Mutex
	analyses  map[uuid.UUID]*Analysis
	todos     map[uuid.UUID]*TodoItem
	createErr error
	clock     time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		analyses: make(map[uuid.UUID]*Analysis),
		todos:    make(map[uuid.UUID]*TodoItem),
		clock:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

// tick keeps created_at strictly increasing so ordering is deterministic.
func (m *mockRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *mockRepo) Create(_ context.Context, a *Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, ex := range m.analyses {
		if ex.DeletedAt == nil && ex.PatientHistoryID == a.PatientHistoryID && ex.AnalysisVersion == a.AnalysisVersion {
			return ErrConflict
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = m.tick()
	a.UpdatedAt = a.CreatedAt
	m.analyses[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Analysis
	for _, a := range m.analyses {
		if a.PatientHistoryID == patientID && a.DeletedAt == nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.DeletedAt != nil {
		return ErrNotFound
	}
	now := m.tick()
	a.DeletedAt = &now
	return nil
}

func (m *mockRepo) CountByUser(_ context.Context, userID uuid.UUID, since time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total, recent int
	for _, a := range m.analyses {
		if a.UserID != userID || a.DeletedAt != nil {
			continue
		}
		total++
		if !a.CreatedAt.Before(since) {
			recent++
		}
	}
	return total, recent, nil
}

func (m *mockRepo) CreateTodos(_ context.Context, items []*TodoItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range items {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		m.todos[t.ID] = t
	}
	return nil
}

func (m *mockRepo) ListTodos(_ context.Context, analysisID uuid.UUID) ([]*TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TodoItem
	for _, t := range m.todos {
		if t.AnalysisID == analysisID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *mockRepo) GetTodo(_ context.Context, id uuid.UUID) (*TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.todos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *mockRepo) SetTodoCompleted(_ context.Context, id uuid.UUID, completed bool, at time.Time) (*TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.todos[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.IsCompleted = completed
	if completed {
		t.CompletedAt = &at
	} else {
		t.CompletedAt = nil
	}
	return t, nil
}

func (m *mockRepo) RecountCompleted(_ context.Context, analysisID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[analysisID]
	if !ok {
		return 0, ErrNotFound
	}
	n := 0
	for _, t := range m.todos {
		if t.AnalysisID == analysisID && t.IsCompleted {
			n++
		}
	}
	a.CompletedItems = n
	return n, nil
}

// -- Mock PatientStore --

type mockPatients struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*patient.PatientHistory
	statuses []string
	counts   patient.Counts
}

func newMockPatients() *mockPatients {
	return &mockPatients{byID: make(map[uuid.UUID]*patient.PatientHistory)}
}

func (m *mockPatients) add(userID uuid.UUID) *patient.PatientHistory {
	p := &patient.PatientHistory{
		ID:          uuid.New(),
		UserID:      userID,
		PatientName: "Juma Otieno",
		HistoryText: "68M with progressive abdominal distension, pedal edema and appetite loss. Known HTN. Hb 9.1, AST 85.",
		Status:      patient.StatusSubmitted,
		Metadata:    map[string]interface{}{},
	}
	m.byID[p.ID] = p
	return p
}

func (m *mockPatients) Get(_ context.Context, userID, id uuid.UUID) (*patient.PatientHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.UserID != userID {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (m *mockPatients) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return patient.ErrNotFound
	}
	p.Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockPatients) Counts(context.Context, uuid.UUID) (patient.Counts, error) {
	return m.counts, nil
}

// -- Fake Completer --

const cannedReply = "```json\n" + `{
  "risk_level": "High",
  "gaps_in_history": {
    "missing_information": ["Alcohol intake"],
    "follow_up_questions": ["Any hematemesis?"],
    "physical_exam_checklist": ["Shifting dullness (ascites)"]
  },
  "test_interpretation": [
    {"number": 1, "test_name": "CBC", "deranged_parameters": ["Hb 9.1 g/dL"],
     "normal_parameters_assumed": "All other CBC parameters assumed normal",
     "interpretation": "Normocytic anemia"}
  ],
  "impressions": ["Decompensated liver cirrhosis"],
  "differential_diagnoses": [
    {"diagnosis": "Hepatocellular carcinoma", "supporting_evidence": "Age, ascites", "against_evidence": "No mass described"}
  ],
  "confirmatory_tests": [{"test": "Ultrasound abdomen", "rationale": "Characterise liver and ascites"}],
  "management_plan": {
    "current_plan_analysis": "No current management plan documented.",
    "recommended_plan": [{"step": "Spironolactone 100mg PO OD", "rationale": "Ascites"}],
    "adjustments_based_on_status": "Escalate if creatinine rises"
  },
  "complications": [{"complication": "SBP", "prevention_plan": "Repeat CBC daily"}],
  "summary": "Elderly male with ascites. Order a complete CBC.",
  "todo_items": [
    {"title": "Examine for shifting dullness", "priority": "high", "category": "physical_examination"},
    {"title": "Start spironolactone", "description": "100mg PO OD", "priority": "urgent", "category": "management_plan"},
    {"title": "Monitor renal function tests", "priority": "whenever", "category": "follow_up"}
  ]
}` + "\n```"

type fakeCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	messages [][]completion.Message
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []completion.Message) (*completion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = append(f.messages, msgs)
	if f.err != nil {
		return nil, f.err
	}
	reply := f.reply
	if reply == "" {
		reply = cannedReply
	}
	return &completion.Result{Content: reply, Model: "anthropic/claude-sonnet-4"}, nil
}

func (f *fakeCompleter) Model() string { return "anthropic/claude-sonnet-4" }

func (f *fakeCompleter) lastUserMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	msgs := f.messages[len(f.messages)-1]
	return msgs[len(msgs)-1].Content
}

// -- Mock quota --

type mockLimiter struct {
	mu       sync.Mutex
	limit    int
	used     int
	released int
}

func (l *mockLimiter) Reserve(context.Context, uuid.UUID) (quota.Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit > 0 && l.used >= l.limit {
		return quota.Usage{}, quota.ErrQuotaExceeded
	}
	l.used++
	return quota.Usage{Used: int64(l.used), Limit: int64(l.limit)}, nil
}

func (l *mockLimiter) Release(context.Context, uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used--
	l.released++
}

var errUpstream = errors.New("upstream 503")

type testEnv struct {
	svc       *Service
	repo      *mockRepo
	patients  *mockPatients
	completer *fakeCompleter
	limiter   *mockLimiter
	txCalls   int
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:      newMockRepo(),
		patients:  newMockPatients(),
		completer: &fakeCompleter{},
		limiter:   &mockLimiter{},
	}
	withTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		env.txCalls++
		return fn(ctx)
	}
	env.svc = NewService(env.repo, env.patients, env.completer, env.limiter, withTx, zerolog.Nop(), nil)
	env.svc.now = func() time.Time { return env.repo.clock }
	return env
}
