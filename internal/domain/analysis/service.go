package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medflow/medflow/internal/domain/patient"
	"github.com/medflow/medflow/internal/domain/report"
	"github.com/medflow/medflow/internal/platform/completion"
	"github.com/medflow/medflow/internal/platform/db"
	"github.com/medflow/medflow/internal/platform/metrics"
	"github.com/medflow/medflow/internal/platform/quota"
)

var (
	ErrNotFound   = errors.New("analysis not found")
	ErrForbidden  = errors.New("analysis does not belong to user")
	ErrConflict   = errors.New("analysis already exists")
	ErrValidation = errors.New("validation failed")
	// ErrGeneration wraps completion failures and unusable replies.
	ErrGeneration = errors.New("analysis generation failed")
)

// Metric labels for RecordAnalysis.
const (
	kindAdmission  = "admission"
	kindDaily      = "daily"
	kindRegenerate = "regenerate"
)

// PatientStore is the part of the patient service analyses depend on.
type PatientStore interface {
	Get(ctx context.Context, userID, id uuid.UUID) (*patient.PatientHistory, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	Counts(ctx context.Context, userID uuid.UUID) (patient.Counts, error)
}

// Completer produces the model reply. *completion.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (*completion.Result, error)
	Model() string
}

// DailyNoteRequest is the body of POST /patients/:id/daily-note.
type DailyNoteRequest struct {
	ProgressNotes string `json:"progress_notes" validate:"required,min=10"`
	DayNumber     int    `json:"day_number" validate:"required,min=1"`
}

// ToggleTodoRequest is the body of PATCH /analyses/:id/todos. is_checked is
// accepted as an alias of is_completed.
type ToggleTodoRequest struct {
	TodoItemID  uuid.UUID `json:"todo_item_id"`
	IsCompleted *bool     `json:"is_completed"`
	IsChecked   *bool     `json:"is_checked,omitempty"`
}

// ToggleResult reports the item and the analysis progress after a toggle.
type ToggleResult struct {
	Item           *TodoItem `json:"todo_item"`
	CompletedItems int       `json:"completed_items"`
	TotalItems     int       `json:"total_items"`
}

// Service generates, stores and tracks clinical analyses.
type Service struct {
	repo      Repository
	patients  PatientStore
	completer Completer
	quota     quota.Limiter
	withTx    db.TxFunc
	metrics   *metrics.Collector
	validate  *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a new analysis service. limiter, withTx and m may be nil.
func NewService(repo Repository, patients PatientStore, completer Completer, limiter quota.Limiter,
	withTx db.TxFunc, logger zerolog.Logger, m *metrics.Collector) *Service {
	if limiter == nil {
		limiter = quota.Nop{}
	}
	if withTx == nil {
		withTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		repo:      repo,
		patients:  patients,
		completer: completer,
		quota:     limiter,
		withTx:    withTx,
		metrics:   m,
		validate:  validator.New(),
		logger:    logger.With().Str("component", "analysis").Logger(),
		now:       time.Now,
	}
}

// generated is a parsed completion ready to be stored.
type generated struct {
	resp    *Response
	report  string
	model   string
	elapsed time.Duration
}

func (s *Service) generate(ctx context.Context, messages []completion.Message, daily bool) (*generated, error) {
	start := s.now()
	res, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	resp, err := ParseResponse(res.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	model := res.Model
	if model == "" {
		model = s.completer.Model()
	}
	return &generated{
		resp:    resp,
		report:  BuildReport(resp, daily),
		model:   model,
		elapsed: s.now().Sub(start),
	}, nil
}

// newAnalysis turns g into unsaved rows for the given patient and version.
func (s *Service) newAnalysis(g *generated, userID, patientID uuid.UUID, version string) (*Analysis, []*TodoItem, error) {
	todoJSON, err := json.Marshal(g.resp.TodoItems)
	if err != nil {
		return nil, nil, fmt.Errorf("encode todo list: %w", err)
	}
	a := &Analysis{
		ID:               uuid.New(),
		PatientHistoryID: patientID,
		UserID:           userID,
		TodoListJSON:     todoJSON,
		RawAnalysisText:  g.report,
		ModelUsed:        g.model,
		AnalysisVersion:  version,
		ProcessingTimeMS: int(g.elapsed / time.Millisecond),
		TotalItems:       len(g.resp.TodoItems),
		Summary:          g.resp.Summary,
		RiskLevel:        g.resp.RiskLevel,
	}
	items := make([]*TodoItem, len(g.resp.TodoItems))
	for i, t := range g.resp.TodoItems {
		order := i
		if t.Order != nil {
			order = *t.Order
		}
		var desc *string
		if d := strings.TrimSpace(t.Description); d != "" {
			desc = &d
		}
		items[i] = &TodoItem{
			ID:          uuid.New(),
			AnalysisID:  a.ID,
			UserID:      userID,
			Title:       t.Title,
			Description: desc,
			Priority:    t.Priority,
			Category:    t.Category,
			OrderIndex:  order,
		}
	}
	return a, items, nil
}

func (s *Service) persist(ctx context.Context, a *Analysis, items []*TodoItem, replaces *uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context) error {
		if replaces != nil {
			if err := s.repo.SoftDelete(ctx, *replaces); err != nil {
				return fmt.Errorf("retire analysis: %w", err)
			}
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		return s.repo.CreateTodos(ctx, items)
	})
}

func (s *Service) detail(a *Analysis, items []*TodoItem) *Detail {
	if items == nil {
		items = []*TodoItem{}
	}
	return &Detail{Analysis: a, TodoItems: items, Sections: report.Render(a.RawAnalysisText)}
}

func (s *Service) record(kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordAnalysis(kind, status, s.now().Sub(start))
}

// AnalyzeAdmission generates the first analysis of an owned patient history.
// The patient moves to analyzing, then completed, or error on any failure.
func (s *Service) AnalyzeAdmission(ctx context.Context, userID, patientID uuid.UUID) (res *Detail, err error) {
	start := s.now()
	defer func() { s.record(kindAdmission, start, err) }()

	p, err := s.patients.Get(ctx, userID, patientID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w for patient %s", ErrConflict, patientID)
	}
	if _, err := s.quota.Reserve(ctx, userID); err != nil {
		return nil, err
	}

	if err := s.patients.SetStatus(ctx, patientID, patient.StatusAnalyzing); err != nil {
		s.quota.Release(ctx, userID)
		return nil, fmt.Errorf("mark patient analyzing: %w", err)
	}
	fail := func(err error) (*Detail, error) {
		bg := context.WithoutCancel(ctx)
		s.quota.Release(bg, userID)
		if serr := s.patients.SetStatus(bg, patientID, patient.StatusError); serr != nil {
			s.logger.Error().Err(serr).Str("patient_id", patientID.String()).Msg("failed to mark patient errored")
		}
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("admission analysis failed")
		return nil, err
	}

	g, err := s.generate(ctx, AdmissionMessages(p.HistoryText), false)
	if err != nil {
		return fail(err)
	}
	a, items, err := s.newAnalysis(g, userID, patientID, VersionAdmission)
	if err != nil {
		return fail(err)
	}
	if err := s.persist(ctx, a, items, nil); err != nil {
		return fail(err)
	}
	if err := s.patients.SetStatus(ctx, patientID, patient.StatusCompleted); err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("failed to mark patient completed")
	}

	s.logger.Info().
		Str("analysis_id", a.ID.String()).
		Str("patient_id", patientID.String()).
		Int("todo_items", len(items)).
		Int("processing_ms", a.ProcessingTimeMS).
		Msg("admission analysis created")
	return s.detail(a, items), nil
}

func previousSummaries(analyses []*Analysis) []PreviousSummary {
	prev := make([]PreviousSummary, 0, len(analyses))
	for _, a := range analyses {
		prev = append(prev, PreviousSummary{Version: a.AnalysisVersion, Summary: a.Summary})
	}
	return prev
}

// AddDailyNote records progress notes for hospital day req.DayNumber and
// generates that day's analysis in the context of the earlier ones.
func (s *Service) AddDailyNote(ctx context.Context, userID, patientID uuid.UUID, req DailyNoteRequest) (res *Detail, err error) {
	start := s.now()
	defer func() { s.record(kindDaily, start, err) }()

	req.ProgressNotes = strings.TrimSpace(req.ProgressNotes)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	p, err := s.patients.Get(ctx, userID, patientID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	version := DayVersion(req.DayNumber)
	for _, a := range existing {
		if a.AnalysisVersion == version {
			return nil, fmt.Errorf("%w: day %d", ErrConflict, req.DayNumber)
		}
	}
	if _, err := s.quota.Reserve(ctx, userID); err != nil {
		return nil, err
	}

	msgs := DailyMessages(p.HistoryText, req.ProgressNotes, req.DayNumber, previousSummaries(existing))
	g, err := s.generate(ctx, msgs, true)
	if err != nil {
		s.quota.Release(context.WithoutCancel(ctx), userID)
		return nil, err
	}
	a, items, err := s.newAnalysis(g, userID, patientID, version)
	if err != nil {
		s.quota.Release(context.WithoutCancel(ctx), userID)
		return nil, err
	}
	notes := req.ProgressNotes
	a.UserFeedback = &notes
	if err := s.persist(ctx, a, items, nil); err != nil {
		s.quota.Release(context.WithoutCancel(ctx), userID)
		return nil, err
	}

	s.logger.Info().
		Str("analysis_id", a.ID.String()).
		Str("patient_id", patientID.String()).
		Int("day", req.DayNumber).
		Msg("daily analysis created")
	return s.detail(a, items), nil
}

// Get returns an owned analysis with its checklist and rendered sections.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Detail, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrNotFound
	}
	items, err := s.repo.ListTodos(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list todo items: %w", err)
	}
	return s.detail(a, items), nil
}

// Timeline lists a patient's analyses in the order they were made.
func (s *Service) Timeline(ctx context.Context, userID, patientID uuid.UUID) (*Timeline, error) {
	p, err := s.patients.Get(ctx, userID, patientID)
	if err != nil {
		return nil, err
	}
	analyses, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}

	t := &Timeline{PatientID: patientID, Entries: make([]TimelineEntry, 0, len(analyses))}
	maxDay := 0
	for i, a := range analyses {
		day, _ := DayNumber(a.AnalysisVersion)
		if day > maxDay {
			maxDay = day
		}
		t.Entries = append(t.Entries, TimelineEntry{
			Label:     VersionLabel(a.AnalysisVersion, i),
			DayNumber: day,
			Analysis:  a,
		})
	}
	t.NextDayNumber = maxDay + 1
	t.Discharged, t.DischargeDate = p.Discharge()
	return t, nil
}

// ToggleTodo checks or unchecks one item and recounts the analysis progress.
func (s *Service) ToggleTodo(ctx context.Context, userID, analysisID uuid.UUID, req ToggleTodoRequest) (*ToggleResult, error) {
	checked := req.IsCompleted
	if checked == nil {
		checked = req.IsChecked
	}
	if req.TodoItemID == uuid.Nil || checked == nil {
		return nil, fmt.Errorf("%w: todo_item_id and is_completed are required", ErrValidation)
	}

	a, err := s.repo.GetByID(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.GetTodo(ctx, req.TodoItemID)
	if err != nil {
		return nil, err
	}
	if item.AnalysisID != analysisID {
		return nil, fmt.Errorf("%w: todo item not in analysis", ErrNotFound)
	}
	if item.UserID != userID || a.UserID != userID {
		return nil, ErrForbidden
	}

	res := &ToggleResult{TotalItems: a.TotalItems}
	err = s.withTx(ctx, func(ctx context.Context) error {
		updated, err := s.repo.SetTodoCompleted(ctx, item.ID, *checked, s.now().UTC())
		if err != nil {
			return err
		}
		n, err := s.repo.RecountCompleted(ctx, analysisID)
		if err != nil {
			return err
		}
		res.Item, res.CompletedItems = updated, n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("toggle todo item: %w", err)
	}
	return res, nil
}

// Regenerate replaces an owned analysis with a freshly generated one of the
// same version. The old row is soft-deleted in the same transaction.
func (s *Service) Regenerate(ctx context.Context, userID, analysisID uuid.UUID) (res *Detail, err error) {
	start := s.now()
	defer func() { s.record(kindRegenerate, start, err) }()

	old, err := s.repo.GetByID(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if old.UserID != userID {
		return nil, ErrForbidden
	}
	p, err := s.patients.Get(ctx, userID, old.PatientHistoryID)
	if err != nil {
		return nil, err
	}

	var (
		msgs  []completion.Message
		daily bool
	)
	if day, ok := DayNumber(old.AnalysisVersion); ok {
		all, err := s.repo.ListByPatient(ctx, old.PatientHistoryID)
		if err != nil {
			return nil, fmt.Errorf("list analyses: %w", err)
		}
		var earlier []*Analysis
		for _, a := range all {
			if a.ID != old.ID && a.CreatedAt.Before(old.CreatedAt) {
				earlier = append(earlier, a)
			}
		}
		var notes string
		if old.UserFeedback != nil {
			notes = *old.UserFeedback
		}
		msgs, daily = DailyMessages(p.HistoryText, notes, day, previousSummaries(earlier)), true
	} else {
		msgs = AdmissionMessages(p.HistoryText)
	}

	if _, err := s.quota.Reserve(ctx, userID); err != nil {
		return nil, err
	}
	g, err := s.generate(ctx, msgs, daily)
	if err != nil {
		s.quota.Release(context.WithoutCancel(ctx), userID)
		return nil, err
	}
	a, items, err := s.newAnalysis(g, userID, old.PatientHistoryID, old.AnalysisVersion)
	if err != nil {
		s.quota.Release(context.WithoutCancel(ctx), userID)
		return nil, err
	}
	a.UserFeedback = old.UserFeedback
	if err := s.persist(ctx, a, items, &old.ID); err != nil {
		s.quota.Release(context.WithoutCancel(ctx), userID)
		return nil, err
	}

	s.logger.Info().
		Str("analysis_id", a.ID.String()).
		Str("replaces", old.ID.String()).
		Str("version", a.AnalysisVersion).
		Msg("analysis regenerated")
	return s.detail(a, items), nil
}

// Stats returns the dashboard counters. A week is the trailing seven days.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	pc, err := s.patients.Counts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("patient counts: %w", err)
	}
	total, week, err := s.repo.CountByUser(ctx, userID, s.now().UTC().AddDate(0, 0, -7))
	if err != nil {
		return nil, fmt.Errorf("analysis counts: %w", err)
	}
	return &Stats{
		TotalPatients:     pc.Total,
		TotalAnalyses:     total,
		ThisMonthCount:    pc.ThisMonth,
		PendingAnalyses:   pc.Pending,
		CompletedThisWeek: week,
	}, nil
}
