package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound   = errors.New("patient history not found")
	ErrValidation = errors.New("validation failed")
)

// CreateRequest is the body of POST /patients.
type CreateRequest struct {
	PatientName       string                 `json:"patient_name" validate:"required,max=200"`
	PatientAge        *int                   `json:"patient_age,omitempty" validate:"omitempty,min=0,max=150"`
	PatientGender     string                 `json:"patient_gender,omitempty" validate:"max=32"`
	PatientIdentifier string                 `json:"patient_identifier,omitempty" validate:"max=100"`
	HistoryText       string                 `json:"history_text" validate:"required,min=50,max=10000"`
	Status            string                 `json:"status,omitempty" validate:"omitempty,oneof=draft submitted"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Service provides business logic for patient histories.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a new patient service.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   logger.With().Str("component", "patient").Logger(),
		now:      time.Now,
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Create validates req and stores a new history owned by userID.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*PatientHistory, error) {
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.HistoryText = strings.TrimSpace(req.HistoryText)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.Status == "" {
		req.Status = StatusDraft
	}

	p := &PatientHistory{
		UserID:            userID,
		PatientName:       req.PatientName,
		PatientAge:        req.PatientAge,
		PatientGender:     optional(req.PatientGender),
		PatientIdentifier: optional(req.PatientIdentifier),
		HistoryText:       req.HistoryText,
		WordCount:         len(strings.Fields(req.HistoryText)),
		Status:            req.Status,
		Metadata:          req.Metadata,
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient history: %w", err)
	}
	return p, nil
}

// List returns the user's histories, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*PatientHistory, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// Get returns the history when userID owns it. Anything else is ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*PatientHistory, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrNotFound
	}
	return p, nil
}

// Delete soft-deletes an owned history.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}

// Discharge marks an owned patient discharged and returns the discharge date.
func (s *Service) Discharge(ctx context.Context, userID, id uuid.UUID) (string, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}

	date := s.now().UTC().Format(time.RFC3339)
	meta := make(map[string]interface{}, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	meta[MetaAdmissionStatus] = AdmissionDischarged
	meta[MetaDischargeDate] = date

	if err := s.repo.UpdateMetadata(ctx, id, StatusCompleted, meta); err != nil {
		return "", fmt.Errorf("discharge patient: %w", err)
	}
	s.logger.Info().Str("patient_id", id.String()).Str("user_id", userID.String()).Msg("patient discharged")
	return date, nil
}

// SetStatus moves a history through draft, analyzing, completed and error.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !validStatuses[status] {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

// Counts returns the dashboard patient counters, months starting in UTC.
func (s *Service) Counts(ctx context.Context, userID uuid.UUID) (Counts, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.repo.Counts(ctx, userID, monthStart)
}
