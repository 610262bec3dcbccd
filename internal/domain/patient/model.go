package patient

import (
	"time"

	"github.com/google/uuid"
)

// Status values of a patient history.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusAnalyzing = "analyzing"
	StatusCompleted = "completed"
	StatusError     = "error"
)

var validStatuses = map[string]bool{
	StatusDraft: true, StatusSubmitted: true, StatusAnalyzing: true,
	StatusCompleted: true, StatusError: true,
}

// Metadata keys written on discharge.
const (
	MetaAdmissionStatus = "admission_status"
	MetaDischargeDate   = "discharge_date"
	AdmissionDischarged = "discharged"
)

// PatientHistory maps to the patient_histories table.
type PatientHistory struct {
	ID                uuid.UUID              `db:"id" json:"id"`
	UserID            uuid.UUID              `db:"user_id" json:"user_id"`
	PatientName       string                 `db:"patient_name" json:"patient_name"`
	PatientAge        *int                   `db:"patient_age" json:"patient_age,omitempty"`
	PatientGender     *string                `db:"patient_gender" json:"patient_gender,omitempty"`
	PatientIdentifier *string                `db:"patient_identifier" json:"patient_identifier,omitempty"`
	HistoryText       string                 `db:"history_text" json:"history_text"`
	WordCount         int                    `db:"word_count" json:"word_count"`
	Status            string                 `db:"status" json:"status"`
	Metadata          map[string]interface{} `db:"metadata" json:"metadata"`
	AnalyzedAt        *time.Time             `db:"analyzed_at" json:"analyzed_at,omitempty"`
	CreatedAt         time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time              `db:"updated_at" json:"updated_at"`
	DeletedAt         *time.Time             `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Discharge reports whether the patient was discharged and when.
func (p *PatientHistory) Discharge() (discharged bool, date string) {
	if p.Metadata == nil {
		return false, ""
	}
	status, _ := p.Metadata[MetaAdmissionStatus].(string)
	date, _ = p.Metadata[MetaDischargeDate].(string)
	return status == AdmissionDischarged, date
}

// Counts summarises a user's patients for the dashboard.
type Counts struct {
	Total     int `json:"total_patients"`
	ThisMonth int `json:"this_month_count"`
	Pending   int `json:"pending_analyses"`
}
