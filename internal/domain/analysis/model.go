package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/medflow/internal/domain/report"
)

// VersionAdmission tags the first analysis of an admission.
const VersionAdmission = "admission"

const dayPrefix = "day_"

// DayVersion returns the version tag for hospital day n.
func DayVersion(n int) string { return dayPrefix + strconv.Itoa(n) }

// DayNumber parses a day_N version tag.
func DayNumber(version string) (int, bool) {
	if !strings.HasPrefix(version, dayPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(version, dayPrefix))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

var ordinals = map[int]string{
	1: "One", 2: "Two", 3: "Three", 4: "Four", 5: "Five",
	6: "Six", 7: "Seven", 8: "Eight", 9: "Nine", 10: "Ten",
}

// DayLabel returns "Day Two" style labels, falling back to digits past ten.
func DayLabel(n int) string {
	if word, ok := ordinals[n]; ok {
		return "Day " + word
	}
	return fmt.Sprintf("Day %d", n)
}

// VersionLabel is the timeline heading for a version at position index.
func VersionLabel(version string, index int) string {
	if version == VersionAdmission {
		return "Analysis at Admission"
	}
	if n, ok := DayNumber(version); ok {
		return DayLabel(n) + " of Admission Analysis"
	}
	if index == 0 {
		return "Analysis at Admission"
	}
	return fmt.Sprintf("Analysis %d", index+1)
}

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Analysis maps to the analyses table.
type Analysis struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	PatientHistoryID uuid.UUID       `db:"patient_history_id" json:"patient_history_id"`
	UserID           uuid.UUID       `db:"user_id" json:"user_id"`
	TodoListJSON     json.RawMessage `db:"todo_list_json" json:"todo_list_json"`
	RawAnalysisText  string          `db:"raw_analysis_text" json:"raw_analysis_text"`
	ModelUsed        string          `db:"model_used" json:"model_used"`
	AnalysisVersion  string          `db:"analysis_version" json:"analysis_version"`
	ProcessingTimeMS int             `db:"processing_time_ms" json:"processing_time_ms"`
	TotalItems       int             `db:"total_items" json:"total_items"`
	CompletedItems   int             `db:"completed_items" json:"completed_items"`
	Summary          string          `db:"summary" json:"summary"`
	RiskLevel        string          `db:"risk_level" json:"risk_level"`
	UserFeedback     *string         `db:"user_feedback" json:"user_feedback,omitempty"`
	UserRating       *int            `db:"user_rating" json:"user_rating,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Priorities of a to-do item.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityMedium: true, PriorityHigh: true, PriorityUrgent: true,
}

// TodoItem maps to the todo_items table.
type TodoItem struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	AnalysisID   uuid.UUID  `db:"analysis_id" json:"analysis_id"`
	UserID       uuid.UUID  `db:"user_id" json:"user_id"`
	Title        string     `db:"title" json:"title"`
	Description  *string    `db:"description" json:"description,omitempty"`
	Priority     string     `db:"priority" json:"priority"`
	Category     string     `db:"category" json:"category"`
	IsCompleted  bool       `db:"is_completed" json:"is_completed"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	OrderIndex   int        `db:"order_index" json:"order_index"`
	ParentItemID *uuid.UUID `db:"parent_item_id" json:"parent_item_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Detail is an analysis with its checklist and rendered report.
type Detail struct {
	*Analysis
	TodoItems []*TodoItem                `json:"todo_items"`
	Sections  []report.RenderedSection `json:"sections"`
}

// TimelineEntry is one analysis on the admission timeline.
type TimelineEntry struct {
	Label     string    `json:"label"`
	DayNumber int       `json:"day_number"`
	Analysis  *Analysis `json:"analysis"`
}

// Timeline is the ordered analyses of one admission.
type Timeline struct {
	PatientID     uuid.UUID       `json:"patient_id"`
	Entries       []TimelineEntry `json:"entries"`
	NextDayNumber int             `json:"next_day_number"`
	Discharged    bool            `json:"discharged"`
	DischargeDate string          `json:"discharge_date,omitempty"`
}

// Stats are the dashboard counters.
type Stats struct {
	TotalPatients     int `json:"total_patients"`
	TotalAnalyses     int `json:"total_analyses"`
	ThisMonthCount    int `json:"this_month_count"`
	PendingAnalyses   int `json:"pending_analyses"`
	CompletedThisWeek int `json:"completed_this_week"`
}
