package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidResponse means the completion reply was not a usable analysis.
var ErrInvalidResponse = errors.New("invalid analysis response")

// Gaps lists what the history leaves out.
type Gaps struct {
	MissingInformation    []string `json:"missing_information"`
	FollowUpQuestions     []string `json:"follow_up_questions"`
	PhysicalExamChecklist []string `json:"physical_exam_checklist"`
}

// TestInterpretation reads one reported panel.
type TestInterpretation struct {
	Number                  int      `json:"number"`
	TestName                string   `json:"test_name"`
	DerangedParameters      []string `json:"deranged_parameters"`
	NormalParametersAssumed string   `json:"normal_parameters_assumed"`
	Interpretation          string   `json:"interpretation"`
}

type Differential struct {
	Diagnosis          string `json:"diagnosis"`
	SupportingEvidence string `json:"supporting_evidence"`
	AgainstEvidence    string `json:"against_evidence"`
}

type ConfirmatoryTest struct {
	Test      string `json:"test"`
	Rationale string `json:"rationale"`
}

type PlanStep struct {
	Step      string `json:"step"`
	Rationale string `json:"rationale"`
}

type ManagementPlan struct {
	CurrentPlanAnalysis      string     `json:"current_plan_analysis"`
	RecommendedPlan          []PlanStep `json:"recommended_plan"`
	AdjustmentsBasedOnStatus string     `json:"adjustments_based_on_status"`
}

type Complication struct {
	Complication   string `json:"complication"`
	PreventionPlan string `json:"prevention_plan"`
}

// ResponseTodo is a checklist entry as emitted by the model.
type ResponseTodo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Order       *int   `json:"order,omitempty"`
}

// Response is the structured analysis returned by the completion service.
type Response struct {
	RiskLevel             string               `json:"risk_level"`
	GapsInHistory         *Gaps                `json:"gaps_in_history,omitempty"`
	TestInterpretation    []TestInterpretation `json:"test_interpretation,omitempty"`
	Impressions           []string             `json:"impressions,omitempty"`
	DifferentialDiagnoses []Differential       `json:"differential_diagnoses,omitempty"`
	ConfirmatoryTests     []ConfirmatoryTest   `json:"confirmatory_tests,omitempty"`
	ManagementPlan        *ManagementPlan      `json:"management_plan,omitempty"`
	Complications         []Complication       `json:"complications,omitempty"`
	Summary               string               `json:"summary"`
	TodoItems             []ResponseTodo       `json:"todo_items"`
}

var codeFence = regexp.MustCompile("```json\\n?|\\n?```")

// ParseResponse strips code fences, checks the required fields and rewrites
// forbidden phrases in every string of the reply.
func ParseResponse(content string) (*Response, error) {
	cleaned := strings.TrimSpace(codeFence.ReplaceAllString(content, ""))

	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if s, _ := generic["summary"].(string); s == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrInvalidResponse)
	}
	if s, _ := generic["risk_level"].(string); s == "" {
		return nil, fmt.Errorf("%w: missing risk_level", ErrInvalidResponse)
	}
	if _, ok := generic["todo_items"].([]interface{}); !ok {
		return nil, fmt.Errorf("%w: todo_items must be an array", ErrInvalidResponse)
	}

	sanitized, err := json.Marshal(sanitizeValue(generic))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var resp Response
	if err := json.Unmarshal(sanitized, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	resp.normalize()
	return &resp, nil
}

// normalize folds free-form enums onto the values the store accepts.
func (r *Response) normalize() {
	r.RiskLevel = strings.ToLower(strings.TrimSpace(r.RiskLevel))
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		r.RiskLevel = RiskMedium
	}
	for i := range r.TodoItems {
		p := strings.ToLower(strings.TrimSpace(r.TodoItems[i].Priority))
		if !validPriorities[p] {
			p = PriorityMedium
		}
		r.TodoItems[i].Priority = p
	}
}
