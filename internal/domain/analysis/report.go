package analysis

import (
	"fmt"
	"strings"

	"github.com/medflow/medflow/internal/domain/report"
)

// Day analyses re-open the history gaps rather than list them fresh.
const titleGapsDaily = report.TitleGaps + " / Outstanding Questions"

// BuildReport assembles the markdown-like report stored as raw_analysis_text.
// Sections with no content are left out; the summary is always present.
func BuildReport(r *Response, daily bool) string {
	sections := []string{heading(report.TitleSummary) + r.Summary}

	if g := r.GapsInHistory; g != nil {
		title := report.TitleGaps
		if daily {
			title = titleGapsDaily
		}
		var b strings.Builder
		b.WriteString(heading(title))
		if len(g.MissingInformation) > 0 {
			b.WriteString("**Missing Information:**\n" + bullets(g.MissingInformation, "- ") + "\n\n")
		}
		if len(g.FollowUpQuestions) > 0 {
			b.WriteString("**Follow-up Questions:**\n" + numbered(g.FollowUpQuestions) + "\n\n")
		}
		if len(g.PhysicalExamChecklist) > 0 {
			b.WriteString("**Physical Exam Checklist:**\n" + bullets(g.PhysicalExamChecklist, "- [ ] "))
		}
		sections = append(sections, b.String())
	}

	if len(r.TestInterpretation) > 0 {
		var b strings.Builder
		b.WriteString(heading(report.TitleTests))
		for _, t := range r.TestInterpretation {
			fmt.Fprintf(&b, "**%d. %s**\n", t.Number, t.TestName)
			fmt.Fprintf(&b, "Deranged: %s\n", strings.Join(t.DerangedParameters, ", "))
			fmt.Fprintf(&b, "%s\n", t.NormalParametersAssumed)
			fmt.Fprintf(&b, "Interpretation: %s\n\n", t.Interpretation)
		}
		sections = append(sections, b.String())
	}

	if len(r.Impressions) > 0 {
		sections = append(sections, heading(report.TitleImpressions)+numbered(r.Impressions))
	}

	if len(r.DifferentialDiagnoses) > 0 {
		var b strings.Builder
		b.WriteString(heading(report.TitleDifferential))
		for _, d := range r.DifferentialDiagnoses {
			fmt.Fprintf(&b, "**%s**\n- For: %s\n- Against: %s\n\n", d.Diagnosis, d.SupportingEvidence, d.AgainstEvidence)
		}
		sections = append(sections, b.String())
	}

	if len(r.ConfirmatoryTests) > 0 {
		var b strings.Builder
		b.WriteString(heading(report.TitleConfirmatory))
		for _, c := range r.ConfirmatoryTests {
			fmt.Fprintf(&b, "- **%s**: %s\n", c.Test, c.Rationale)
		}
		sections = append(sections, b.String())
	}

	if mp := r.ManagementPlan; mp != nil {
		var b strings.Builder
		b.WriteString(heading(report.TitleManagement))
		fmt.Fprintf(&b, "**Current Plan Analysis:** %s\n\n", mp.CurrentPlanAnalysis)
		if len(mp.RecommendedPlan) > 0 {
			b.WriteString("**Recommended Plan:**\n")
			for i, step := range mp.RecommendedPlan {
				fmt.Fprintf(&b, "%d. **%s** - %s\n", i+1, step.Step, step.Rationale)
			}
			b.WriteString("\n")
		}
		if mp.AdjustmentsBasedOnStatus != "" {
			fmt.Fprintf(&b, "**Adjustments Based on Patient Status:** %s", mp.AdjustmentsBasedOnStatus)
		}
		sections = append(sections, b.String())
	}

	if len(r.Complications) > 0 {
		var b strings.Builder
		b.WriteString(heading(report.TitleComplications))
		for _, c := range r.Complications {
			fmt.Fprintf(&b, "**%s**\nPrevention: %s\n\n", c.Complication, c.PreventionPlan)
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n")
}

func heading(title string) string { return "## " + title + "\n\n" }

func bullets(items []string, marker string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = marker + it
	}
	return strings.Join(lines, "\n")
}

func numbered(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, it)
	}
	return strings.Join(lines, "\n")
}
