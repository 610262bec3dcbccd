package report

import (
	"strings"
	"testing"
)

func TestParseSections_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t\n"} {
		got := ParseSections(in)
		if got == nil {
			t.Fatalf("expected empty slice, got nil for %q", in)
		}
		if len(got) != 0 {
			t.Errorf("expected no sections for %q, got %d", in, len(got))
		}
	}
}

func TestParseSections_NoHeaders(t *testing.T) {
	got := ParseSections("Patient stable overnight.")
	if len(got) != 1 {
		t.Fatalf("expected 1 section, got %d", len(got))
	}
	want := Section{Title: "Summary", Content: "Patient stable overnight.", Order: 0}
	if got[0] != want {
		t.Errorf("expected %+v, got %+v", want, got[0])
	}
}

func TestParseSections_PlanExample(t *testing.T) {
	raw := "## Plan\n\n- [ ] Order CBC\n- Start fluids\n\n1. Recheck in 4h"
	got := ParseSections(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 section, got %d", len(got))
	}
	if got[0].Title != "Plan" {
		t.Errorf("expected title Plan, got %q", got[0].Title)
	}
	wantBody := "- [ ] Order CBC\n- Start fluids\n\n1. Recheck in 4h"
	if got[0].Content != wantBody {
		t.Errorf("expected body %q, got %q", wantBody, got[0].Content)
	}
}

func TestParseSections_HeaderGrammars(t *testing.T) {
	raw := strings.Join([]string{
		"# Clinical Summary",
		"Elderly male with ascites.",
		"**Missing Information:**",
		"- Alcohol history",
		"DIFFERENTIAL DIAGNOSES:",
		"Cirrhosis",
		"### Management Plan",
		"Furosemide 40mg PO BD",
	}, "\n")

	got := ParseSections(raw)
	wantTitles := []string{"Clinical Summary", "Missing Information", "DIFFERENTIAL DIAGNOSES", "Management Plan"}
	if len(got) != len(wantTitles) {
		t.Fatalf("expected %d sections, got %d: %+v", len(wantTitles), len(got), got)
	}
	for i, title := range wantTitles {
		if got[i].Title != title {
			t.Errorf("section %d: expected title %q, got %q", i, title, got[i].Title)
		}
		if got[i].Order != i {
			t.Errorf("section %d: expected order %d, got %d", i, i, got[i].Order)
		}
	}
	if got[2].Content != "Cirrhosis" {
		t.Errorf("expected Cirrhosis body, got %q", got[2].Content)
	}
}

func TestParseSections_FourHashesIsBody(t *testing.T) {
	got := ParseSections("## Plan\n#### not a header")
	if len(got) != 1 {
		t.Fatalf("expected 1 section, got %d", len(got))
	}
	if got[0].Content != "#### not a header" {
		t.Errorf("expected h4 line kept as body, got %q", got[0].Content)
	}
}

func TestParseSections_ShoutCaseAcronymGuard(t *testing.T) {
	got := ParseSections("## Exam\nDR SMITH REVIEWED")
	if len(got) != 1 {
		t.Fatalf("expected acronym-led line to stay in body, got %d sections", len(got))
	}
	if got[0].Content != "DR SMITH REVIEWED" {
		t.Errorf("unexpected body %q", got[0].Content)
	}

	got = ParseSections("PLAN\nRest")
	if len(got) != 1 || got[0].Title != "PLAN" {
		t.Fatalf("expected PLAN header, got %+v", got)
	}
}

func TestParseSections_LeadingContentBecomesSummary(t *testing.T) {
	got := ParseSections("\n\nStable.\n## Plan\nDischarge")
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(got))
	}
	if got[0].Title != "Summary" || got[0].Content != "Stable." {
		t.Errorf("unexpected implicit section %+v", got[0])
	}
	if got[1].Title != "Plan" || got[1].Content != "Discharge" {
		t.Errorf("unexpected plan section %+v", got[1])
	}
}

func TestParseSections_EmptyBodyStillEmitted(t *testing.T) {
	got := ParseSections("## A\n## B\ntext")
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(got))
	}
	if got[0].Title != "A" || got[0].Content != "" {
		t.Errorf("expected empty section A, got %+v", got[0])
	}
}

func TestParseSections_InteriorBlankLinesKept(t *testing.T) {
	got := ParseSections("## Notes\n\n\nfirst\n\nsecond\n\n")
	if got[0].Content != "first\n\nsecond" {
		t.Errorf("expected interior blank line retained, got %q", got[0].Content)
	}
}

func TestParseSections_OrderContiguous(t *testing.T) {
	raw := "intro\n# One\na\n## Two\n**Three**\nb\nFOUR\nc"
	got := ParseSections(raw)
	for i, s := range got {
		if s.Order != i {
			t.Errorf("expected order %d, got %d", i, s.Order)
		}
		if s.Title == "" {
			t.Errorf("section %d has an empty title", i)
		}
	}
}

func TestParseSections_ContentPreserved(t *testing.T) {
	raw := "intro line\n## Plan\n- fluids\n\n**Labs**\nHb 8.5"
	var rebuilt strings.Builder
	for _, s := range ParseSections(raw) {
		rebuilt.WriteString(s.Title + "\n" + s.Content + "\n")
	}
	for _, want := range []string{"intro line", "- fluids", "Hb 8.5"} {
		if !strings.Contains(rebuilt.String(), want) {
			t.Errorf("expected %q in reconstructed text", want)
		}
	}
}

func TestSectionByTitle(t *testing.T) {
	sections := ParseSections("## Management Plan\nRest\n## Impression(s)\n1. CCF")
	s, ok := SectionByTitle(sections, "management plan")
	if !ok {
		t.Fatal("expected to find management plan")
	}
	if s.Content != "Rest" {
		t.Errorf("unexpected content %q", s.Content)
	}
	if _, ok := SectionByTitle(sections, TitleDifferential); ok {
		t.Error("did not expect differential section")
	}
}

func TestParseSections_TitleTrimmedAfterColon(t *testing.T) {
	got := ParseSections("## Plan :\nrest\r\nDIFFERENTIAL DIAGNOSES :\r\nCirrhosis")
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %d: %+v", len(got), got)
	}
	if got[0].Title != "Plan" {
		t.Errorf("expected title %q, got %q", "Plan", got[0].Title)
	}
	if got[1].Title != "DIFFERENTIAL DIAGNOSES" {
		t.Errorf("expected title %q, got %q", "DIFFERENTIAL DIAGNOSES", got[1].Title)
	}
}
