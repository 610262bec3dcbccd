// Package report turns the free-text clinical report returned by the completion
// service into ordered sections and renders section bodies into the restricted
// markup the clients display.
package report

import (
	"regexp"
	"strings"
)

// Section is one titled span of a report.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

// Titles the analysis prompt asks the model to emit.
const (
	TitleSummary       = "Clinical Summary"
	TitleGaps          = "Gaps in History"
	TitleTests         = "Test Interpretation"
	TitleImpressions   = "Impression(s)"
	TitleDifferential  = "Differential Diagnoses"
	TitleConfirmatory  = "Confirmatory Tests"
	TitleManagement    = "Management Plan"
	TitleComplications = "Possible Complications & Prevention"
)

// implicitTitle holds content that appears before the first header.
const implicitTitle = "Summary"

var (
	atxHeader    = regexp.MustCompile(`^#{1,3}\s+(.+)$`)
	boldHeader   = regexp.MustCompile(`^\*\*(.+?)\*\*:?\s*$`)
	shoutHeader  = regexp.MustCompile(`^([A-Z][A-Z\s]{2,}):?\s*$`)
	shortAcronym = regexp.MustCompile(`^[A-Z]{1,3}\s`)
)

// headerTitle reports whether the trimmed line is a header and returns its title.
func headerTitle(trimmed string) (string, bool) {
	if m := atxHeader.FindStringSubmatch(trimmed); m != nil {
		return m[1], true
	}
	if m := boldHeader.FindStringSubmatch(trimmed); m != nil {
		return m[1], true
	}
	if m := shoutHeader.FindStringSubmatch(trimmed); m != nil && !shortAcronym.MatchString(trimmed) {
		return m[1], true
	}
	return "", false
}

type openSection struct {
	title string
	lines []string
}

// ParseSections splits raw into sections in source order. It never fails: text
// without any recognisable header comes back as a single "Summary" section.
func ParseSections(raw string) []Section {
	if strings.TrimSpace(raw) == "" {
		return []Section{}
	}

	var (
		sections []Section
		current  *openSection
	)
	flush := func() {
		if current == nil {
			return
		}
		sections = append(sections, Section{
			Title:   current.title,
			Content: strings.TrimSpace(strings.Join(current.lines, "\n")),
			Order:   len(sections),
		})
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if title, ok := headerTitle(trimmed); ok {
			title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), ":"))
			if title != "" {
				flush()
				current = &openSection{title: title}
				continue
			}
		}

		switch {
		case current != nil:
			// Leading blank lines of a section are dropped; later ones keep paragraph spacing.
			if trimmed != "" || len(current.lines) > 0 {
				current.lines = append(current.lines, line)
			}
		case trimmed != "":
			current = &openSection{title: implicitTitle, lines: []string{line}}
		}
	}
	flush()

	return sections
}

// SectionByTitle returns the first section whose title matches case-insensitively.
func SectionByTitle(sections []Section, title string) (Section, bool) {
	for _, s := range sections {
		if strings.EqualFold(s.Title, title) {
			return s, true
		}
	}
	return Section{}, false
}
