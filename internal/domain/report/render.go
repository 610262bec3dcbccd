package report

import (
	"regexp"
	"strings"
)

// RenderedSection is a section with its body converted to display markup.
type RenderedSection struct {
	Title   string `json:"title"`
	Order   int    `json:"order"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order; each rule is a single pass over the output of the previous one.
var bodyRules = []rule{
	{regexp.MustCompile(`\*\*(.*?)\*\*`), `<strong>$1</strong>`},
	{regexp.MustCompile(`(?m)^- \[ \] (.+)$`), `<label class="flex items-start gap-2 mb-1"><input type="checkbox" class="mt-1 rounded" disabled /> <span>$1</span></label>`},
	{regexp.MustCompile(`(?m)^- (.+)$`), `<li class="ml-4 mb-1">$1</li>`},
	{regexp.MustCompile(`(?m)^(\d+)\. (.+)$`), `<div class="ml-4 mb-1"><strong>$1.</strong> $2</div>`},
	{regexp.MustCompile(`\n\n`), `<br/><br/>`},
	{regexp.MustCompile(`\n`), `<br/>`},
}

// Body text is escaped before any rule runs, so only the markup the rules emit
// reaches the output. No rule token contains an escaped character.
var bodyEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\r\n", "\n",
)

// RenderBody converts a section body into the restricted markup subset:
// bold, disabled checklist rows, list items, numbered blocks and line breaks.
func RenderBody(content string) string {
	out := bodyEscaper.Replace(content)
	for _, r := range bodyRules {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}
	return out
}

// Render parses raw and renders every section body.
func Render(raw string) []RenderedSection {
	sections := ParseSections(raw)
	rendered := make([]RenderedSection, len(sections))
	for i, s := range sections {
		rendered[i] = RenderedSection{
			Title:   s.Title,
			Order:   s.Order,
			Content: s.Content,
			HTML:    RenderBody(s.Content),
		}
	}
	return rendered
}
