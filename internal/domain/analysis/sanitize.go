package analysis

import (
	"regexp"
	"strings"
)

// Panel-level phrasing the model is told never to use. Each match is replaced
// by a parameter-level instruction. Verb-led phrases come first so their
// replacement is not applied to an already rewritten fragment.
var forbiddenPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)monitor\s+renal\s+function\s+tests?`),
	regexp.MustCompile(`(?i)monitor\s+liver\s+function\s+tests?`),
	regexp.MustCompile(`(?i)repeat\s+(CBC|LFTs?|U&Es?|ultrasound|blood\s+count|renal|liver)`),
	regexp.MustCompile(`(?i)follow-?up\s+CBC`),
	regexp.MustCompile(`(?i)obtain\s+(CBC|LFTs?|U&Es?|lipid\s+profile|coagulation)`),
	regexp.MustCompile(`(?i)complete\s+CBC`),
	regexp.MustCompile(`(?i)full\s+blood\s+count`),
	regexp.MustCompile(`(?i)comprehensive\s+LFTs?`),
	regexp.MustCompile(`(?i)liver\s+function\s+tests?`),
	regexp.MustCompile(`(?i)renal\s+function\s+tests?`),
	regexp.MustCompile(`(?i)full\s+metabolic\s+panel`),
	regexp.MustCompile(`(?i)complete\s+the\s+workup`),
	regexp.MustCompile(`(?i)check\s+remaining\s+parameters`),
}

func replacementFor(match string) string {
	m := strings.ToLower(match)
	switch {
	case strings.Contains(m, "cbc"), strings.Contains(m, "blood count"):
		return "Monitor Hemoglobin levels"
	case strings.Contains(m, "lft"), strings.Contains(m, "liver function"):
		return "Track AST/ALT trends"
	case strings.Contains(m, "renal"), strings.Contains(m, "u&e"):
		return "Monitor Creatinine levels"
	case strings.Contains(m, "lipid"):
		return "Monitor lipid parameters"
	case strings.Contains(m, "coagulation"):
		return "Monitor INR"
	default:
		return "Monitor specific parameters"
	}
}

// SanitizeText rewrites forbidden panel phrases in s.
func SanitizeText(s string) string {
	for _, re := range forbiddenPhrases {
		s = re.ReplaceAllStringFunc(s, replacementFor)
	}
	return s
}

// sanitizeValue walks a decoded JSON value and rewrites every string in place.
func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return SanitizeText(t)
	case []interface{}:
		for i := range t {
			t[i] = sanitizeValue(t[i])
		}
		return t
	case map[string]interface{}:
		for k, el := range t {
			t[k] = sanitizeValue(el)
		}
		return t
	default:
		return v
	}
}
