package normalize

import "strings"

// LabelKind selects a synonym table
type LabelKind int

const (
	KindSkill LabelKind = iota
	KindCountry
)

var countryLabels = map[string]string{
	"usa":                      "United States",
	"us":                       "United States",
	"u.s.":                     "United States",
	"u.s.a.":                   "United States",
	"america":                  "United States",
	"united states":            "United States",
	"united states of america": "United States",
	"uk":                       "United Kingdom",
	"u.k.":                     "United Kingdom",
	"england":                  "United Kingdom",
	"great britain":            "United Kingdom",
	"britain":                  "United Kingdom",
	"united kingdom":           "United Kingdom",
	"uae":                      "United Arab Emirates",
	"emirates":                 "United Arab Emirates",
	"united arab emirates":     "United Arab Emirates",
	"ksa":                      "Saudi Arabia",
	"saudi":                    "Saudi Arabia",
	"saudi arabia":             "Saudi Arabia",
	"rsa":                      "South Africa",
	"south africa":             "South Africa",
	"nz":                       "New Zealand",
	"new zealand":              "New Zealand",
	"holland":                  "Netherlands",
	"the netherlands":          "Netherlands",
	"netherlands":              "Netherlands",
	"kenya":                    "Kenya",
	"nigeria":                  "Nigeria",
	"canada":                   "Canada",
	"australia":                "Australia",
	"india":                    "India",
	"philippines":              "Philippines",
	"ireland":                  "Ireland",
}

var skillLabels = map[string]string{
	"js":               "JavaScript",
	"javascript":       "JavaScript",
	"ts":               "TypeScript",
	"typescript":       "TypeScript",
	"golang":           "Go",
	"go":               "Go",
	"py":               "Python",
	"python":           "Python",
	"k8s":              "Kubernetes",
	"kubernetes":       "Kubernetes",
	"react.js":         "React",
	"reactjs":          "React",
	"react":            "React",
	"node":             "Node.js",
	"nodejs":           "Node.js",
	"node.js":          "Node.js",
	"postgres":         "PostgreSQL",
	"postgresql":       "PostgreSQL",
	"ms excel":         "Excel",
	"excel":            "Excel",
	"ml":               "Machine Learning",
	"machine learning": "Machine Learning",
	"esl":              "ESL",
	"tefl":             "TEFL",
	"tesol":            "TESOL",
	"celta":            "CELTA",
}

// CanonicalLabel maps a known synonym to its canonical label. Unknown values
// are returned trimmed and otherwise unchanged.
func CanonicalLabel(kind LabelKind, raw string) string {
	trimmed := strings.TrimSpace(raw)
	table := skillLabels
	if kind == KindCountry {
		table = countryLabels
	}
	if label, ok := table[strings.ToLower(trimmed)]; ok {
		return label
	}
	return trimmed
}

// Labels canonicalizes values, dropping empties and case-insensitive repeats
func Labels(kind LabelKind, values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		label := CanonicalLabel(kind, v)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, label)
	}
	return out
}
