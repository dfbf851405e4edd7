// Package filters holds the candidate triage core: qualification, vertical
// rules, deduplication and ranking. Everything here is a pure function over
// an already-fetched list; degenerate input is excluded, never an error.
package filters

import (
	"strings"

	"github.com/fmuoria/cv-triage/internal/models"
	"github.com/fmuoria/cv-triage/internal/normalize"
)

// MinQualifyingScore is the base threshold for the qualified view
const MinQualifyingScore = 6

// placeholderNames are matched as case-insensitive substrings of the name
var placeholderNames = []string{
	"john doe",
	"jane doe",
	"jane smith",
	"john smith",
	"test user",
	"test candidate",
	"sample candidate",
	"candidate name",
	"your name",
	"dummy",
	"placeholder",
	"lorem ipsum",
	"asdf",
}

// RejectReason names the first predicate a candidate failed
type RejectReason string

const (
	ReasonNone            RejectReason = ""
	ReasonNotCompleted    RejectReason = "not_completed"
	ReasonNoEmail         RejectReason = "no_email"
	ReasonPlaceholder     RejectReason = "placeholder_name"
	ReasonLowScore        RejectReason = "score_below_threshold"
	ReasonVerticalScore   RejectReason = "score_below_vertical_minimum"
	ReasonExcludedKeyword RejectReason = "excluded_keyword"
	ReasonNoKeyword       RejectReason = "no_include_keyword"
	ReasonCountry         RejectReason = "country_not_allowed"
	ReasonNoQualification RejectReason = "missing_qualification"
	ReasonExperience      RejectReason = "insufficient_experience"
	ReasonNoCurrentRole   RejectReason = "no_current_role"
)

// Describe renders a reason for humans
func (r RejectReason) Describe() string {
	switch r {
	case ReasonNone:
		return "qualifies"
	case ReasonNotCompleted:
		return "extraction has not completed"
	case ReasonNoEmail:
		return "no email address"
	case ReasonPlaceholder:
		return "name looks like a placeholder or test entry"
	case ReasonLowScore:
		return "score below the qualifying threshold"
	case ReasonVerticalScore:
		return "score below the vertical minimum"
	case ReasonExcludedKeyword:
		return "matches an excluded keyword"
	case ReasonNoKeyword:
		return "matches none of the include keywords"
	case ReasonCountry:
		return "country not in the allowlist"
	case ReasonNoQualification:
		return "required qualification not found in education"
	case ReasonExperience:
		return "not enough years of experience"
	case ReasonNoCurrentRole:
		return "current role does not match"
	default:
		return string(r)
	}
}

// IsPlaceholderName reports whether name matches the test-entry denylist
func IsPlaceholderName(name string) bool {
	n := normalize.Name(name)
	if n == "" {
		return false
	}
	for _, p := range placeholderNames {
		if strings.Contains(n, p) {
			return true
		}
	}
	return false
}

// Reason runs the base chain and reports the first failing predicate
func Reason(c models.Candidate) RejectReason {
	if c.Record.ProcessingStatus != models.ProcessingCompleted || c.Record.ExtractedFields == nil {
		return ReasonNotCompleted
	}
	if c.Email == "" {
		return ReasonNoEmail
	}
	if IsPlaceholderName(c.Record.ExtractedFields.FullName()) {
		return ReasonPlaceholder
	}
	if c.Score < MinQualifyingScore {
		return ReasonLowScore
	}
	return ReasonNone
}

// Qualifies reports whether c passes the base qualification chain
func Qualifies(c models.Candidate) bool {
	return Reason(c) == ReasonNone
}

// VerticalReason runs the base chain followed by the vertical rules
func VerticalReason(c models.Candidate, rules models.VerticalConfig) RejectReason {
	if r := Reason(c); r != ReasonNone {
		return r
	}
	if c.Score < rules.MinScore {
		return ReasonVerticalScore
	}

	surface := searchSurface(c)
	if containsAny(surface, rules.ExcludeKeywords) {
		return ReasonExcludedKeyword
	}
	if hasTerms(rules.IncludeKeywords) && !containsAny(surface, rules.IncludeKeywords) {
		return ReasonNoKeyword
	}
	if !countryAllowed(c.Countries, rules.AllowedCountries) {
		return ReasonCountry
	}

	if !rules.Strict {
		return ReasonNone
	}

	f := c.Record.ExtractedFields
	if hasTerms(rules.RequiredQualifications) && !containsAny(strings.ToLower(f.Education), rules.RequiredQualifications) {
		return ReasonNoQualification
	}
	if rules.MinYearsExperience > 0 &&
		normalize.YearsOfExperience(f.JobHistory, f.Justification, f.CurrentEmployment) < rules.MinYearsExperience {
		return ReasonExperience
	}
	if rules.RequireCurrentRole && !containsAny(strings.ToLower(f.CurrentEmployment), rules.CurrentRoleKeywords) {
		return ReasonNoCurrentRole
	}
	return ReasonNone
}

// QualifiesVertical reports whether c passes the base chain and rules
func QualifiesVertical(c models.Candidate, rules models.VerticalConfig) bool {
	return VerticalReason(c, rules) == ReasonNone
}

// searchSurface is the lowercased text keyword rules are matched against
func searchSurface(c models.Candidate) string {
	f := c.Record.ExtractedFields
	if f == nil {
		return strings.ToLower(c.Name)
	}
	return strings.ToLower(strings.Join([]string{
		c.Name, f.CurrentEmployment, f.JobHistory, f.Education,
	}, "\n"))
}

// containsAny matches lowercased text against terms, ignoring blank terms
func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func hasTerms(terms []string) bool {
	for _, t := range terms {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}

// countryAllowed passes when either side has no country data. Allowed
// entries are canonicalized so "USA" in a config matches "United States".
func countryAllowed(countries, allowed []string) bool {
	if !hasTerms(allowed) || len(countries) == 0 {
		return true
	}
	for _, country := range countries {
		lc := strings.ToLower(country)
		for _, a := range allowed {
			label := strings.ToLower(normalize.CanonicalLabel(normalize.KindCountry, a))
			if label != "" && strings.Contains(lc, label) {
				return true
			}
		}
	}
	return false
}
