package filters

import (
	"strings"
	"time"

	"github.com/fmuoria/cv-triage/internal/models"
	"github.com/fmuoria/cv-triage/internal/normalize"
)

// DayToday selects candidates whose effective date is the current day
const DayToday = "today"

// DashboardFilters narrow a view the way the recruiter filter bar does.
// Empty fields do not filter. Within a field values are OR-ed; fields are AND-ed.
type DashboardFilters struct {
	Search    string   `json:"search,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Countries []string `json:"countries,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	Statuses  []string `json:"statuses,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Day       string   `json:"day,omitempty"`
}

// IsZero reports whether no filter is set
func (f DashboardFilters) IsZero() bool {
	return strings.TrimSpace(f.Search) == "" && len(f.Skills) == 0 && len(f.Countries) == 0 &&
		len(f.Sources) == 0 && len(f.Statuses) == 0 && len(f.Tags) == 0 && f.Day == ""
}

// ResolveDay replaces DayToday with a concrete date so results depend only
// on the filters and the given clock reading
func (f DashboardFilters) ResolveDay(now time.Time) DashboardFilters {
	if strings.EqualFold(strings.TrimSpace(f.Day), DayToday) {
		f.Day = normalize.Date(now)
	}
	return f
}

// Match reports whether c passes every set filter. Day must already be resolved.
func (f DashboardFilters) Match(c models.Candidate) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" && !strings.Contains(searchText(c), q) {
		return false
	}
	if len(f.Skills) > 0 && !overlaps(c.Skills, f.Skills, normalize.KindSkill) {
		return false
	}
	if len(f.Countries) > 0 && !overlaps(c.Countries, f.Countries, normalize.KindCountry) {
		return false
	}
	if len(f.Sources) > 0 && !equalsAny(c.Record.SourceEmail, f.Sources) {
		return false
	}
	if len(f.Statuses) > 0 && !equalsAny(string(statusOf(c.Record)), f.Statuses) {
		return false
	}
	if len(f.Tags) > 0 && !anyEquals(c.Record.Tags, f.Tags) {
		return false
	}
	if f.Day != "" && c.EffectiveDate != f.Day {
		return false
	}
	return true
}

// Apply returns the candidates matching f, in input order
func (f DashboardFilters) Apply(candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

// statusOf treats an unset recruiter stage as new
func statusOf(rec models.CandidateRecord) models.CandidateStatus {
	if rec.CandidateStatus == "" {
		return models.StatusNew
	}
	return rec.CandidateStatus
}

func searchText(c models.Candidate) string {
	parts := []string{c.Name, c.Email, c.Record.FileName}
	parts = append(parts, c.Skills...)
	parts = append(parts, c.Countries...)
	if f := c.Record.ExtractedFields; f != nil {
		parts = append(parts, f.CurrentEmployment, f.JobHistory, f.Education)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

// overlaps compares canonical labels case-insensitively
func overlaps(have, want []string, kind normalize.LabelKind) bool {
	for _, w := range want {
		label := normalize.CanonicalLabel(kind, w)
		for _, h := range have {
			if strings.EqualFold(h, label) {
				return true
			}
		}
	}
	return false
}

func equalsAny(value string, options []string) bool {
	v := strings.TrimSpace(value)
	for _, o := range options {
		if strings.EqualFold(v, strings.TrimSpace(o)) {
			return true
		}
	}
	return false
}

func anyEquals(values, options []string) bool {
	for _, v := range values {
		if equalsAny(v, options) {
			return true
		}
	}
	return false
}
