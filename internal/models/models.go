package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// ProcessingStatus tracks a record through the extraction pipeline
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingError      ProcessingStatus = "error"
)

// CandidateStatus is the recruiter-assigned pipeline stage
type CandidateStatus string

const (
	StatusNew         CandidateStatus = "new"
	StatusReviewing   CandidateStatus = "reviewing"
	StatusShortlisted CandidateStatus = "shortlisted"
	StatusInterviewed CandidateStatus = "interviewed"
	StatusHired       CandidateStatus = "hired"
	StatusRejected    CandidateStatus = "rejected"
)

// CandidateStatuses lists every recruiter stage in pipeline order
var CandidateStatuses = []CandidateStatus{
	StatusNew, StatusReviewing, StatusShortlisted, StatusInterviewed, StatusHired, StatusRejected,
}

// Valid reports whether s is a known recruiter stage
func (s CandidateStatus) Valid() bool {
	for _, known := range CandidateStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CandidateRecord is one uploaded CV as stored by the record source
type CandidateRecord struct {
	ID               string           `json:"id"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ExtractedFields  *ExtractedFields `json:"extracted_fields,omitempty"`
	SourceEmail      string           `json:"source_email,omitempty"`
	ReceivedAt       time.Time        `json:"received_at,omitempty"`
	UploadedAt       time.Time        `json:"uploaded_at,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	CandidateStatus  CandidateStatus  `json:"candidate_status,omitempty"`
	FileName         string           `json:"file_name,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
}

// ExtractedFields is the structured blob produced by CV extraction.
// Decoding is lenient: fields of an unexpected shape decode as empty.
type ExtractedFields struct {
	CandidateName     string    `json:"candidate_name,omitempty"`
	FirstName         string    `json:"first_name,omitempty"`
	LastName          string    `json:"last_name,omitempty"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	Score             string    `json:"score,omitempty"`
	Education         string    `json:"education,omitempty"`
	JobHistory        string    `json:"job_history,omitempty"`
	Skills            ListField `json:"skills"`
	Countries         ListField `json:"countries"`
	Justification     string    `json:"justification,omitempty"`
	CurrentEmployment string    `json:"current_employment,omitempty"`
}

// FullName returns the candidate name, joining first and last name when no
// full name was extracted
func (f *ExtractedFields) FullName() string {
	if f == nil {
		return ""
	}
	if name := strings.TrimSpace(f.CandidateName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(f.FirstName) + " " + strings.TrimSpace(f.LastName))
}

// UnmarshalJSON accepts the loosely typed output of the extraction step
func (f *ExtractedFields) UnmarshalJSON(data []byte) error {
	*f = ExtractedFields{}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil
	}

	f.CandidateName = textOf(doc, "candidate_name", "candidateName", "name", "full_name")
	f.FirstName = textOf(doc, "first_name", "firstName")
	f.LastName = textOf(doc, "last_name", "lastName")
	f.Email = textOf(doc, "email", "candidate_email")
	f.Phone = textOf(doc, "phone", "phone_number")
	f.Score = textOf(doc, "score", "overall_score")
	f.Education = textOf(doc, "education")
	f.JobHistory = textOf(doc, "job_history", "jobHistory", "experience")
	f.Skills = listOf(doc.Get("skills"))
	f.Countries = listOf(doc.Get("countries"))
	f.Justification = textOf(doc, "justification")
	f.CurrentEmployment = textOf(doc, "current_employment", "currentEmployment")
	return nil
}

// textOf returns the first present key rendered as text
func textOf(doc gjson.Result, keys ...string) string {
	for _, key := range keys {
		r := doc.Get(key)
		if !r.Exists() {
			continue
		}
		switch {
		case r.Type == gjson.String || r.Type == gjson.Number:
			return strings.TrimSpace(r.String())
		case r.IsArray():
			parts := make([]string, 0)
			for _, item := range r.Array() {
				if item.Type == gjson.String || item.Type == gjson.Number {
					parts = append(parts, strings.TrimSpace(item.String()))
				}
			}
			return strings.Join(parts, "; ")
		}
	}
	return ""
}

// ListField holds a field that arrives either as free text or as an array
type ListField struct {
	Text   string
	Items  []string
	IsList bool
}

// ListText wraps a free-text list value such as "Go, Python"
func ListText(text string) ListField {
	return ListField{Text: text}
}

// ListOf wraps an array list value
func ListOf(items ...string) ListField {
	return ListField{Items: append([]string{}, items...), IsList: true}
}

// IsEmpty reports whether neither shape carries a value
func (l ListField) IsEmpty() bool {
	return strings.TrimSpace(l.Text) == "" && len(l.Items) == 0
}

// UnmarshalJSON accepts a string, an array of scalars, or null
func (l *ListField) UnmarshalJSON(data []byte) error {
	*l = listOf(gjson.ParseBytes(data))
	return nil
}

// MarshalJSON writes the value back in the shape it arrived in
func (l ListField) MarshalJSON() ([]byte, error) {
	if l.IsList {
		items := l.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	if l.Text == "" {
		return []byte("null"), nil
	}
	return json.Marshal(l.Text)
}

func listOf(r gjson.Result) ListField {
	switch {
	case r.IsArray():
		items := make([]string, 0)
		for _, item := range r.Array() {
			if item.Type == gjson.String || item.Type == gjson.Number {
				items = append(items, item.String())
			}
		}
		return ListField{Items: items, IsList: true}
	case r.Type == gjson.String:
		return ListField{Text: r.String()}
	default:
		return ListField{}
	}
}

// VerticalConfig is a declarative rule set for one hiring domain
type VerticalConfig struct {
	ID                     string   `json:"id" validate:"required"`
	Name                   string   `json:"name" validate:"required"`
	MinScore               int      `json:"min_score" validate:"min=0,max=10"`
	IncludeKeywords        []string `json:"include_keywords,omitempty"`
	ExcludeKeywords        []string `json:"exclude_keywords,omitempty"`
	RequiredQualifications []string `json:"required_qualifications,omitempty"`
	MinYearsExperience     int      `json:"min_years_experience" validate:"min=0,max=60"`
	RequireCurrentRole     bool     `json:"require_current_role"`
	CurrentRoleKeywords    []string `json:"current_role_keywords,omitempty"`
	AllowedCountries       []string `json:"allowed_countries,omitempty"`
	Strict                 bool     `json:"strict"`
}

// Validate checks field ranges
func (v *VerticalConfig) Validate() error {
	return validator.New().Struct(v)
}

// FilterPreset is a named bundle of overrides on top of a vertical
type FilterPreset struct {
	ID                     string    `json:"id" validate:"required"`
	Name                   string    `json:"name" validate:"required"`
	VerticalID             string    `json:"vertical_id" validate:"required"`
	MinScore               *int      `json:"min_score,omitempty" validate:"omitempty,min=0,max=10"`
	IncludeKeywords        *[]string `json:"include_keywords,omitempty"`
	ExcludeKeywords        *[]string `json:"exclude_keywords,omitempty"`
	RequiredQualifications *[]string `json:"required_qualifications,omitempty"`
	MinYearsExperience     *int      `json:"min_years_experience,omitempty" validate:"omitempty,min=0,max=60"`
	RequireCurrentRole     *bool     `json:"require_current_role,omitempty"`
	CurrentRoleKeywords    *[]string `json:"current_role_keywords,omitempty"`
	AllowedCountries       *[]string `json:"allowed_countries,omitempty"`
	Strict                 bool      `json:"strict"`
}

// Validate checks field ranges
func (p *FilterPreset) Validate() error {
	return validator.New().Struct(p)
}

// Apply returns base with the preset's overrides layered on top
func (p FilterPreset) Apply(base VerticalConfig) VerticalConfig {
	out := base
	if p.MinScore != nil {
		out.MinScore = *p.MinScore
	}
	if p.IncludeKeywords != nil {
		out.IncludeKeywords = *p.IncludeKeywords
	}
	if p.ExcludeKeywords != nil {
		out.ExcludeKeywords = *p.ExcludeKeywords
	}
	if p.RequiredQualifications != nil {
		out.RequiredQualifications = *p.RequiredQualifications
	}
	if p.MinYearsExperience != nil {
		out.MinYearsExperience = *p.MinYearsExperience
	}
	if p.RequireCurrentRole != nil {
		out.RequireCurrentRole = *p.RequireCurrentRole
	}
	if p.CurrentRoleKeywords != nil {
		out.CurrentRoleKeywords = *p.CurrentRoleKeywords
	}
	if p.AllowedCountries != nil {
		out.AllowedCountries = *p.AllowedCountries
	}
	out.Strict = p.Strict
	return out
}

// Candidate is a record together with its normalized fields
type Candidate struct {
	Record        CandidateRecord `json:"record"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	NameKey       string          `json:"-"`
	Score         int             `json:"score"`
	Skills        []string        `json:"skills"`
	Countries     []string        `json:"countries"`
	EffectiveDate string          `json:"effective_date"`
}

// Facets are the distinct values used to populate filter dropdowns
type Facets struct {
	Skills       []string `json:"skills"`
	Countries    []string `json:"countries"`
	SourceEmails []string `json:"source_emails"`
}

// CandidateList is the response for a filtered candidate view
type CandidateList struct {
	View        string      `json:"view"`
	Total       int         `json:"total"`
	Candidates  []Candidate `json:"candidates"`
	Facets      Facets      `json:"facets"`
	GeneratedAt string      `json:"generated_at"`
}
