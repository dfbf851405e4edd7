// Package normalize coerces the loosely typed fields of extracted candidate
// data into canonical scalar and list forms. Nothing here returns an error:
// malformed input degrades to a zero value.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/fmuoria/cv-triage/internal/models"
)

const (
	// MaxScore is the top of the canonical score scale
	MaxScore = 10
	// DateLayout is the effective-date format used for recency ordering
	DateLayout = "2006-01-02"
)

var (
	numberPattern   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	listSeparators  = regexp.MustCompile(`[,;|]`)
	whitespaceRunes = regexp.MustCompile(`\s+`)
)

// Score maps a raw score ("8/10", "85", "8.5", " 7 ") to an integer in [0,10].
// Values above 10 are read as out of 100.
func Score(raw string) int {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if value > MaxScore {
		value = value / 10
	}
	score := int(math.Round(value))
	if score > MaxScore {
		return MaxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

// ScoreLabel is the display form of a normalized score
func ScoreLabel(score int) string {
	return strconv.Itoa(score)
}

// List turns a string-or-array field into trimmed, non-empty entries
func List(field models.ListField) []string {
	var parts []string
	if field.IsList {
		parts = field.Items
	} else {
		parts = listSeparators.Split(field.Text, -1)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Email lowercases and trims an email address
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Name folds a display name into a comparison form: NFKC, lowercase,
// single spaces
func Name(raw string) string {
	folded := strings.ToLower(norm.NFKC.String(raw))
	return strings.TrimSpace(whitespaceRunes.ReplaceAllString(folded, " "))
}

// NameKey is the dedup key form of a name, e.g. "alice_smith"
func NameKey(raw string) string {
	n := Name(raw)
	if n == "" {
		return ""
	}
	return strings.ReplaceAll(n, " ", "_")
}

// Date formats t as an effective-date string, empty for the zero time
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// EffectiveDate is the received timestamp, else the upload timestamp
func EffectiveDate(rec models.CandidateRecord) string {
	if !rec.ReceivedAt.IsZero() {
		return Date(rec.ReceivedAt)
	}
	return Date(rec.UploadedAt)
}

// Candidate builds the normalized view of a record. The record itself is
// copied, never modified.
func Candidate(rec models.CandidateRecord) models.Candidate {
	c := models.Candidate{
		Record:        rec,
		Skills:        []string{},
		Countries:     []string{},
		EffectiveDate: EffectiveDate(rec),
	}

	f := rec.ExtractedFields
	if f == nil {
		return c
	}

	c.Name = strings.TrimSpace(whitespaceRunes.ReplaceAllString(f.FullName(), " "))
	c.Email = Email(f.Email)
	c.NameKey = NameKey(f.FullName())
	c.Score = Score(f.Score)
	c.Skills = Labels(KindSkill, List(f.Skills))
	c.Countries = Labels(KindCountry, List(f.Countries))
	return c
}

// Candidates normalizes every record in order
func Candidates(records []models.CandidateRecord) []models.Candidate {
	out := make([]models.Candidate, len(records))
	for i, rec := range records {
		out[i] = Candidate(rec)
	}
	return out
}
