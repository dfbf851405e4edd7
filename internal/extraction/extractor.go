// Package extraction turns CV text into the structured fields stored on a
// candidate record.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/fmuoria/cv-triage/internal/ingestion"
	"github.com/fmuoria/cv-triage/internal/llm"
	"github.com/fmuoria/cv-triage/internal/models"
)

// maxPromptText bounds the CV text sent to the model
const maxPromptText = 30000

// FallbackJustification marks fields parsed without the language model
const FallbackJustification = "extracted without language model"

// Extractor produces ExtractedFields from CV text
type Extractor struct {
	gen llm.Generator
}

// NewExtractor creates an extractor. A nil generator means every call uses
// the pattern-based fallback.
func NewExtractor(gen llm.Generator) *Extractor {
	return &Extractor{gen: gen}
}

// HasModel reports whether a language model is configured
func (e *Extractor) HasModel() bool {
	return e.gen != nil
}

// Extract asks the model for the candidate's fields. Generator errors are
// returned so the caller can retry; an unusable reply falls back to pattern
// parsing.
func (e *Extractor) Extract(ctx context.Context, text string) (models.ExtractedFields, error) {
	text = strings.TrimSpace(ingestion.SanitizeUTF8(text))
	if e.gen == nil {
		return Fallback(text), nil
	}

	response, err := e.gen.GenerateContent(ctx, buildPrompt(text))
	if err != nil {
		return models.ExtractedFields{}, fmt.Errorf("failed to get LLM response: %w", err)
	}

	fields, err := parseFields(response)
	if err != nil {
		log.Warn().Err(err).Msg("Unusable model reply, using pattern extraction")
		return Fallback(text), nil
	}

	// fill what the model missed
	fb := Fallback(text)
	if fields.Email == "" {
		fields.Email = fb.Email
	}
	if fields.Phone == "" {
		fields.Phone = fb.Phone
	}
	if fields.FullName() == "" {
		fields.CandidateName = fb.CandidateName
	}
	return fields, nil
}

// buildPrompt creates the extraction prompt for the model
func buildPrompt(text string) string {
	if len(text) > maxPromptText {
		text = ingestion.SanitizeUTF8(text[:maxPromptText])
	}

	var sb strings.Builder
	sb.WriteString("You are an expert recruiter reading a candidate's CV. Extract the candidate's details and rate the CV.\n\n")

	sb.WriteString("## CV CONTENT\n")
	sb.WriteString(text)
	sb.WriteString("\n\n")

	sb.WriteString("## INSTRUCTIONS\n")
	sb.WriteString("Provide the details in the following JSON format:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "candidate_name": "<full name as written>",` + "\n")
	sb.WriteString(`  "email": "<email address>",` + "\n")
	sb.WriteString(`  "phone": "<phone number>",` + "\n")
	sb.WriteString(`  "score": <0-10 overall strength of the CV>,` + "\n")
	sb.WriteString(`  "education": "<degrees and certificates with institutions and years>",` + "\n")
	sb.WriteString(`  "job_history": "<roles with employers and year ranges, most recent first>",` + "\n")
	sb.WriteString(`  "skills": ["<skill>", ...],` + "\n")
	sb.WriteString(`  "countries": ["<country lived or worked in>", ...],` + "\n")
	sb.WriteString(`  "justification": "<one or two sentences explaining the score>",` + "\n")
	sb.WriteString(`  "current_employment": "<current role and employer, empty if none>"` + "\n")
	sb.WriteString("}\n\n")

	sb.WriteString("Use an empty string or empty list for anything the CV does not state. Do not invent details.\n")
	sb.WriteString("Return ONLY the JSON object, no additional text.\n")

	return sb.String()
}

// parseFields extracts the JSON object from the model reply
func parseFields(response string) (models.ExtractedFields, error) {
	// Find JSON in response (in case there's extra text)
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")

	if startIdx == -1 || endIdx < startIdx {
		return models.ExtractedFields{}, fmt.Errorf("no JSON found in response")
	}

	jsonStr := response[startIdx : endIdx+1]
	if !gjson.Valid(jsonStr) {
		return models.ExtractedFields{}, fmt.Errorf("invalid JSON in response")
	}

	var fields models.ExtractedFields
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return models.ExtractedFields{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return fields, nil
}

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	skillsPattern = regexp.MustCompile(`(?im)^\s*(?:key\s+)?skills?\s*[:\-]\s*(.+)$`)
	yearsPattern  = regexp.MustCompile(`(?i)(\d{1,2})\+?\s*years?`)
	headerPattern = regexp.MustCompile(`(?i)^(curriculum vitae|resume|cv|r[ée]sum[ée])$`)
)

// Fallback parses the fields a CV states plainly. It never scores.
func Fallback(text string) models.ExtractedFields {
	fields := models.ExtractedFields{Justification: FallbackJustification}

	if m := emailPattern.FindString(text); m != "" {
		fields.Email = strings.ToLower(m)
	}
	fields.Phone = phoneNumber(text)
	fields.CandidateName = nameLine(text)

	if m := skillsPattern.FindStringSubmatch(text); m != nil {
		fields.Skills = models.ListText(strings.TrimSpace(m[1]))
	}

	years := 0
	for _, m := range yearsPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > years {
			years = n
		}
	}
	if years > 0 {
		fields.JobHistory = fmt.Sprintf("%d years of experience", years)
	}
	return fields
}

// phoneNumber skips digit runs too short to dial, such as year ranges
func phoneNumber(text string) string {
	for _, m := range phonePattern.FindAllString(text, -1) {
		digits := 0
		for _, r := range m {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 9 {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

// nameLine is the first short line that reads like a name
func nameLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || headerPattern.MatchString(line) {
			continue
		}
		if emailPattern.MatchString(line) || strings.ContainsAny(line, "0123456789:@/") {
			return ""
		}
		words := strings.Fields(line)
		if len(words) < 2 || len(words) > 5 {
			return ""
		}
		return line
	}
	return ""
}
