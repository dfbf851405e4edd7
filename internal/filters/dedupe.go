package filters

import "github.com/fmuoria/cv-triage/internal/models"

// DedupKey is the identity key of a candidate: the normalized email, else the
// normalized first_last name. Empty when the candidate cannot be keyed.
func DedupKey(c models.Candidate) string {
	if c.Email != "" {
		return "email:" + c.Email
	}
	if c.NameKey != "" {
		return "name:" + c.NameKey
	}
	return ""
}

// Better reports whether a should replace b as the representative of an
// identity: higher score, then more recent date, then smaller name.
func Better(a, b models.Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.EffectiveDate != b.EffectiveDate {
		return a.EffectiveDate > b.EffectiveDate
	}
	return a.Name < b.Name
}

// Dedupe collapses candidates sharing a key to a single survivor. Candidates
// without a key are dropped. The result keeps first-seen key order; callers
// rank it afterwards.
func Dedupe(candidates []models.Candidate) []models.Candidate {
	index := make(map[string]int, len(candidates))
	out := make([]models.Candidate, 0, len(candidates))

	for _, c := range candidates {
		key := DedupKey(c)
		if key == "" {
			continue
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, c)
			continue
		}
		if Better(c, out[i]) {
			out[i] = c
		}
	}
	return out
}
