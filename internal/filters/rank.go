package filters

import (
	"sort"

	"github.com/fmuoria/cv-triage/internal/models"
)

// Rank returns a sorted copy: score desc, effective date desc, name asc.
// Full ties keep their input order.
func Rank(candidates []models.Candidate) []models.Candidate {
	ranked := make([]models.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Better(ranked[i], ranked[j])
	})
	return ranked
}
