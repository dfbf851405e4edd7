package filters

import (
	"sort"
	"strings"

	"github.com/fmuoria/cv-triage/internal/models"
)

// BuildFacets collects the distinct skills, countries and source emails of
// candidates, each sorted case-insensitively
func BuildFacets(candidates []models.Candidate) models.Facets {
	skills := newFacetSet()
	countries := newFacetSet()
	sources := newFacetSet()

	for _, c := range candidates {
		for _, s := range c.Skills {
			skills.add(s)
		}
		for _, country := range c.Countries {
			countries.add(country)
		}
		sources.add(c.Record.SourceEmail)
	}

	return models.Facets{
		Skills:       skills.sorted(),
		Countries:    countries.sorted(),
		SourceEmails: sources.sorted(),
	}
}

type facetSet struct {
	seen   map[string]bool
	values []string
}

func newFacetSet() *facetSet {
	return &facetSet{seen: make(map[string]bool)}
}

func (s *facetSet) add(v string) {
	v = strings.TrimSpace(v)
	key := strings.ToLower(v)
	if v == "" || s.seen[key] {
		return
	}
	s.seen[key] = true
	s.values = append(s.values, v)
}

func (s *facetSet) sorted() []string {
	out := append([]string{}, s.values...)
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i]), strings.ToLower(out[j])
		if li != lj {
			return li < lj
		}
		return out[i] < out[j]
	})
	return out
}
