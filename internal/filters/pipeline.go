package filters

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fmuoria/cv-triage/internal/models"
	"github.com/fmuoria/cv-triage/internal/normalize"
)

// View selects which qualification chain a run applies
type View string

const (
	// ViewAll is every upload, ranked, without qualification or dedupe
	ViewAll View = "all"
	// ViewQualified applies the base chain, dedupe and ranking
	ViewQualified View = "qualified"
	// ViewBest applies the selected vertical rules, dedupe and ranking
	ViewBest View = "best"
)

// ParseView accepts a view name, defaulting to ViewQualified when empty
func ParseView(s string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(s))) {
	case "", ViewQualified:
		return ViewQualified, nil
	case ViewAll:
		return ViewAll, nil
	case ViewBest:
		return ViewBest, nil
	default:
		return "", fmt.Errorf("unknown view %q", s)
	}
}

// Query describes one pipeline run
type Query struct {
	View      View             `json:"view"`
	Filters   DashboardFilters `json:"filters"`
	Selection Selection        `json:"selection"`
	Limit     int              `json:"limit,omitempty"`
}

// Result is the outcome of a run. Candidates and Facets must be treated as
// read-only since they may be shared through the cache.
type Result struct {
	View       View               `json:"view"`
	Candidates []models.Candidate `json:"candidates"`
	Total      int                `json:"total"`
	Facets     models.Facets      `json:"facets"`
	Rules      Rules              `json:"rules"`
	Today      string             `json:"today"`
}

// List converts a result to its API form
func (r Result) List(generatedAt time.Time) models.CandidateList {
	return models.CandidateList{
		View:        string(r.View),
		Total:       r.Total,
		Candidates:  r.Candidates,
		Facets:      r.Facets,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
	}
}

// Pipeline runs normalization, qualification, dashboard filters, dedupe and
// ranking over a list of records
type Pipeline struct {
	registry *Registry
	cache    Cache
	now      func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithCache memoizes results in c
func WithCache(c Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithClock sets the clock used to resolve "today"
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline resolving selections against registry
func NewPipeline(registry *Registry, opts ...Option) *Pipeline {
	if registry == nil {
		registry = NewRegistry()
	}
	p := &Pipeline{registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the registry selections are resolved against
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Now returns the pipeline clock reading
func (p *Pipeline) Now() time.Time {
	return p.now()
}

// Run filters, deduplicates and ranks records for q. It is a pure function
// of (records, q, registry contents, current date); records are never
// modified.
func (p *Pipeline) Run(records []models.CandidateRecord, q Query) Result {
	now := p.now()
	today := normalize.Date(now)
	if q.View == "" {
		q.View = ViewQualified
	}
	q.Filters = q.Filters.ResolveDay(now)
	rules := p.registry.Resolve(q.Selection)

	var key string
	if p.cache != nil {
		k, err := cacheKey(records, q, rules, today)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping result cache")
		} else if cached, ok := p.cache.Get(k); ok {
			log.Debug().Str("view", string(q.View)).Msg("Result cache hit")
			return cached
		} else {
			key = k
		}
	}

	result := p.run(records, q, rules)
	result.Today = today

	if key != "" {
		p.cache.Set(key, result)
	}
	return result
}

func (p *Pipeline) run(records []models.CandidateRecord, q Query, rules Rules) Result {
	candidates := normalize.Candidates(records)

	pool := candidates
	switch q.View {
	case ViewAll:
	case ViewBest:
		if rules.Active {
			pool = keep(candidates, func(c models.Candidate) bool { return QualifiesVertical(c, rules.Config) })
		} else {
			pool = keep(candidates, Qualifies)
		}
	default:
		pool = keep(candidates, Qualifies)
	}

	facets := BuildFacets(pool)
	filtered := q.Filters.Apply(pool)
	if q.View != ViewAll {
		filtered = Dedupe(filtered)
	}
	ranked := Rank(filtered)

	total := len(ranked)
	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}

	return Result{
		View:       q.View,
		Candidates: ranked,
		Total:      total,
		Facets:     facets,
		Rules:      rules,
	}
}

// Explain reports why c is or is not in the view for sel
func (p *Pipeline) Explain(rec models.CandidateRecord, view View, sel Selection) (models.Candidate, RejectReason) {
	c := normalize.Candidate(rec)
	switch view {
	case ViewAll:
		return c, ReasonNone
	case ViewBest:
		if rules := p.registry.Resolve(sel); rules.Active {
			return c, VerticalReason(c, rules.Config)
		}
	}
	return c, Reason(c)
}

func keep(candidates []models.Candidate, pred func(models.Candidate) bool) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}
