// Package scoring computes deterministic, explainable scores for achievement
// records and ranks them.
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Weights applied to the score components.
const (
	metricWeight   = 0.4
	scopeWeight    = 0.3
	evidenceWeight = 0.3
)

// Algorithm identifies the scoring formula recorded on ranking snapshots.
const Algorithm = "weighted-log-v1"

const (
	// noMetricStrength is the floor for achievements without a metric.
	noMetricStrength = 0.3
	defaultScope     = 0.5
	evidenceBase     = 0.5
	// minEvidenceTextLen is the raw text length above which a claim earns
	// the detail bonus.
	minEvidenceTextLen = 60
)

// DefaultWeights is the weight vector of Score.
var DefaultWeights = models.ScoringWeights{
	Metric:   metricWeight,
	Scope:    scopeWeight,
	Evidence: evidenceWeight,
}

// Breakdown holds the component scores of one achievement.
type Breakdown struct {
	MetricStrength   float64 `json:"metric_strength"`
	ScopeSize        float64 `json:"scope_size"`
	EvidenceStrength float64 `json:"evidence_strength"`
	Total            float64 `json:"total"`
}

// Score returns the weighted score of a. It depends only on a.
func Score(a models.Achievement) Breakdown {
	b := Breakdown{
		MetricStrength:   MetricStrength(a.Metric),
		ScopeSize:        ScopeSize(scopeOf(a)),
		EvidenceStrength: EvidenceStrength(a),
	}
	b.Total = clamp(metricWeight*b.MetricStrength+scopeWeight*b.ScopeSize+evidenceWeight*b.EvidenceStrength, 0, 1)
	return b
}

// unitCeilings maps normalised units to the magnitude that earns full
// metric strength. Order matters for phrase matching: the first unit
// contained in a phrase wins.
var unitCeilings = []struct {
	unit    string
	ceiling float64
}{
	{"%", 100},
	{"percent", 100},
	{"pct", 100},
	{"users", 1_000_000},
	{"customers", 1_000_000},
	{"clients", 1_000_000},
	{"members", 1_000_000},
	{"downloads", 1_000_000},
	{"requests", 1_000_000},
	{"$", 10_000_000},
	{"usd", 10_000_000},
	{"eur", 10_000_000},
	{"gbp", 10_000_000},
	{"dollars", 10_000_000},
	{"revenue", 10_000_000},
	{"hours", 10_000},
	{"days", 1_000},
	{"x", 100},
	{"people", 1_000},
	{"engineers", 1_000},
}

const defaultCeiling = 1_000

// MetricStrength normalises the magnitude of m against its unit ceiling on
// a log scale. A nil metric yields exactly noMetricStrength.
func MetricStrength(m *models.Metric) float64 {
	if m == nil {
		return noMetricStrength
	}
	v := math.Abs(m.Value)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return noMetricStrength
	}
	ceiling := CeilingFor(m.Unit)
	s := math.Log10(1+v) / math.Log10(1+ceiling)
	return clamp(s, noMetricStrength, 1)
}

// CeilingFor returns the full-strength magnitude for unit.
func CeilingFor(unit string) float64 {
	u := strings.ToLower(strings.TrimSpace(unit))
	for _, uc := range unitCeilings {
		if u == uc.unit {
			return uc.ceiling
		}
	}
	// Unit phrases such as "active users" or "usd arr".
	for _, uc := range unitCeilings {
		if len(uc.unit) > 2 && strings.Contains(u, uc.unit) {
			return uc.ceiling
		}
	}
	return defaultCeiling
}

type scopeRule struct {
	keywords []string
	value    float64
}

// scopeRules are evaluated in order; the first keyword hit wins.
var scopeRules = []scopeRule{
	{[]string{"enterprise", "global", "worldwide", "organization-wide", "org-wide"}, 1.0},
	{[]string{"company-wide", "company wide", "companywide", "organization", "cross-functional"}, 0.9},
	{[]string{"department", "division", "business unit"}, 0.7},
	{[]string{"team", "squad"}, 0.6},
	{[]string{"project", "feature"}, 0.5},
}

// ScopeSize maps a free-text scope description to a categorical size.
func ScopeSize(scope string) float64 {
	s := strings.ToLower(strings.TrimSpace(scope))
	if s == "" {
		return defaultScope
	}
	for _, rule := range scopeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(s, kw) {
				return rule.value
			}
		}
	}
	return defaultScope
}

var actionVerbs = regexp.MustCompile(`(?i)\b(led|launched|built|designed|delivered|drove|grew|increased|reduced|cut|improved|scaled|shipped|automated|migrated|architected|founded|created|implemented|optimized|negotiated|managed|mentored|saved|generated|accelerated)\b`)

// HasActionVerb reports whether text contains a recognised action verb.
func HasActionVerb(text string) bool {
	return actionVerbs.MatchString(text)
}

// EvidenceStrength rates how well-supported a claim is.
func EvidenceStrength(a models.Achievement) float64 {
	s := evidenceBase
	if a.HasMetric() {
		s += 0.3
	}
	if a.HasScope() {
		s += 0.2
	}
	if HasActionVerb(a.RawText) {
		s += 0.1
	}
	if len(strings.TrimSpace(a.RawText)) > minEvidenceTextLen {
		s += 0.1
	}
	return math.Min(s, 1)
}

func scopeOf(a models.Achievement) string {
	if a.Metric == nil {
		return ""
	}
	return a.Metric.Scope
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
