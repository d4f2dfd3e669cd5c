package scoring

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// ErrNumericTokensAltered is returned when an enhanced statement does not
// carry exactly the numbers of its source.
var ErrNumericTokensAltered = errors.New("enhancement altered numeric tokens")

// Confidence assigned to enhanced statements.
const (
	polishConfidence  = 0.9
	contextConfidence = 0.6
)

// NeedsEnhancement reports whether a should be sent to the enhancer: it has
// no finished impact statement, or its statement is still raw user input.
func NeedsEnhancement(a models.Achievement) bool {
	if a.ImpactStatement == nil || strings.TrimSpace(*a.ImpactStatement) == "" {
		return true
	}
	return a.Provenance == models.ProvenanceUser || a.Provenance == ""
}

// ProvenanceFor returns the provenance, confidence and review flag an
// enhancement of a receives. Enhancements without a hard metric need review.
func ProvenanceFor(a models.Achievement) (models.Provenance, float64, bool) {
	if a.HasMetric() {
		return models.ProvenanceModelPolish, polishConfidence, false
	}
	return models.ProvenanceModelContext, contextConfidence, true
}

var numericToken = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// NumericTokens returns the numbers in text in order of appearance, with
// thousands separators removed.
func NumericTokens(text string) []string {
	raw := numericToken.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		out = append(out, strings.ReplaceAll(tok, ",", ""))
	}
	return out
}

// VerifyNumericTokens checks that enhanced contains the same multiset of
// numeric tokens as source.
func VerifyNumericTokens(source, enhanced string) error {
	want := countTokens(NumericTokens(source))
	got := countTokens(NumericTokens(enhanced))
	for tok, n := range want {
		if got[tok] != n {
			return fmt.Errorf("%w: %q appears %d times, want %d", ErrNumericTokensAltered, tok, got[tok], n)
		}
	}
	for tok, n := range got {
		if _, ok := want[tok]; !ok {
			return fmt.Errorf("%w: unexpected %q (x%d)", ErrNumericTokensAltered, tok, n)
		}
	}
	return nil
}

func countTokens(toks []string) map[string]int {
	m := make(map[string]int, len(toks))
	for _, t := range toks {
		m[t]++
	}
	return m
}

// ApplyEnhancement records statement on a, enforcing the numeric-token
// contract. RawText is left untouched.
func ApplyEnhancement(a *models.Achievement, statement string) error {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return errors.New("empty enhancement")
	}
	if err := VerifyNumericTokens(a.RawText, statement); err != nil {
		return err
	}
	prov, conf, review := ProvenanceFor(*a)
	a.ImpactStatement = &statement
	a.Provenance = prov
	a.Confidence = conf
	a.RequiresReview = review
	return nil
}
