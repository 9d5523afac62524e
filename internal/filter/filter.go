// Package filter composes the noise classifier, the user exclusion list, and
// the parsed boolean query into a single accept/reject decision.
package filter

import (
	"strings"

	"github.com/paperharvest/paperharvest/internal/classifier"
	"github.com/paperharvest/paperharvest/internal/paper"
	"github.com/paperharvest/paperharvest/internal/query"
)

// Stage identifies which check rejected a candidate, for diagnostics.
type Stage string

// Rejection stages, in evaluation order. StageAccepted means no check fired.
const (
	StageClassifier Stage = "classifier"
	StageExclusion  Stage = "exclusion"
	StageQuery      Stage = "query"
	StageAccepted   Stage = "accepted"
)

// Manager decides whether a candidate is worth storing. It is a pure
// predicate: no side effects, safe for concurrent use. Callers log the
// returned stage when a candidate is rejected.
type Manager struct {
	classifier *classifier.Classifier
	predicate  *query.Predicate
	exclusions []string
}

// New builds a Manager. The predicate must already be parsed; exclusions are
// plain-text terms supplied outside the structured query and may be nil.
func New(c *classifier.Classifier, pred *query.Predicate, exclusions []string) *Manager {
	cleaned := make([]string, 0, len(exclusions))
	for _, term := range exclusions {
		term = strings.TrimSpace(term)
		if term != "" {
			cleaned = append(cleaned, strings.ToLower(term))
		}
	}
	return &Manager{
		classifier: c,
		predicate:  pred,
		exclusions: cleaned,
	}
}

// Accept evaluates the checks cheapest-signal first and short-circuits on the
// first rejection: classifier, then user exclusions, then the query
// predicate. A candidate without a title is never accepted.
func (m *Manager) Accept(c paper.Candidate) (bool, Stage) {
	if strings.TrimSpace(c.Title) == "" {
		return false, StageClassifier
	}
	if m.classifier != nil && m.classifier.IsNoise(c.Title, c.Abstract) {
		return false, StageClassifier
	}

	content := strings.ToLower(c.Title + " " + c.Abstract)
	for _, term := range m.exclusions {
		if strings.Contains(content, term) {
			return false, StageExclusion
		}
	}

	if m.predicate != nil && !m.predicate.Match(c.Title+" "+c.Abstract) {
		return false, StageQuery
	}
	return true, StageAccepted
}
