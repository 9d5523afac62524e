package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperharvest/paperharvest/internal/classifier"
	"github.com/paperharvest/paperharvest/internal/paper"
	"github.com/paperharvest/paperharvest/internal/query"
)

func newTestManager(t *testing.T, queryText string, exclusions []string) *Manager {
	t.Helper()
	pred, err := query.Parse(queryText)
	require.NoError(t, err)
	return New(classifier.New(classifier.DefaultThresholds()), pred, exclusions)
}

func TestAcceptOrder(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, `("language model" OR "llm")`, []string{"blockchain"})

	tests := []struct {
		name  string
		cand  paper.Candidate
		ok    bool
		stage Stage
	}{
		{
			name: "accepted",
			cand: paper.Candidate{
				Title:    "Scaling Language Model Training",
				Abstract: "We study how large language models scale with data.",
			},
			ok:    true,
			stage: StageAccepted,
		},
		{
			name:  "empty title",
			cand:  paper.Candidate{Abstract: "An llm abstract with no title."},
			ok:    false,
			stage: StageClassifier,
		},
		{
			name: "classifier noise",
			cand: paper.Candidate{
				Title:    "LLM Engineer Wanted",
				Abstract: "We are hiring! Apply now to join our llm team.",
			},
			ok:    false,
			stage: StageClassifier,
		},
		{
			name: "user exclusion",
			cand: paper.Candidate{
				Title:    "LLM Agents on Blockchain Rails",
				Abstract: "A language model system for smart contracts.",
			},
			ok:    false,
			stage: StageExclusion,
		},
		{
			name: "query mismatch",
			cand: paper.Candidate{
				Title:    "Protein Folding Advances",
				Abstract: "A structural biology result with no relevant terms.",
			},
			ok:    false,
			stage: StageQuery,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, stage := m.Accept(tt.cand)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.stage, stage)
		})
	}
}

func TestExclusionsAreCaseInsensitive(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, `("llm")`, []string{"CRYPTO"})

	ok, stage := m.Accept(paper.Candidate{
		Title:    "LLM Trading Signals for Crypto Markets",
		Abstract: "An llm system for market prediction.",
	})
	assert.False(t, ok)
	assert.Equal(t, StageExclusion, stage)
}

func TestNilCollaboratorsAreSkipped(t *testing.T) {
	t.Parallel()
	m := New(nil, nil, nil)

	ok, stage := m.Accept(paper.Candidate{Title: "Anything"})
	assert.True(t, ok)
	assert.Equal(t, StageAccepted, stage)
}
