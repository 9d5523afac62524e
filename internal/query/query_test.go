package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleConjunction(t *testing.T) {
	t.Parallel()

	p, err := Parse(`"machine learning" AND "robotics"`)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"machine learning"}, {"robotics"}}, p.Groups())
	assert.Empty(t, p.Exclusions())
}

func TestParseORGroups(t *testing.T) {
	t.Parallel()

	p, err := Parse(`("deep learning" OR "neural network") AND ("vision" OR "image")`)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"deep learning", "neural network"},
		{"vision", "image"},
	}, p.Groups())
}

func TestParseWithExclusions(t *testing.T) {
	t.Parallel()

	p, err := Parse(`"transformer" ANDNOT ("survey" OR "tutorial")`)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"transformer"}}, p.Groups())
	assert.Equal(t, []string{"survey", "tutorial"}, p.Exclusions())
}

func TestParseInvalidQueries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		problem string
	}{
		{"unbalanced parens", `("a" OR "b"`, "paren"},
		{"unbalanced quotes", `"a AND "b"`, "quote"},
		{"empty query", ``, "empty"},
		{"empty group", `() AND "a"`, "empty group"},
		{"unrecognized operator", `"a" XOR "b"`, "unrecognized operator"},
		{"only exclusions", `ANDNOT ("a")`, "no inclusion terms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.in)
			require.Error(t, err)

			var invalid *InvalidQueryError
			require.True(t, errors.As(err, &invalid), "want InvalidQueryError, got %T", err)
			require.NotEmpty(t, invalid.Problems)
			found := false
			for _, p := range invalid.Problems {
				if strings.Contains(p, tt.problem) {
					found = true
				}
			}
			assert.True(t, found, "problems %v should mention %q", invalid.Problems, tt.problem)
		})
	}
}

func TestPredicateMatch(t *testing.T) {
	t.Parallel()

	p, err := Parse(`("reinforcement learning" OR "rl agent") AND "robotics" ANDNOT ("survey")`)
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			"matches one term per group",
			"Scaling RL Agent training for robotics manipulation",
			true,
		},
		{
			"case insensitive",
			"REINFORCEMENT LEARNING for ROBOTICS",
			true,
		},
		{
			"missing a group",
			"Reinforcement learning for game playing",
			false,
		},
		{
			"exclusion wins",
			"A survey of reinforcement learning in robotics",
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Match(tt.text))
		})
	}
}
