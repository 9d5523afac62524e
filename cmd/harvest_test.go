package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperharvest/paperharvest/internal/paper"
)

func TestResolveStartDateFlag(t *testing.T) {
	t.Parallel()

	got, err := resolveStartDate(paper.ModeBackfill, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestResolveStartDateBackfillRequiresFlag(t *testing.T) {
	t.Parallel()

	_, err := resolveStartDate(paper.ModeBackfill, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--start-date")
}

func TestResolveStartDateDailyDefaultsToYesterday(t *testing.T) {
	t.Parallel()

	got, err := resolveStartDate(paper.ModeDaily, "")
	require.NoError(t, err)
	assert.False(t, got.IsZero())
	assert.True(t, got.Before(time.Now().UTC()))
}

func TestResolveStartDateTestingIgnoresDate(t *testing.T) {
	t.Parallel()

	got, err := resolveStartDate(paper.ModeTesting, "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestResolveStartDateRejectsBadFormat(t *testing.T) {
	t.Parallel()

	_, err := resolveStartDate(paper.ModeDaily, "June 1st")
	assert.Error(t, err)
}
