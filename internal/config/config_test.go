package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  use_memory: true
query:
  text: '("transformer")'
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "TESTING", cfg.Mode)
	profile, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, 10, profile.PerSourceLimit)
	assert.Equal(t, 5, profile.BatchSize)
	assert.False(t, profile.EnforceDateFloor)

	assert.Equal(t, 100*time.Millisecond, cfg.Supervisor.HeartbeatInterval)
	assert.Equal(t, 600*time.Second, cfg.Supervisor.WorkerTimeout)
	assert.Equal(t, 5, cfg.Supervisor.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Supervisor.RetryDelay)
	assert.True(t, cfg.Sources.Arxiv.Enabled)
}

func TestLoadModeProfiles(t *testing.T) {
	path := writeConfig(t, `
mode: DAILY
database:
  use_memory: true
query:
  text: '("transformer")'
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	profile, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, 50, profile.PerSourceLimit)
	assert.Equal(t, 20, profile.BatchSize)
	assert.True(t, profile.EnforceDateFloor)
}

func TestBackfillIsUnlimited(t *testing.T) {
	path := writeConfig(t, `
mode: BACKFILL
database:
  use_memory: true
query:
  text: '("transformer")'
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	profile, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, 0, profile.PerSourceLimit, "0 means unlimited")
	assert.Equal(t, 10, profile.BatchSize)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown mode",
			body: "mode: WEEKLY\ndatabase:\n  use_memory: true\nquery:\n  text: '(\"a\")'\n",
			want: "mode",
		},
		{
			name: "missing dsn",
			body: "query:\n  text: '(\"a\")'\n",
			want: "database.dsn",
		},
		{
			name: "missing query",
			body: "database:\n  use_memory: true\n",
			want: "query.text",
		},
		{
			name: "labscrape without seeds",
			body: "database:\n  use_memory: true\nquery:\n  text: '(\"a\")'\nsources:\n  labscrape:\n    enabled: true\n",
			want: "seeds",
		},
		{
			name: "cloud without bucket",
			body: "database:\n  use_memory: true\nquery:\n  text: '(\"a\")'\ncloud:\n  enabled: true\n",
			want: "bucket",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestModeIsNormalized(t *testing.T) {
	path := writeConfig(t, `
mode: daily
database:
  use_memory: true
query:
  text: '("transformer")'
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DAILY", cfg.Mode)
}
