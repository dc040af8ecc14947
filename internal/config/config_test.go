package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Assistant.APIURL)
	assert.Equal(t, 10, cfg.Matching.BatchSize)
	assert.Equal(t, 20, cfg.Matching.RelevanceCap)
	assert.Equal(t, 50, cfg.Matching.JobHistory)
	assert.Equal(t, 60, cfg.Sandbox.ExecBudget)
	assert.Equal(t, "/data/docforge.db", cfg.Storage.DBPath)
	assert.Equal(t, language.English, cfg.System.DefaultLanguage)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MATCH_BATCH_SIZE", "5")
	t.Setenv("DATA_DIR", "/var/lib/docforge")
	t.Setenv("DEFAULT_LANGUAGE", "de")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Matching.BatchSize)
	assert.Equal(t, "/var/lib/docforge/docforge.db", cfg.Storage.DBPath)
	assert.Equal(t, language.German, cfg.System.DefaultLanguage)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("MATCH_BATCH_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Matching.BatchSize)
}

func TestValidate_RequiresAPIKey(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Assistant.APIKey = ""

	assert.Error(t, cfg.Validate())

	cfg.Assistant.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}
