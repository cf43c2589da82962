package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bredelings/argweaver/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultNtimes, cfg.Model.Ntimes)
	assert.InDelta(t, config.DefaultMaxtime, cfg.Model.Maxtime, 0)
	assert.InDelta(t, config.DefaultRho, cfg.Model.Rho, 0)
	assert.InDelta(t, config.DefaultMu, cfg.Model.Mu, 0)
	assert.Equal(t, 0, cfg.Resamples)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	content := "model:\n  ntimes: 10\n  maxtime: 50000\nresamples: 3\nsites: data.sites\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Model.Ntimes)
	assert.InDelta(t, 50000.0, cfg.Model.Maxtime, 0)
	assert.Equal(t, 3, cfg.Resamples)
	assert.Equal(t, "data.sites", cfg.Sites)

	// untouched keys keep their defaults
	assert.InDelta(t, config.DefaultPopsize, cfg.Model.Popsize, 0)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  ntimes: 1\n"), 0o644))

	_, err := config.LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate_MutuallyExclusiveInputs(t *testing.T) {
	cfg := &config.Config{
		Model: config.ModelConfig{
			Ntimes:  config.DefaultNtimes,
			Maxtime: config.DefaultMaxtime,
			Popsize: config.DefaultPopsize,
			Rho:     config.DefaultRho,
			Mu:      config.DefaultMu,
		},
		Sites: "a.sites",
		Fasta: "b.fa",
	}

	assert.Error(t, cfg.Validate())
}
