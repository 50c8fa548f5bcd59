package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"evotrader/internal/errors"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sim:
  instrument: EURUSD
  initial_balance: 25000
risk:
  max_lots: 2.5
curriculum:
  allow_regression: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "EURUSD", cfg.Sim.Instrument)
	require.Equal(t, 25000.0, cfg.Sim.InitialBalance)
	require.Equal(t, 2.5, cfg.Risk.MaxLots)
	require.False(t, cfg.Curriculum.AllowRegression)

	// Untouched sections keep their defaults.
	require.Equal(t, Default().Curiosity, cfg.Curiosity)
	require.Equal(t, Default().Sim.FeeRate, cfg.Sim.FeeRate)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sim:
  fee_rate: 1.5
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sim: [not: mapping"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestSectionValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative balance", func(c *Config) { c.Sim.InitialBalance = -1 }},
		{"fee rate above one", func(c *Config) { c.Sim.FeeRate = 1 }},
		{"tiny return window", func(c *Config) { c.Sim.ReturnWindow = 5 }},
		{"zero max lots", func(c *Config) { c.Risk.MaxLots = 0 }},
		{"daily loss out of range", func(c *Config) { c.Risk.DailyLossPct = 1 }},
		{"dynamic sizing without reference", func(c *Config) { c.Risk.ReferenceEquity = 0 }},
		{"zero memory size", func(c *Config) { c.Curiosity.MemorySize = 0 }},
		{"single discretization bin", func(c *Config) { c.Curiosity.DiscretizationBin = 1 }},
		{"prediction lr zero", func(c *Config) { c.Curiosity.PredictionLR = 0 }},
		{"zero store size", func(c *Config) { c.Store.MaxSize = 0 }},
		{"win rate above one", func(c *Config) { c.Curriculum.Hard.MinWinRate = 1.2 }},
		{"zero min episodes", func(c *Config) { c.Curriculum.Easy.MinEpisodes = 0 }},
		{"short trend period", func(c *Config) { c.Regime.TrendPeriod = 1 }},
		{"regime threshold at one", func(c *Config) { c.Regime.RegimeThreshold = 1 }},
		{"curiosity weight above one", func(c *Config) { c.Agent.CuriosityWeight = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDynamicSizingDisabledSkipsReferenceChecks(t *testing.T) {
	cfg := Default()
	cfg.Risk.DynamicLotSizing = false
	cfg.Risk.ReferenceEquity = 0
	cfg.Risk.LotsPerReference = 0
	require.NoError(t, cfg.Validate())
}
