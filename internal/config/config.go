// Package config provides configuration management for the simulation core.
//
// Every recognized option is declared here; no component reads environment
// variables, CLI flags or network configuration. Invalid values fail at
// Validate time, never at step time.
package config

import (
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"evotrader/internal/errors"
)

// Config holds all core configuration.
type Config struct {
	Sim        SimConfig        `mapstructure:"sim"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Curiosity  CuriosityConfig  `mapstructure:"curiosity"`
	Store      StoreConfig      `mapstructure:"store"`
	Curriculum CurriculumConfig `mapstructure:"curriculum"`
	Regime     RegimeConfig     `mapstructure:"regime"`
	Agent      AgentConfig      `mapstructure:"agent"`
}

// SimConfig holds market-simulator configuration.
type SimConfig struct {
	Instrument      string  `mapstructure:"instrument"`
	InitialBalance  float64 `mapstructure:"initial_balance"`
	FeeRate         float64 `mapstructure:"fee_rate"`
	MaxExposureMult float64 `mapstructure:"max_exposure_mult"`
	ReturnWindow    int     `mapstructure:"return_window"`
	UnitsPerLot     float64 `mapstructure:"units_per_lot"`
	MaxSteps        int     `mapstructure:"max_steps"` // 0 = run the whole frame
}

// RiskConfig holds hard-rule risk governor configuration.
type RiskConfig struct {
	MaxLots           float64 `mapstructure:"max_lots"`
	DailyLossPct      float64 `mapstructure:"daily_loss_pct"`
	MaxDrawdownPct    float64 `mapstructure:"max_drawdown_pct"`
	DynamicLotSizing  bool    `mapstructure:"dynamic_lot_sizing"`
	LotsPerReference  float64 `mapstructure:"lots_per_reference"`
	ReferenceEquity   float64 `mapstructure:"reference_equity"`
	TurbulenceLimit   float64 `mapstructure:"turbulence_limit"`
	NewsWindowMinutes int     `mapstructure:"news_window_minutes"`
}

// CuriosityConfig holds intrinsic-motivation configuration.
type CuriosityConfig struct {
	NoveltyWeight     float64 `mapstructure:"novelty_weight"`
	PredictionWeight  float64 `mapstructure:"prediction_weight"`
	PatternWeight     float64 `mapstructure:"pattern_weight"`
	MemorySize        int     `mapstructure:"memory_size"`
	NoveltyThreshold  float64 `mapstructure:"novelty_threshold"`
	PredictionLR      float64 `mapstructure:"prediction_lr"`
	DiscretizationBin int     `mapstructure:"discretization_bins"`
}

// StoreConfig holds experience-store configuration.
type StoreConfig struct {
	MaxSize  int    `mapstructure:"max_size"`
	SavePath string `mapstructure:"save_path"`
}

// LevelConfig holds the advancement thresholds for one curriculum level.
type LevelConfig struct {
	MinWinRate  float64 `mapstructure:"min_win_rate"`
	MinSharpe   float64 `mapstructure:"min_sharpe"`
	MinEpisodes int     `mapstructure:"min_episodes"`
}

// CurriculumConfig holds curriculum-manager configuration.
type CurriculumConfig struct {
	AllowRegression bool        `mapstructure:"allow_regression"`
	Easy            LevelConfig `mapstructure:"easy"`
	Medium          LevelConfig `mapstructure:"medium"`
	Hard            LevelConfig `mapstructure:"hard"`
	Expert          LevelConfig `mapstructure:"expert"`
	SavePath        string      `mapstructure:"save_path"`
}

// RegimeConfig holds regime-detector window configuration.
type RegimeConfig struct {
	TrendPeriod      int     `mapstructure:"trend_period"`
	VolatilityPeriod int     `mapstructure:"volatility_period"`
	MomentumPeriod   int     `mapstructure:"momentum_period"`
	RegimeThreshold  float64 `mapstructure:"regime_threshold"`
}

// AgentConfig holds hybrid-agent configuration.
type AgentConfig struct {
	ExtrinsicWeight float64 `mapstructure:"extrinsic_weight"`
	IntrinsicWeight float64 `mapstructure:"intrinsic_weight"`
	CuriosityWeight float64 `mapstructure:"curiosity_weight"`
	DataDir         string  `mapstructure:"data_dir"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".config", "evotrader", "data")
	return &Config{
		Sim: SimConfig{
			Instrument:      "XAUUSD",
			InitialBalance:  10000,
			FeeRate:         0.001,
			MaxExposureMult: 2.0,
			ReturnWindow:    100,
			UnitsPerLot:     100,
		},
		Risk: RiskConfig{
			MaxLots:           1.0,
			DailyLossPct:      0.05,
			MaxDrawdownPct:    0.20,
			DynamicLotSizing:  true,
			LotsPerReference:  1.0,
			ReferenceEquity:   10000,
			TurbulenceLimit:   120,
			NewsWindowMinutes: 30,
		},
		Curiosity: CuriosityConfig{
			NoveltyWeight:     0.3,
			PredictionWeight:  0.4,
			PatternWeight:     0.3,
			MemorySize:        10000,
			NoveltyThreshold:  0.1,
			PredictionLR:      0.01,
			DiscretizationBin: 10,
		},
		Store: StoreConfig{
			MaxSize:  50000,
			SavePath: filepath.Join(dataDir, "experiences.json"),
		},
		Curriculum: CurriculumConfig{
			AllowRegression: true,
			Easy:            LevelConfig{MinWinRate: 0.40, MinSharpe: 0.0, MinEpisodes: 10},
			Medium:          LevelConfig{MinWinRate: 0.45, MinSharpe: 0.3, MinEpisodes: 20},
			Hard:            LevelConfig{MinWinRate: 0.50, MinSharpe: 0.5, MinEpisodes: 30},
			Expert:          LevelConfig{MinWinRate: 0.55, MinSharpe: 0.7, MinEpisodes: 50},
			SavePath:        filepath.Join(dataDir, "curriculum.json"),
		},
		Regime: RegimeConfig{
			TrendPeriod:      20,
			VolatilityPeriod: 14,
			MomentumPeriod:   14,
			RegimeThreshold:  0.6,
		},
		Agent: AgentConfig{
			ExtrinsicWeight: 1.0,
			IntrinsicWeight: 0.1,
			CuriosityWeight: 0.1,
			DataDir:         dataDir,
		},
	}
}

// Load reads configuration from the given YAML file, layered over defaults.
// A missing file is not an error; an invalid one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every option for sanity. It is called by Load and by each
// component constructor on its own section.
func (c *Config) Validate() error {
	if err := c.Sim.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Curiosity.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Curriculum.Validate(); err != nil {
		return err
	}
	if err := c.Regime.Validate(); err != nil {
		return err
	}
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks simulator options.
func (c SimConfig) Validate() error {
	if c.InitialBalance <= 0 || !finite(c.InitialBalance) {
		return errors.NewConfigError("sim.initial_balance", c.InitialBalance, "must be positive and finite")
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 || !finite(c.FeeRate) {
		return errors.NewConfigError("sim.fee_rate", c.FeeRate, "must be in [0,1)")
	}
	if c.MaxExposureMult <= 0 {
		return errors.NewConfigError("sim.max_exposure_mult", c.MaxExposureMult, "must be positive")
	}
	if c.ReturnWindow < 10 {
		return errors.NewConfigError("sim.return_window", c.ReturnWindow, "must be at least 10")
	}
	if c.UnitsPerLot <= 0 {
		return errors.NewConfigError("sim.units_per_lot", c.UnitsPerLot, "must be positive")
	}
	if c.MaxSteps < 0 {
		return errors.NewConfigError("sim.max_steps", c.MaxSteps, "must be non-negative")
	}
	return nil
}

// Validate checks risk options.
func (c RiskConfig) Validate() error {
	if c.MaxLots <= 0 {
		return errors.NewConfigError("risk.max_lots", c.MaxLots, "must be positive")
	}
	if c.DailyLossPct <= 0 || c.DailyLossPct >= 1 {
		return errors.NewConfigError("risk.daily_loss_pct", c.DailyLossPct, "must be in (0,1)")
	}
	if c.MaxDrawdownPct <= 0 || c.MaxDrawdownPct >= 1 {
		return errors.NewConfigError("risk.max_drawdown_pct", c.MaxDrawdownPct, "must be in (0,1)")
	}
	if c.DynamicLotSizing {
		if c.LotsPerReference <= 0 {
			return errors.NewConfigError("risk.lots_per_reference", c.LotsPerReference, "must be positive with dynamic sizing")
		}
		if c.ReferenceEquity <= 0 {
			return errors.NewConfigError("risk.reference_equity", c.ReferenceEquity, "must be positive with dynamic sizing")
		}
	}
	if c.TurbulenceLimit <= 0 {
		return errors.NewConfigError("risk.turbulence_limit", c.TurbulenceLimit, "must be positive")
	}
	if c.NewsWindowMinutes < 0 {
		return errors.NewConfigError("risk.news_window_minutes", c.NewsWindowMinutes, "must be non-negative")
	}
	return nil
}

// Validate checks curiosity options.
func (c CuriosityConfig) Validate() error {
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"curiosity.novelty_weight", c.NoveltyWeight},
		{"curiosity.prediction_weight", c.PredictionWeight},
		{"curiosity.pattern_weight", c.PatternWeight},
	} {
		if w.value < 0 || !finite(w.value) {
			return errors.NewConfigError(w.name, w.value, "must be non-negative and finite")
		}
	}
	if c.MemorySize < 1 {
		return errors.NewConfigError("curiosity.memory_size", c.MemorySize, "must be positive")
	}
	if c.NoveltyThreshold < 0 || c.NoveltyThreshold > 1 {
		return errors.NewConfigError("curiosity.novelty_threshold", c.NoveltyThreshold, "must be in [0,1]")
	}
	if c.PredictionLR <= 0 || c.PredictionLR > 1 {
		return errors.NewConfigError("curiosity.prediction_lr", c.PredictionLR, "must be in (0,1]")
	}
	if c.DiscretizationBin < 2 {
		return errors.NewConfigError("curiosity.discretization_bins", c.DiscretizationBin, "must be at least 2")
	}
	return nil
}

// Validate checks store options.
func (c StoreConfig) Validate() error {
	if c.MaxSize < 1 {
		return errors.NewConfigError("store.max_size", c.MaxSize, "must be positive")
	}
	return nil
}

// Validate checks one level's thresholds.
func (c LevelConfig) Validate(name string) error {
	if c.MinWinRate < 0 || c.MinWinRate > 1 {
		return errors.NewConfigError(name+".min_win_rate", c.MinWinRate, "must be in [0,1]")
	}
	if !finite(c.MinSharpe) {
		return errors.NewConfigError(name+".min_sharpe", c.MinSharpe, "must be finite")
	}
	if c.MinEpisodes < 1 {
		return errors.NewConfigError(name+".min_episodes", c.MinEpisodes, "must be positive")
	}
	return nil
}

// Validate checks curriculum options.
func (c CurriculumConfig) Validate() error {
	for _, lv := range []struct {
		name string
		cfg  LevelConfig
	}{
		{"curriculum.easy", c.Easy},
		{"curriculum.medium", c.Medium},
		{"curriculum.hard", c.Hard},
		{"curriculum.expert", c.Expert},
	} {
		if err := lv.cfg.Validate(lv.name); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks regime-detector options.
func (c RegimeConfig) Validate() error {
	if c.TrendPeriod < 2 {
		return errors.NewConfigError("regime.trend_period", c.TrendPeriod, "must be at least 2")
	}
	if c.VolatilityPeriod < 2 {
		return errors.NewConfigError("regime.volatility_period", c.VolatilityPeriod, "must be at least 2")
	}
	if c.MomentumPeriod < 2 {
		return errors.NewConfigError("regime.momentum_period", c.MomentumPeriod, "must be at least 2")
	}
	if c.RegimeThreshold <= 0 || c.RegimeThreshold >= 1 {
		return errors.NewConfigError("regime.regime_threshold", c.RegimeThreshold, "must be in (0,1)")
	}
	return nil
}

// Validate checks agent options.
func (c AgentConfig) Validate() error {
	if c.ExtrinsicWeight < 0 || !finite(c.ExtrinsicWeight) {
		return errors.NewConfigError("agent.extrinsic_weight", c.ExtrinsicWeight, "must be non-negative and finite")
	}
	if c.IntrinsicWeight < 0 || !finite(c.IntrinsicWeight) {
		return errors.NewConfigError("agent.intrinsic_weight", c.IntrinsicWeight, "must be non-negative and finite")
	}
	if c.CuriosityWeight < 0 || c.CuriosityWeight > 1 {
		return errors.NewConfigError("agent.curiosity_weight", c.CuriosityWeight, "must be in [0,1]")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
