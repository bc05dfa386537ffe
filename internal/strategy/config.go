package strategy

// Common per-strategy settings
type Common struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Priority ranks the strategy in the coordinator; lower wins
	Priority int `json:"priority" yaml:"priority" validate:"gte=0"`
	// MinConfidence overrides the coordinator floor (percent) when > 0
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=100"`
}

// TrendFollowingConfig configures the EMA pullback strategy
type TrendFollowingConfig struct {
	Common         `yaml:",inline"`
	PullbackPct    float64 `json:"pullback_pct" yaml:"pullback_pct" default:"0.5"`
	RSIOverbought  float64 `json:"rsi_overbought" yaml:"rsi_overbought" default:"70"`
	RSIOversold    float64 `json:"rsi_oversold" yaml:"rsi_oversold" default:"30"`
	MinConsecutive int     `json:"min_consecutive" yaml:"min_consecutive" default:"1"`
	BaseConfidence float64 `json:"base_confidence" yaml:"base_confidence" default:"0.6"`
}

// LevelBasedConfig configures the support/resistance bounce strategy
type LevelBasedConfig struct {
	Common         `yaml:",inline"`
	TouchPct       float64 `json:"touch_pct" yaml:"touch_pct" default:"0.3"`
	RSINeutralBand float64 `json:"rsi_neutral_band" yaml:"rsi_neutral_band" default:"10"`
	BaseConfidence float64 `json:"base_confidence" yaml:"base_confidence" default:"0.55"`
}

// CounterTrendConfig configures the divergence reversal strategy
type CounterTrendConfig struct {
	Common         `yaml:",inline"`
	RSIOverbought  float64 `json:"rsi_overbought" yaml:"rsi_overbought" default:"70"`
	RSIOversold    float64 `json:"rsi_oversold" yaml:"rsi_oversold" default:"30"`
	BaseConfidence float64 `json:"base_confidence" yaml:"base_confidence" default:"0.5"`
}

// PriceActionConfig configures the liquidity sweep strategy
type PriceActionConfig struct {
	Common         `yaml:",inline"`
	MinWickRatio   float64 `json:"min_wick_ratio" yaml:"min_wick_ratio" default:"0.5"`
	MinVolumeRatio float64 `json:"min_volume_ratio" yaml:"min_volume_ratio" default:"1.2"`
	BaseConfidence float64 `json:"base_confidence" yaml:"base_confidence" default:"0.55"`
}

// WhaleHunterConfig configures the order book imbalance strategy
type WhaleHunterConfig struct {
	Common             `yaml:",inline"`
	ImbalanceThreshold float64 `json:"imbalance_threshold" yaml:"imbalance_threshold" default:"0.65" validate:"gt=0.5,lt=1"`
	MinTotalVolume     float64 `json:"min_total_volume" yaml:"min_total_volume"`
	BaseConfidence     float64 `json:"base_confidence" yaml:"base_confidence" default:"0.5"`
}

// BreakoutRetestConfig configures the breakout and retest strategy
type BreakoutRetestConfig struct {
	Common          `yaml:",inline"`
	LookbackCandles int     `json:"lookback_candles" yaml:"lookback_candles" default:"10"`
	RetestPct       float64 `json:"retest_pct" yaml:"retest_pct" default:"0.3"`
	MinVolumeRatio  float64 `json:"min_volume_ratio" yaml:"min_volume_ratio" default:"1.5"`
	BaseConfidence  float64 `json:"base_confidence" yaml:"base_confidence" default:"0.6"`
}

// Config groups every strategy's settings
type Config struct {
	TrendFollowing TrendFollowingConfig `json:"trend_following" yaml:"trend_following"`
	LevelBased     LevelBasedConfig     `json:"level_based" yaml:"level_based"`
	CounterTrend   CounterTrendConfig   `json:"counter_trend" yaml:"counter_trend"`
	PriceAction    PriceActionConfig    `json:"price_action" yaml:"price_action"`
	WhaleHunter    WhaleHunterConfig    `json:"whale_hunter" yaml:"whale_hunter"`
	BreakoutRetest BreakoutRetestConfig `json:"breakout_retest" yaml:"breakout_retest"`
}

// DefaultConfig returns every strategy enabled with its default priority
func DefaultConfig() Config {
	return Config{
		TrendFollowing: TrendFollowingConfig{
			Common:      Common{Enabled: true, Priority: 3},
			PullbackPct: 0.5, RSIOverbought: 70, RSIOversold: 30, MinConsecutive: 1, BaseConfidence: 0.6,
		},
		LevelBased: LevelBasedConfig{
			Common:   Common{Enabled: true, Priority: 1},
			TouchPct: 0.3, RSINeutralBand: 10, BaseConfidence: 0.55,
		},
		CounterTrend: CounterTrendConfig{
			Common:        Common{Enabled: true, Priority: 5},
			RSIOverbought: 70, RSIOversold: 30, BaseConfidence: 0.5,
		},
		PriceAction: PriceActionConfig{
			Common:       Common{Enabled: true, Priority: 4},
			MinWickRatio: 0.5, MinVolumeRatio: 1.2, BaseConfidence: 0.55,
		},
		WhaleHunter: WhaleHunterConfig{
			Common:             Common{Enabled: true, Priority: 6},
			ImbalanceThreshold: 0.65, BaseConfidence: 0.5,
		},
		BreakoutRetest: BreakoutRetestConfig{
			Common:          Common{Enabled: true, Priority: 2},
			LookbackCandles: 10, RetestPct: 0.3, MinVolumeRatio: 1.5, BaseConfidence: 0.6,
		},
	}
}

// BuildDefaultSet returns the fixed strategy list, skipping disabled entries.
// Each call returns fresh instances so sessions never share strategy state.
func BuildDefaultSet(cfg Config) []Strategy {
	var set []Strategy
	if cfg.LevelBased.Enabled {
		set = append(set, NewLevelBased(cfg.LevelBased))
	}
	if cfg.BreakoutRetest.Enabled {
		set = append(set, NewBreakoutRetest(cfg.BreakoutRetest))
	}
	if cfg.TrendFollowing.Enabled {
		set = append(set, NewTrendFollowing(cfg.TrendFollowing))
	}
	if cfg.PriceAction.Enabled {
		set = append(set, NewPriceAction(cfg.PriceAction))
	}
	if cfg.CounterTrend.Enabled {
		set = append(set, NewCounterTrend(cfg.CounterTrend))
	}
	if cfg.WhaleHunter.Enabled {
		set = append(set, NewWhaleHunter(cfg.WhaleHunter))
	}
	return set
}

// MinConfidenceOverrides maps strategy names to their configured floors
func (c Config) MinConfidenceOverrides() map[string]float64 {
	out := map[string]float64{}
	add := func(name string, v float64) {
		if v > 0 {
			out[name] = v
		}
	}
	add(NameTrendFollowing, c.TrendFollowing.MinConfidence)
	add(NameLevelBased, c.LevelBased.MinConfidence)
	add(NameCounterTrend, c.CounterTrend.MinConfidence)
	add(NamePriceAction, c.PriceAction.MinConfidence)
	add(NameWhaleHunter, c.WhaleHunter.MinConfidence)
	add(NameBreakoutRetest, c.BreakoutRetest.MinConfidence)
	return out
}
