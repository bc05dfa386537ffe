package analysis

import (
	"context"
	"fmt"
	"math"

	"binance-decision-core/internal/indicators"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
)

// FilterMode selects how the context analyzer reacts to a poor environment
type FilterMode string

const (
	ModeHardBlock   FilterMode = "HARD_BLOCK"
	ModeWeightBased FilterMode = "WEIGHT_BASED"
)

// Blocked-reason codes
const (
	BlockInsufficientData = "INSUFFICIENT_DATA"
	BlockDataUnavailable  = "DATA_UNAVAILABLE"
	BlockATRTooLow        = "ATR_TOO_LOW"
	BlockATRTooHigh       = "ATR_TOO_HIGH"
	BlockPriceTooFar      = "PRICE_TOO_FAR"
)

// Weight-based floors
const (
	ATRModifierFloor     = 0.5
	EMAModifierFloor     = 0.3
	NeutralTrendModifier = 0.8
)

// ContextConfig configures higher-timeframe gating
type ContextConfig struct {
	Mode              FilterMode `json:"mode" yaml:"mode" default:"HARD_BLOCK" validate:"oneof=HARD_BLOCK WEIGHT_BASED"`
	MinCandles        int        `json:"min_candles" yaml:"min_candles" default:"60" validate:"gt=0"`
	CandleLimit       int        `json:"candle_limit" yaml:"candle_limit" default:"150" validate:"gtefield=MinCandles"`
	EMAPeriod         int        `json:"ema_period" yaml:"ema_period" default:"50" validate:"gt=0"`
	ATRPeriod         int        `json:"atr_period" yaml:"atr_period" default:"14" validate:"gt=0"`
	MinATRPercent     float64    `json:"min_atr_percent" yaml:"min_atr_percent" default:"0.3"`
	MaxATRPercent     float64    `json:"max_atr_percent" yaml:"max_atr_percent" default:"5"`
	MaxEMADistance    float64    `json:"max_ema_distance" yaml:"max_ema_distance" default:"3"`
	DisableATRCheck   bool       `json:"disable_atr_check" yaml:"disable_atr_check"`
	SwingLookback     int        `json:"swing_lookback" yaml:"swing_lookback" default:"5"`
	EqualTolerancePct float64    `json:"equal_tolerance_pct" yaml:"equal_tolerance_pct" default:"0.1"`
}

// RequiredCandles is the shortest series that yields both the EMA and the ATR
func (c ContextConfig) RequiredCandles() int {
	return max(c.MinCandles, c.EMAPeriod, c.ATRPeriod+1)
}

// TradingContext is the per-tick verdict on the broader environment
type TradingContext struct {
	Trend           market.TrendBias `json:"trend"`
	MarketStructure MarketStructure  `json:"market_structure"`
	ATRPercent      float64          `json:"atr_percent"`
	EMADistance     float64          `json:"ema_distance"`
	LastClose       float64          `json:"last_close"`
	EMA             float64          `json:"ema"`
	ATRModifier     float64          `json:"atr_modifier"`
	EMAModifier     float64          `json:"ema_modifier"`
	TrendModifier   float64          `json:"trend_modifier"`
	OverallModifier float64          `json:"overall_modifier"`
	IsValidContext  bool             `json:"is_valid_context"`
	BlockedBy       []string         `json:"blocked_by"`
	Warnings        []string         `json:"warnings"`
	Mode            FilterMode       `json:"mode"`
}

// ContextAnalyzer decides whether the higher timeframe permits trading
type ContextAnalyzer struct {
	cfg      ContextConfig
	provider market.CandleProvider
	logger   *logging.Logger
}

// NewContextAnalyzer creates a new context analyzer
func NewContextAnalyzer(cfg ContextConfig, provider market.CandleProvider, logger *logging.Logger) *ContextAnalyzer {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHardBlock
	}
	if cfg.EqualTolerancePct <= 0 {
		cfg.EqualTolerancePct = DefaultEqualTolerancePct
	}
	return &ContextAnalyzer{
		cfg:      cfg,
		provider: provider,
		logger:   logger.WithComponent("context"),
	}
}

// Analyze fetches higher-timeframe candles and produces a TradingContext.
// It never returns an error: fetch failures and short series fail closed.
func (ca *ContextAnalyzer) Analyze(ctx context.Context) TradingContext {
	required := ca.cfg.RequiredCandles()
	limit := max(ca.cfg.CandleLimit, required)

	candles, err := ca.provider.GetCandles(ctx, market.RoleHigher, limit)
	if err != nil {
		ca.logger.Warn("Higher timeframe fetch failed, blocking", "error", err)
		return blockedContext(ca.cfg.Mode, BlockDataUnavailable)
	}
	if len(candles) < required {
		return blockedContext(ca.cfg.Mode, BlockInsufficientData)
	}

	return ca.Evaluate(candles)
}

// Evaluate scores an already-fetched higher-timeframe series
func (ca *ContextAnalyzer) Evaluate(candles []market.Candle) TradingContext {
	if len(candles) == 0 || len(candles) < ca.cfg.RequiredCandles() {
		return blockedContext(ca.cfg.Mode, BlockInsufficientData)
	}

	last := candles[len(candles)-1].Close
	atr := indicators.Last(indicators.ATR(candles, ca.cfg.ATRPeriod))
	ema := indicators.Last(indicators.EMA(candles, ca.cfg.EMAPeriod))

	tc := TradingContext{
		LastClose: last,
		EMA:       ema,
		Mode:      ca.cfg.Mode,
		BlockedBy: []string{},
		Warnings:  []string{},
	}
	if last > 0 {
		tc.ATRPercent = atr / last * 100
	}
	if ema > 0 {
		tc.EMADistance = math.Abs(last-ema) / ema * 100
	}

	swings := indicators.FindSwings(candles, ca.cfg.SwingLookback)
	highs, lows := market.SplitSwings(swings)
	tc.MarketStructure = IdentifyStructure(highs, lows, ca.cfg.EqualTolerancePct)
	tc.Trend = GetTrendBias(tc.MarketStructure)

	switch ca.cfg.Mode {
	case ModeWeightBased:
		ca.applyWeights(&tc)
	default:
		ca.applyHardBlock(&tc)
	}

	ca.logger.Debug("Context evaluated",
		"trend", string(tc.Trend),
		"atr_percent", tc.ATRPercent,
		"ema_distance", tc.EMADistance,
		"overall_modifier", tc.OverallModifier,
		"valid", tc.IsValidContext)

	return tc
}

func (ca *ContextAnalyzer) applyHardBlock(tc *TradingContext) {
	if !ca.cfg.DisableATRCheck {
		if tc.ATRPercent < ca.cfg.MinATRPercent {
			tc.BlockedBy = append(tc.BlockedBy, BlockATRTooLow)
		} else if ca.cfg.MaxATRPercent > 0 && tc.ATRPercent > ca.cfg.MaxATRPercent {
			tc.BlockedBy = append(tc.BlockedBy, BlockATRTooHigh)
		}
	}
	if ca.cfg.MaxEMADistance > 0 && tc.EMADistance > ca.cfg.MaxEMADistance {
		tc.BlockedBy = append(tc.BlockedBy, BlockPriceTooFar)
	}
	if tc.Trend == market.Neutral {
		tc.Warnings = append(tc.Warnings, "higher timeframe trend is neutral")
	}

	if len(tc.BlockedBy) > 0 {
		tc.IsValidContext = false
		tc.ATRModifier, tc.EMAModifier, tc.TrendModifier, tc.OverallModifier = 0, 0, 0, 0
		return
	}

	tc.IsValidContext = true
	tc.ATRModifier, tc.EMAModifier, tc.TrendModifier = 1, 1, 1
	tc.OverallModifier = 1
}

func (ca *ContextAnalyzer) applyWeights(tc *TradingContext) {
	tc.ATRModifier, tc.EMAModifier, tc.TrendModifier = 1, 1, 1

	if !ca.cfg.DisableATRCheck {
		switch {
		case tc.ATRPercent < ca.cfg.MinATRPercent && ca.cfg.MinATRPercent > 0:
			tc.ATRModifier = math.Max(ATRModifierFloor, tc.ATRPercent/ca.cfg.MinATRPercent)
			tc.Warnings = append(tc.Warnings, fmt.Sprintf("low volatility: ATR %.2f%% below %.2f%%", tc.ATRPercent, ca.cfg.MinATRPercent))
		case ca.cfg.MaxATRPercent > 0 && tc.ATRPercent > ca.cfg.MaxATRPercent:
			excess := (tc.ATRPercent - ca.cfg.MaxATRPercent) / ca.cfg.MaxATRPercent
			tc.ATRModifier = math.Max(ATRModifierFloor, 1-excess)
			tc.Warnings = append(tc.Warnings, fmt.Sprintf("high volatility: ATR %.2f%% above %.2f%%", tc.ATRPercent, ca.cfg.MaxATRPercent))
		}
	}

	if ca.cfg.MaxEMADistance > 0 && tc.EMADistance > ca.cfg.MaxEMADistance {
		excess := (tc.EMADistance - ca.cfg.MaxEMADistance) / ca.cfg.MaxEMADistance
		tc.EMAModifier = math.Max(EMAModifierFloor, 1-excess)
		tc.Warnings = append(tc.Warnings, fmt.Sprintf("price %.2f%% from EMA", tc.EMADistance))
	}

	if tc.Trend == market.Neutral {
		tc.TrendModifier = NeutralTrendModifier
		tc.Warnings = append(tc.Warnings, "higher timeframe trend is neutral")
	}

	tc.OverallModifier = clamp(tc.ATRModifier*tc.EMAModifier*tc.TrendModifier, 0, 1)
	tc.IsValidContext = true
}

func blockedContext(mode FilterMode, reason string) TradingContext {
	return TradingContext{
		Trend:           market.Neutral,
		MarketStructure: MarketStructure{Highs: Unknown, Lows: Unknown},
		Mode:            mode,
		IsValidContext:  false,
		BlockedBy:       []string{reason},
		Warnings:        []string{},
	}
}
