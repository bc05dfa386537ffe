package strategy

import (
	"fmt"

	"binance-decision-core/internal/indicators"
	"binance-decision-core/internal/market"
)

const NameLevelBased = "level_based"

// LevelBased trades bounces off clustered swing support and rejections from
// swing resistance.
type LevelBased struct {
	config LevelBasedConfig
}

func NewLevelBased(config LevelBasedConfig) *LevelBased {
	return &LevelBased{config: config}
}

func (s *LevelBased) Name() string  { return NameLevelBased }
func (s *LevelBased) Priority() int { return s.config.Priority }

func (s *LevelBased) Evaluate(data MarketData) Evaluation {
	last, ok := data.LastCandle()
	if !ok {
		return invalid(s, "no candles")
	}
	touch := s.config.TouchPct / 100
	price := data.CurrentPrice

	if level, dist, ok := indicators.NearestLevel(price, data.Support); ok && dist <= touch && price >= level {
		if last.IsBullish() && data.Indicators.RSI <= 50+s.config.RSINeutralBand {
			confidence := s.config.BaseConfidence + (1-dist/touch)*0.2
			return signal(s, data, market.Long, confidence, level,
				fmt.Sprintf("bounce at support %.4f (%.2f%% away)", level, dist*100))
		}
	}

	if level, dist, ok := indicators.NearestLevel(price, data.Resistance); ok && dist <= touch && price <= level {
		if last.IsBearish() && data.Indicators.RSI >= 50-s.config.RSINeutralBand {
			confidence := s.config.BaseConfidence + (1-dist/touch)*0.2
			return signal(s, data, market.Short, confidence, level,
				fmt.Sprintf("rejection at resistance %.4f (%.2f%% away)", level, dist*100))
		}
	}

	return invalid(s, "price not at a level")
}
