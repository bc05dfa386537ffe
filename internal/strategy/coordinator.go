package strategy

import (
	"fmt"
	"sort"

	"binance-decision-core/internal/logging"
)

// MinConfidenceFunc returns the minimum confidence (percent, 0-100) a candidate
// from the named strategy needs to survive the gate.
type MinConfidenceFunc func(strategyName string, priority int) float64

// ThresholdGate builds a MinConfidenceFunc from a global floor and per-strategy overrides
func ThresholdGate(global float64, overrides map[string]float64) MinConfidenceFunc {
	return func(name string, _ int) float64 {
		if v, ok := overrides[name]; ok {
			return v
		}
		return global
	}
}

// Decision is the coordinator's outcome for one tick
type Decision struct {
	Winner      *Evaluation  `json:"winner,omitempty"`
	Evaluations []Evaluation `json:"evaluations"`
	Candidates  int          `json:"candidates"`
	Reason      string       `json:"reason"`
}

// HasSignal reports whether a winner was selected
func (d Decision) HasSignal() bool { return d.Winner != nil }

// Coordinator runs every strategy on a shared snapshot and picks at most one winner
type Coordinator struct {
	strategies    []Strategy
	minConfidence MinConfidenceFunc
	logger        *logging.Logger
}

// NewCoordinator creates a coordinator over a fixed strategy list. A nil
// minConfidence disables the confidence gate.
func NewCoordinator(strategies []Strategy, minConfidence MinConfidenceFunc, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		strategies:    strategies,
		minConfidence: minConfidence,
		logger:        logger.WithComponent("coordinator"),
	}
}

// Strategies returns the registered strategies
func (c *Coordinator) Strategies() []Strategy {
	return c.strategies
}

// Evaluate collects every evaluation, drops invalid and HOLD results, orders the
// rest by ascending priority then descending confidence, applies the confidence
// gate and returns the first survivor.
func (c *Coordinator) Evaluate(data MarketData) Decision {
	evals := make([]Evaluation, 0, len(c.strategies))
	for _, s := range c.strategies {
		evals = append(evals, c.runOne(s, data))
	}

	candidates := make([]Evaluation, 0, len(evals))
	for _, e := range evals {
		if e.Actionable() {
			candidates = append(candidates, e)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Signal.Confidence > candidates[j].Signal.Confidence
	})

	decision := Decision{Evaluations: evals, Candidates: len(candidates)}

	for i := range candidates {
		cand := candidates[i]
		if c.minConfidence != nil {
			floor := c.minConfidence(cand.StrategyName, cand.Priority)
			if cand.Signal.Confidence*100 < floor {
				c.logger.Debug("Candidate below confidence floor",
					"strategy", cand.StrategyName,
					"confidence", cand.Signal.Confidence,
					"floor_pct", floor)
				continue
			}
		}
		decision.Winner = &cand
		decision.Reason = fmt.Sprintf("%s won: %s", cand.StrategyName, cand.Signal.Reason)
		c.logger.Info("Strategy selected",
			"symbol", data.Symbol,
			"strategy", cand.StrategyName,
			"direction", string(cand.Signal.Direction),
			"confidence", cand.Signal.Confidence,
			"priority", cand.Priority)
		return decision
	}

	if len(candidates) == 0 {
		decision.Reason = "no valid signals"
	} else {
		decision.Reason = fmt.Sprintf("%d candidates below confidence floor", len(candidates))
	}
	return decision
}

// runOne evaluates a strategy, turning a panic into an invalid evaluation
func (c *Coordinator) runOne(s Strategy, data MarketData) (eval Evaluation) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Strategy evaluation panicked", "strategy", s.Name(), "panic", fmt.Sprint(r))
			eval = Evaluation{
				Valid:        false,
				StrategyName: s.Name(),
				Priority:     s.Priority(),
				Reason:       fmt.Sprintf("evaluator panic: %v", r),
			}
		}
	}()
	eval = s.Evaluate(data)
	if eval.StrategyName == "" {
		eval.StrategyName = s.Name()
	}
	return eval
}
