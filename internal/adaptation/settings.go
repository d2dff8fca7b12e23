package adaptation

import (
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
)

// LoopConfigFromSettings maps file configuration onto loop parameters
func LoopConfigFromSettings(a config.AdaptationConfig) LoopConfig {
	return LoopConfig{
		TargetRateHz:  a.TargetRateHz,
		AccuracyHz:    a.AccuracyHz,
		MaxIterations: a.MaxIterations,
		InitialWeight: a.InitialWeight,
		LeftX:         a.WeightLower,
		RightX:        a.WeightUpper,
		LowerY:        a.RateLowerHz,
		UpperY:        a.RateUpperHz,
	}
}

// NewLoopFromSettings builds a loop from file configuration. A positive
// MinBracketWidth adds the bracket-width stopping rule to the accuracy test.
func NewLoopFromSettings(a config.AdaptationConfig, evaluator Evaluator, estimator RateEstimator) (*Loop, error) {
	loop, err := NewLoop(LoopConfigFromSettings(a), evaluator, estimator)
	if err != nil {
		return nil, err
	}
	if a.MinBracketWidth > 0 {
		loop.WithConvergence(NewCombinedStrategy(
			NewAccuracyStrategy(a.AccuracyHz),
			NewBracketStrategy(a.MinBracketWidth),
		))
	}
	return loop, nil
}
