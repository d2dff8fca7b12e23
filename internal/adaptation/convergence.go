package adaptation

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

// ConvergenceStrategy decides whether an adaptation run has reached its goal
type ConvergenceStrategy interface {
	// CheckConvergence inspects the evaluated steps, most recent last
	CheckConvergence(targetY float64, history []models.AdaptationStep) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// AccuracyStrategy converges once the latest output is within Goal of the target
type AccuracyStrategy struct {
	Goal float64
}

// NewAccuracyStrategy creates an absolute-accuracy convergence strategy
func NewAccuracyStrategy(goal float64) *AccuracyStrategy {
	return &AccuracyStrategy{Goal: goal}
}

func (s *AccuracyStrategy) Name() string {
	return "accuracy"
}

func (s *AccuracyStrategy) CheckConvergence(targetY float64, history []models.AdaptationStep) (bool, string) {
	if len(history) == 0 {
		return false, ""
	}
	last := history[len(history)-1]
	diff := math.Abs(last.RateHz - targetY)
	if diff <= s.Goal {
		return true, fmt.Sprintf("|%g - %g| = %g within %g", last.RateHz, targetY, diff, s.Goal)
	}
	return false, ""
}

// BracketStrategy converges once the weight bracket is narrower than Width
type BracketStrategy struct {
	Width float64
}

// NewBracketStrategy creates a bracket-width convergence strategy
func NewBracketStrategy(width float64) *BracketStrategy {
	return &BracketStrategy{Width: width}
}

func (s *BracketStrategy) Name() string {
	return "bracket_width"
}

func (s *BracketStrategy) CheckConvergence(_ float64, history []models.AdaptationStep) (bool, string) {
	if len(history) == 0 || s.Width <= 0 {
		return false, ""
	}
	last := history[len(history)-1]
	if (Bracket{LeftX: last.LeftX, RightX: last.RightX}).Width() < s.Width {
		return true, fmt.Sprintf("bracket [%g, %g] narrower than %g", last.LeftX, last.RightX, s.Width)
	}
	return false, ""
}

// CombinedStrategy converges when any of its strategies does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy creates a strategy that ORs the given ones
func NewCombinedStrategy(strategies ...ConvergenceStrategy) *CombinedStrategy {
	return &CombinedStrategy{strategies: strategies}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(targetY float64, history []models.AdaptationStep) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(targetY, history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a strategy to the combination
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}
