package adaptation

import (
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
)

// Stage identifies which rule produced a proposal
type Stage int

const (
	// StageBootstrap re-issues the initial guess
	StageBootstrap Stage = iota
	// StagePerturbation moves the initial guess by 10% toward the target
	StagePerturbation
	// StageSecant solves the line through the last two observations for the target
	StageSecant
	// StageBisection replaces a secant proposal that left the bracket
	StageBisection
)

func (s Stage) String() string {
	switch s {
	case StageBootstrap:
		return "bootstrap"
	case StagePerturbation:
		return "perturbation"
	case StageSecant:
		return "secant"
	case StageBisection:
		return "bisection"
	default:
		return "unknown"
	}
}

const (
	perturbDown = 0.9
	perturbUp   = 1.1
)

// Bracket is the best-known interval of inputs around the target crossing,
// together with the outputs observed at its ends
type Bracket struct {
	LeftX  float64 `json:"left_x"`
	RightX float64 `json:"right_x"`
	LowerY float64 `json:"lower_y"`
	UpperY float64 `json:"upper_y"`
}

// Width returns RightX - LeftX
func (b Bracket) Width() float64 {
	return b.RightX - b.LeftX
}

// Midpoint returns the center of the bracket
func (b Bracket) Midpoint() float64 {
	return 0.5 * (b.LeftX + b.RightX)
}

// Contains reports whether x lies in [LeftX, RightX]
func (b Bracket) Contains(x float64) bool {
	return x >= b.LeftX && x <= b.RightX
}

// RootFinder proposes inputs for a monotonically increasing f so that f(x)
// approaches a target. It owns its search state and is not safe for
// concurrent use.
type RootFinder struct {
	bracket  Bracket
	xHistory []float64
	yHistory []float64
	targetY  float64
	stage    Stage
}

// NewRootFinder creates a finder seeded with a bracket, an initial guess and
// the target output
func NewRootFinder(leftX, rightX, lowerY, upperY, initialX, targetY float64) *RootFinder {
	return &RootFinder{
		bracket: Bracket{
			LeftX:  leftX,
			RightX: rightX,
			LowerY: lowerY,
			UpperY: upperY,
		},
		xHistory: []float64{initialX},
		targetY:  targetY,
	}
}

// Next consumes the output measured at the last proposal and returns the
// next input to evaluate. The first call primes the search: its argument is
// ignored and the initial guess is returned.
func (r *RootFinder) Next(observedY float64) float64 {
	if len(r.yHistory) > 0 {
		r.updateBracket(observedY)
	}
	r.yHistory = append(r.yHistory, observedY)

	var proposed float64
	n := len(r.yHistory)
	switch {
	case n < 2:
		r.stage = StageBootstrap
		proposed = r.xHistory[0]
	case n == 2 || r.yHistory[n-1] == r.yHistory[n-2]:
		r.stage = StagePerturbation
		if observedY > r.targetY {
			proposed = r.xHistory[0] * perturbDown
		} else {
			proposed = r.xHistory[0] * perturbUp
		}
	default:
		r.stage = StageSecant
		x1, y1 := r.xHistory[len(r.xHistory)-1], r.yHistory[n-1]
		x2, y2 := r.xHistory[len(r.xHistory)-2], r.yHistory[n-2]
		proposed = x2 + (r.targetY-y2)*(x1-x2)/(y1-y2)

		// only the secant step is held inside the bracket
		if !r.bracket.Contains(proposed) {
			logger.Debug("secant outside bracket, bisecting",
				"proposed", proposed,
				"left_x", r.bracket.LeftX,
				"right_x", r.bracket.RightX)
			r.stage = StageBisection
			proposed = r.bracket.Midpoint()
		}
	}

	r.xHistory = append(r.xHistory, proposed)

	logger.Debug("next proposal",
		"iteration", n,
		"stage", r.stage.String(),
		"observed_y", observedY,
		"proposed_x", proposed)
	return proposed
}

// updateBracket tightens the side of the bracket that observedY falls on.
// Ties on the bound value go to the input closer to the opposite bound.
func (r *RootFinder) updateBracket(observedY float64) {
	x := r.xHistory[len(r.xHistory)-1]
	b := &r.bracket
	if observedY > r.targetY {
		if observedY < b.UpperY || (observedY == b.UpperY && x < b.RightX) {
			b.UpperY = observedY
			b.RightX = x
			logger.Debug("upper bound tightened", "right_x", x, "upper_y", observedY)
		}
		return
	}
	if observedY > b.LowerY || (observedY == b.LowerY && x > b.LeftX) {
		b.LowerY = observedY
		b.LeftX = x
		logger.Debug("lower bound tightened", "left_x", x, "lower_y", observedY)
	}
}

// Bracket returns the current bracket
func (r *RootFinder) Bracket() Bracket {
	return r.bracket
}

// XHistory returns a copy of every proposed input; the last entry is pending
func (r *RootFinder) XHistory() []float64 {
	return append([]float64(nil), r.xHistory...)
}

// YHistory returns a copy of every reported output, priming value included
func (r *RootFinder) YHistory() []float64 {
	return append([]float64(nil), r.yHistory...)
}

// Target returns the target output
func (r *RootFinder) Target() float64 {
	return r.targetY
}

// LastStage returns the stage that produced the most recent proposal
func (r *RootFinder) LastStage() Stage {
	return r.stage
}
