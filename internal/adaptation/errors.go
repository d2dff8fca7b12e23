package adaptation

import (
	"errors"
	"fmt"
)

// ErrTermination matches every *TerminationError
var ErrTermination = errors.New("adaptation did not converge")

// TerminationError reports that the loop reached its iteration cap without
// meeting the accuracy goal
type TerminationError struct {
	Iterations int
	LastX      float64
	LastY      float64
	TargetY    float64
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("adaptation did not converge after %d iterations: last weight %g gave %g (target %g)",
		e.Iterations, e.LastX, e.LastY, e.TargetY)
}

// Is lets errors.Is(err, ErrTermination) match
func (e *TerminationError) Is(target error) bool {
	return target == ErrTermination
}

// InvalidConfigError indicates a loop configuration that cannot run
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return "invalid adaptation config: " + e.Reason
}
