package solver

import (
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// Optimizer is the common improvement contract the orchestrator sequences.
// Implementations must never return a solution with more hard violations
// than their input: every candidate move is re-validated through the
// constraint engine and hard-violating moves are rejected outright.
type Optimizer interface {
	Name() string
	Improve(ctx *Context, s *timetable.Solution) (*timetable.Solution, error)
}
