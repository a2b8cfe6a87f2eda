package constraint

import (
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// Engine is the shared constraint library: every solver and the live
// validator evaluate candidate timetables through it. It holds no
// per-solution state, so one engine serves concurrent evaluations.
type Engine struct {
	problem  *timetable.Problem
	weights  Weights
	wellness WellnessWeights
	logger   *zap.Logger
}

// NewEngine builds an engine for one problem snapshot. Zero weight tables
// fall back to the defaults.
func NewEngine(problem *timetable.Problem, weights Weights, wellness WellnessWeights, logger *zap.Logger) (*Engine, error) {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if wellness == (WellnessWeights{}) {
		wellness = DefaultWellnessWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if err := wellness.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{problem: problem, weights: weights, wellness: wellness, logger: logger}, nil
}

// Problem exposes the bound snapshot.
func (e *Engine) Problem() *timetable.Problem { return e.problem }

// Evaluation is the full verdict on one solution.
type Evaluation struct {
	HardViolations    []timetable.ConstraintViolation
	SoftScore         float64 // 0..100, higher is better
	SubScores         map[string]float64
	WellnessScore     float64 // 0..100, reported alongside SoftScore
	WellnessSubScores map[string]float64
	Unassigned        []timetable.Unit
}

// HardCount is the number of hard violations.
func (ev Evaluation) HardCount() int { return len(ev.HardViolations) }

// Evaluate runs a full scan: every hard rule over the key indexes plus the
// weighted soft and wellness scores.
func (e *Engine) Evaluate(s *timetable.Solution) Evaluation {
	subs := e.softSubScores(s)
	wellnessSubs := e.wellnessSubScores(s)
	return Evaluation{
		HardViolations:    e.hardViolations(s),
		SoftScore:         100 * combine(e.weights.table(), subs, e.weights.RenormalizeMissing),
		SubScores:         subs,
		WellnessScore:     100 * combine(e.wellness.table(), wellnessSubs, e.weights.RenormalizeMissing),
		WellnessSubScores: wellnessSubs,
		Unassigned:        s.Unplaced(),
	}
}

// SoftScore computes only the scalar quality score.
func (e *Engine) SoftScore(s *timetable.Solution) float64 {
	return 100 * combine(e.weights.table(), e.softSubScores(s), e.weights.RenormalizeMissing)
}

// Fitness orders solutions lexicographically: fewer hard violations always
// wins; the soft score breaks ties. Used by every optimizer.
type Fitness struct {
	Hard int
	Soft float64
}

// Better reports whether f strictly dominates o.
func (f Fitness) Better(o Fitness) bool {
	if f.Hard != o.Hard {
		return f.Hard < o.Hard
	}
	return f.Soft > o.Soft
}

// Fitness computes the lexicographic fitness of a solution.
func (e *Engine) Fitness(s *timetable.Solution) Fitness {
	return Fitness{Hard: len(e.hardViolations(s)), Soft: e.SoftScore(s)}
}
