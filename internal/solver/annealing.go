package solver

import (
	"math"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	"github.com/noah-isme/sma-timetable-engine/pkg/metrics"
)

// AnnealingConfig tunes the simulated annealing stage.
type AnnealingConfig struct {
	InitialTemperature float64
	CoolingRate        float64
	MinTemperature     float64
	MaxIterations      int
	// NeighborAttempts widens the neighbourhood: how many samples are
	// drawn before an iteration is considered stuck. The orchestrator
	// raises it when the genetic stage stagnates.
	NeighborAttempts int
}

// DefaultAnnealingConfig matches the documented cooling schedule.
func DefaultAnnealingConfig() AnnealingConfig {
	return AnnealingConfig{
		InitialTemperature: 100.0,
		CoolingRate:        0.95,
		MinTemperature:     0.01,
		MaxIterations:      5000,
		NeighborAttempts:   5,
	}
}

// Annealing is a single-solution local search with Metropolis acceptance
// and geometric cooling.
type Annealing struct {
	engine  *constraint.Engine
	cfg     AnnealingConfig
	metrics *metrics.Metrics
}

func NewAnnealing(engine *constraint.Engine, cfg AnnealingConfig, m *metrics.Metrics) *Annealing {
	if cfg.InitialTemperature <= 0 {
		cfg = DefaultAnnealingConfig()
	}
	if cfg.NeighborAttempts <= 0 {
		cfg.NeighborAttempts = 5
	}
	return &Annealing{engine: engine, cfg: cfg, metrics: m}
}

func (sa *Annealing) Name() string { return "annealing" }

// Improve walks the neighbourhood under a cooling temperature. Moves that
// would add a hard violation are rejected outright; soft regressions are
// accepted with the Metropolis probability.
func (sa *Annealing) Improve(ctx *Context, s *timetable.Solution) (*timetable.Solution, error) {
	current := s
	currentFit := sa.engine.Fitness(current)
	best := current
	bestFit := currentFit

	temperature := sa.cfg.InitialTemperature
	iterations := 0

	for temperature > sa.cfg.MinTemperature && iterations < sa.cfg.MaxIterations {
		if ctx.Stopped() {
			break
		}
		iterations++

		var candidate *timetable.Solution
		var candidateFit constraint.Fitness
		found := false
		for attempt := 0; attempt < sa.cfg.NeighborAttempts; attempt++ {
			next, _, ok := neighbor(ctx, sa.engine, current)
			if !ok {
				continue
			}
			fit := sa.engine.Fitness(next)
			if fit.Hard > currentFit.Hard {
				sa.metrics.MoveRejected(sa.Name())
				continue
			}
			candidate, candidateFit, found = next, fit, true
			break
		}
		if !found {
			temperature *= sa.cfg.CoolingRate
			continue
		}

		delta := (100 - candidateFit.Soft) - (100 - currentFit.Soft)
		if candidateFit.Hard < currentFit.Hard || delta < 0 ||
			ctx.Rand().Float64() < math.Exp(-delta/temperature) {
			current, currentFit = candidate, candidateFit
			if currentFit.Better(bestFit) {
				best, bestFit = current, currentFit
			}
		}

		temperature *= sa.cfg.CoolingRate
	}

	sa.metrics.AddIterations(sa.Name(), iterations)
	ctx.Logger().Debug("annealing finished",
		zap.Int("iterations", iterations),
		zap.Float64("final_temperature", temperature),
		zap.Float64("best_soft", bestFit.Soft),
		zap.Int("best_hard", bestFit.Hard))

	if bestFit.Better(sa.engine.Fitness(s)) {
		return best, nil
	}
	return s, nil
}
