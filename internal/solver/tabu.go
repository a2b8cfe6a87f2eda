package solver

import (
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	"github.com/noah-isme/sma-timetable-engine/pkg/metrics"
)

// TabuConfig tunes the tabu search stage.
type TabuConfig struct {
	Tenure           int
	NeighborhoodSize int
	MaxIterations    int
}

// DefaultTabuConfig matches the documented parameters.
func DefaultTabuConfig() TabuConfig {
	return TabuConfig{Tenure: 10, NeighborhoodSize: 30, MaxIterations: 1000}
}

// Tabu explores a sampled neighbourhood each iteration, always taking the
// best non-tabu candidate. A bounded FIFO of recent move attributes
// forbids immediate reversals unless the move would beat the best-known
// solution (aspiration).
type Tabu struct {
	engine  *constraint.Engine
	cfg     TabuConfig
	metrics *metrics.Metrics
}

func NewTabu(engine *constraint.Engine, cfg TabuConfig, m *metrics.Metrics) *Tabu {
	if cfg.Tenure <= 0 {
		cfg = DefaultTabuConfig()
	}
	return &Tabu{engine: engine, cfg: cfg, metrics: m}
}

func (t *Tabu) Name() string { return "tabu" }

func (t *Tabu) Improve(ctx *Context, s *timetable.Solution) (*timetable.Solution, error) {
	current := s
	currentFit := t.engine.Fitness(current)
	best := current
	bestFit := currentFit

	tabu := newTabuList(t.cfg.Tenure)
	iterations := 0

	for iterations < t.cfg.MaxIterations {
		if ctx.Stopped() {
			break
		}
		iterations++

		var chosen *timetable.Solution
		var chosenFit constraint.Fitness
		var chosenAttr moveAttr
		found := false

		for i := 0; i < t.cfg.NeighborhoodSize; i++ {
			candidate, attr, ok := neighbor(ctx, t.engine, current)
			if !ok {
				continue
			}
			fit := t.engine.Fitness(candidate)
			if fit.Hard > currentFit.Hard {
				t.metrics.MoveRejected(t.Name())
				continue
			}
			if tabu.contains(attr) && !fit.Better(bestFit) {
				continue
			}
			if !found || fit.Better(chosenFit) {
				chosen, chosenFit, chosenAttr, found = candidate, fit, attr, true
			}
		}

		if !found {
			break
		}

		current, currentFit = chosen, chosenFit
		tabu.push(chosenAttr.reverse())
		if currentFit.Better(bestFit) {
			best, bestFit = current, currentFit
		}
	}

	t.metrics.AddIterations(t.Name(), iterations)
	ctx.Logger().Debug("tabu search finished",
		zap.Int("iterations", iterations),
		zap.Float64("best_soft", bestFit.Soft),
		zap.Int("best_hard", bestFit.Hard))

	if bestFit.Better(t.engine.Fitness(s)) {
		return best, nil
	}
	return s, nil
}

// tabuList is a bounded FIFO of forbidden move attributes.
type tabuList struct {
	capacity int
	order    []string
	members  map[string]bool
}

func newTabuList(capacity int) *tabuList {
	return &tabuList{capacity: capacity, members: make(map[string]bool, capacity)}
}

func (l *tabuList) push(attr moveAttr) {
	key := attr.String()
	if l.members[key] {
		return
	}
	l.order = append(l.order, key)
	l.members[key] = true
	if len(l.order) > l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.members, oldest)
	}
}

func (l *tabuList) contains(attr moveAttr) bool {
	return l.members[attr.String()]
}
