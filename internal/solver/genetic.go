package solver

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	"github.com/noah-isme/sma-timetable-engine/pkg/metrics"
)

// GeneticConfig tunes the genetic optimizer.
type GeneticConfig struct {
	PopulationSize     int
	Generations        int
	StallWindow        int
	EliteCount         int
	MutationRate       float64
	DiversityThreshold float64
	// Workers bounds the fitness evaluation pool. Evaluation of distinct
	// members is independent; crossover and selection stay sequential to
	// preserve reproducibility under a fixed seed.
	Workers int
}

// DefaultGeneticConfig matches the documented parameters.
func DefaultGeneticConfig() GeneticConfig {
	return GeneticConfig{
		PopulationSize:     20,
		Generations:        100,
		StallWindow:        20,
		EliteCount:         5,
		MutationRate:       0.05,
		DiversityThreshold: 0.15,
		Workers:            2,
	}
}

// Genetic evolves a population of solutions. Fitness is lexicographic:
// hard violations dominate, the soft score breaks ties. Selection keeps
// the Pareto front over the soft sub-scores ranked first.
type Genetic struct {
	engine  *constraint.Engine
	cfg     GeneticConfig
	metrics *metrics.Metrics

	seedPopulation []*timetable.Solution
}

func NewGenetic(engine *constraint.Engine, cfg GeneticConfig, m *metrics.Metrics) *Genetic {
	if cfg.PopulationSize <= 0 {
		cfg = DefaultGeneticConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.EliteCount >= cfg.PopulationSize {
		cfg.EliteCount = cfg.PopulationSize / 2
	}
	return &Genetic{engine: engine, cfg: cfg, metrics: m}
}

func (g *Genetic) Name() string { return "genetic" }

// SetPopulation hands the optimizer the seeded candidates. The input to
// Improve always joins the population, so the result can never regress.
func (g *Genetic) SetPopulation(pop []*timetable.Solution) {
	g.seedPopulation = pop
}

type individual struct {
	sol  *timetable.Solution
	fit  constraint.Fitness
	subs map[string]float64
	rank int
}

func (g *Genetic) Improve(ctx *Context, s *timetable.Solution) (*timetable.Solution, error) {
	population := g.initialPopulation(ctx, s)
	individuals := g.evaluate(population)
	rankPareto(individuals)

	best := bestOf(individuals)
	stall := 0
	rate := g.cfg.MutationRate
	generations := 0

	for gen := 0; gen < g.cfg.Generations; gen++ {
		if ctx.Stopped() {
			break
		}
		generations++

		next := make([]*timetable.Solution, 0, g.cfg.PopulationSize)

		// Elitism: the strongest members survive crossover unchanged.
		sortByFitness(individuals)
		for i := 0; i < g.cfg.EliteCount && i < len(individuals); i++ {
			next = append(next, individuals[i].sol)
		}

		for len(next) < g.cfg.PopulationSize {
			p1 := g.selectParent(ctx, individuals)
			p2 := g.selectParent(ctx, individuals)
			child := g.crossover(ctx, p1.sol, p2.sol)
			if ctx.Rand().Float64() < rate {
				if mutated, _, ok := neighbor(ctx, g.engine, child); ok {
					child = mutated
				}
			}
			// A child may never be worse than both parents on hard
			// violations; such children are discarded, not penalised.
			childHard := g.engine.Fitness(child).Hard
			worst := p1.fit.Hard
			if p2.fit.Hard > worst {
				worst = p2.fit.Hard
			}
			if childHard > worst {
				g.metrics.MoveRejected(g.Name())
				child = p1.sol
			}
			next = append(next, child)
		}

		individuals = g.evaluate(next)
		rankPareto(individuals)

		generationBest := bestOf(individuals)
		if generationBest.fit.Better(best.fit) {
			best = generationBest
			stall = 0
		} else {
			stall++
			if stall >= g.cfg.StallWindow {
				break
			}
		}

		// Mutation adapts to diversity: push harder when the population
		// collapses, back off when it is spread out.
		if diversity(individuals) < g.cfg.DiversityThreshold {
			rate = minFloat(rate*1.5, 0.5)
		} else {
			rate = maxFloat(rate*0.9, g.cfg.MutationRate)
		}
	}

	g.metrics.AddIterations(g.Name(), generations)
	ctx.Logger().Debug("genetic optimization finished",
		zap.Int("generations", generations),
		zap.Int("best_hard", best.fit.Hard),
		zap.Float64("best_soft", best.fit.Soft))

	if best.fit.Better(g.engine.Fitness(s)) {
		return best.sol, nil
	}
	return s, nil
}

// initialPopulation merges the seeds, the improve input and mutated
// copies until the population is full.
func (g *Genetic) initialPopulation(ctx *Context, s *timetable.Solution) []*timetable.Solution {
	population := make([]*timetable.Solution, 0, g.cfg.PopulationSize)
	population = append(population, s)
	for _, seed := range g.seedPopulation {
		if len(population) >= g.cfg.PopulationSize {
			break
		}
		population = append(population, seed)
	}
	for len(population) < g.cfg.PopulationSize {
		base := population[ctx.Rand().Intn(len(population))]
		if mutated, _, ok := neighbor(ctx, g.engine, base); ok {
			population = append(population, mutated)
		} else {
			population = append(population, base.Clone())
		}
	}
	return population
}

// evaluate scores the population on a bounded worker pool. Members are
// independent, so order of completion does not matter; results land in
// the member's own slot.
func (g *Genetic) evaluate(population []*timetable.Solution) []individual {
	individuals := make([]individual, len(population))
	indices := make(chan int)
	var wg sync.WaitGroup

	workers := g.cfg.Workers
	if workers > len(population) {
		workers = len(population)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				ev := g.engine.Evaluate(population[i])
				individuals[i] = individual{
					sol:  population[i],
					fit:  constraint.Fitness{Hard: ev.HardCount(), Soft: ev.SoftScore},
					subs: ev.SubScores,
				}
			}
		}()
	}
	for i := range population {
		indices <- i
	}
	close(indices)
	wg.Wait()
	return individuals
}

// selectParent runs a binary tournament on (pareto rank, soft score).
func (g *Genetic) selectParent(ctx *Context, individuals []individual) individual {
	a := individuals[ctx.Rand().Intn(len(individuals))]
	b := individuals[ctx.Rand().Intn(len(individuals))]
	if a.rank != b.rank {
		if a.rank < b.rank {
			return a
		}
		return b
	}
	if a.fit.Better(b.fit) {
		return a
	}
	return b
}

// crossover exchanges a whole-day or whole-class block from p2 into a copy
// of p1, repairing conflicts by relocating the incoming assignments.
func (g *Genetic) crossover(ctx *Context, p1, p2 *timetable.Solution) *timetable.Solution {
	child := p1.Clone()
	rng := ctx.Rand()

	var block []timetable.Assignment
	if rng.Intn(2) == 0 {
		day := rng.Intn(g.engine.Problem().DaysPerWeek)
		for _, a := range p2.Assignments() {
			if a.Slot.Day == day {
				block = append(block, a)
			}
		}
		for _, a := range child.Assignments() {
			if a.Slot.Day == day {
				child.Remove(a.ClassID, a.Slot)
			}
		}
	} else {
		classes := p2.ClassIDs()
		if len(classes) == 0 {
			return child
		}
		classID := classes[rng.Intn(len(classes))]
		for _, a := range p2.Assignments() {
			if a.ClassID == classID {
				block = append(block, a)
			}
		}
		for _, a := range child.Assignments() {
			if a.ClassID == classID {
				child.Remove(a.ClassID, a.Slot)
			}
		}
	}

	for _, a := range block {
		if g.engine.Probe(child, a) {
			if child.Place(a) == nil {
				continue
			}
		}
		g.repair(child, a)
	}
	return child
}

// repair relocates an assignment that conflicts after crossover, scanning
// slots in grid order. Units with no legal home are recorded, never
// silently dropped.
func (g *Genetic) repair(child *timetable.Solution, a timetable.Assignment) {
	for _, slot := range g.engine.Problem().Slots() {
		candidate := a
		candidate.Slot = slot
		if g.engine.Probe(child, candidate) {
			if child.Place(candidate) == nil {
				return
			}
		}
	}
	child.MarkUnplaced(timetable.Unit{
		ClassID:   a.ClassID,
		SubjectID: a.SubjectID,
		Ordinal:   child.CountFor(a.ClassID, a.SubjectID),
	})
}

// diversity is the mean pairwise Hamming distance normalised by solution
// size.
func diversity(individuals []individual) float64 {
	if len(individuals) < 2 {
		return 1
	}
	total, pairs, size := 0, 0, 0
	for i := range individuals {
		size += individuals[i].sol.Len()
		for j := i + 1; j < len(individuals); j++ {
			total += individuals[i].sol.Hamming(individuals[j].sol)
			pairs++
		}
	}
	meanSize := float64(size) / float64(len(individuals))
	if meanSize == 0 {
		return 1
	}
	return (float64(total) / float64(pairs)) / meanSize
}

// rankPareto assigns non-domination ranks over (hard violations, soft
// sub-scores). Rank zero is the Pareto front.
func rankPareto(individuals []individual) {
	for i := range individuals {
		rank := 0
		for j := range individuals {
			if i == j {
				continue
			}
			if dominates(individuals[j], individuals[i]) {
				rank++
			}
		}
		individuals[i].rank = rank
	}
}

// dominates reports whether a is at least as good as b on every objective
// and strictly better on one. Hard violations are minimised, sub-scores
// maximised; NaN sub-scores are treated as equal.
func dominates(a, b individual) bool {
	if a.fit.Hard > b.fit.Hard {
		return false
	}
	strict := a.fit.Hard < b.fit.Hard
	for name, av := range a.subs {
		bv, ok := b.subs[name]
		if !ok || av != av || bv != bv { // skip NaN
			continue
		}
		if av < bv {
			return false
		}
		if av > bv {
			strict = true
		}
	}
	return strict
}

func sortByFitness(individuals []individual) {
	sort.SliceStable(individuals, func(i, j int) bool {
		return individuals[i].fit.Better(individuals[j].fit)
	})
}

func bestOf(individuals []individual) individual {
	best := individuals[0]
	for _, ind := range individuals[1:] {
		if ind.fit.Better(best.fit) {
			best = ind
		}
	}
	return best
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
