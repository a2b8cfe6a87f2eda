package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/analyzer"
	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/csp"
	"github.com/noah-isme/sma-timetable-engine/internal/seeder"
	"github.com/noah-isme/sma-timetable-engine/internal/solver"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/metrics"
)

// Stage is one state of the generation state machine.
type Stage string

const (
	StageAnalyzing  Stage = "analyzing"
	StageSeeding    Stage = "seeding"
	StageSolving    Stage = "solving"
	StageOptimizing Stage = "optimizing"
	StageRefining   Stage = "refining"
	StagePolishing  Stage = "polishing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// stageShare is the progress weight of each running stage, in order.
var stageShare = map[Stage]float64{
	StageAnalyzing:  0.05,
	StageSeeding:    0.10,
	StageSolving:    0.35,
	StageOptimizing: 0.25,
	StageRefining:   0.15,
	StagePolishing:  0.10,
}

var stageOrder = []Stage{
	StageAnalyzing, StageSeeding, StageSolving,
	StageOptimizing, StageRefining, StagePolishing,
}

// Progress is invoked at every stage transition with the stage just
// entered and the cumulative completion estimate in [0,100].
type Progress func(stage Stage, percent float64)

// Result is the outcome of one full generation run.
type Result struct {
	Solution   *timetable.Solution
	Evaluation constraint.Evaluation
	Report     analyzer.Report
	Stage      Stage
	Elapsed    time.Duration
}

// Orchestrator drives a generation request through analysis, seeding,
// systematic search and the metaheuristic ladder. Every transition keeps
// the best solution found so far; a later stage can only replace it with
// something at least as good.
type Orchestrator struct {
	problem *timetable.Problem
	engine  *constraint.Engine
	cfg     config.EngineConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	progress Progress
}

func New(problem *timetable.Problem, engine *constraint.Engine, cfg config.EngineConfig, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{problem: problem, engine: engine, cfg: cfg, logger: logger, metrics: m}
}

// OnProgress registers the stage transition callback.
func (o *Orchestrator) OnProgress(fn Progress) { o.progress = fn }

func (o *Orchestrator) enter(stage Stage) {
	if o.progress == nil {
		return
	}
	done := 0.0
	for _, s := range stageOrder {
		if s == stage {
			break
		}
		done += stageShare[s]
	}
	o.progress(stage, done*100)
}

func (o *Orchestrator) finish(stage Stage) {
	if o.progress != nil {
		o.progress(stage, 100)
	}
}

// Run executes the state machine. It returns a Result in the Failed stage
// together with an error when the problem is infeasible or the run was
// cancelled before any solution existed; any later falter degrades to the
// best solution reached instead of failing.
func (o *Orchestrator) Run(ctx *solver.Context) (*Result, error) {
	started := time.Now()
	res := &Result{Stage: StageFailed}

	// Analyzing.
	o.enter(StageAnalyzing)
	var report analyzer.Report
	if err := o.timed(StageAnalyzing, func() error {
		report = analyzer.New(o.problem, o.logger).Analyze()
		return nil
	}); err != nil {
		return res, err
	}
	res.Report = report
	if !report.Feasible(o.cfg.FeasibilityThreshold) {
		res.Elapsed = time.Since(started)
		o.finish(StageFailed)
		o.logger.Warn("generation aborted, problem infeasible",
			zap.Float64("feasibility", report.FeasibilityScore),
			zap.Int("bottlenecks", len(report.Bottlenecks)))
		return res, appErrors.Clone(appErrors.ErrInfeasibleProblem, "resource analysis below feasibility threshold")
	}

	// Seeding.
	o.enter(StageSeeding)
	var seeds []*timetable.Solution
	if err := o.timed(StageSeeding, func() error {
		seeds = seeder.New(o.problem, o.engine, o.logger).Seed(ctx, o.cfg.PopulationSize)
		return nil
	}); err != nil {
		return res, err
	}
	best := o.bestOf(seeds)

	// Solving: systematic search within its own budget. A timeout is not
	// fatal; the best seed simply carries forward.
	o.enter(StageSolving)
	cspSolver := csp.New(o.problem, o.engine, o.logger)
	cspSolver.MaxSolutions = o.cfg.CSP.MaxSolutions
	var cspResult *csp.Result
	if err := o.timed(StageSolving, func() error {
		child := ctx.Child(o.cfg.CSP.TimeBudget)
		r, solveErr := cspSolver.Solve(child)
		if r != nil {
			cspResult = r
		}
		if solveErr != nil && !appErrors.Is(solveErr, appErrors.ErrSolverTimeout) &&
			!appErrors.Is(solveErr, appErrors.ErrUnassignableUnit) {
			return solveErr
		}
		return nil
	}); err != nil {
		res.Solution = best
		res.Elapsed = time.Since(started)
		o.finish(StageFailed)
		return res, err
	}

	population := seeds
	if cspResult != nil {
		if cspResult.Complete {
			population = append(cspResult.Solutions, seeds...)
			best = o.better(best, o.bestOf(cspResult.Solutions))
		} else if cspResult.Best != nil && cspResult.Best.Len() > 0 {
			// Partial result from a timed-out search still enriches the pool.
			population = append([]*timetable.Solution{cspResult.Best}, seeds...)
			best = o.better(best, cspResult.Best)
		}
	}
	if best == nil {
		res.Elapsed = time.Since(started)
		o.finish(StageFailed)
		return res, appErrors.Clone(appErrors.ErrInternal, "no starting solution produced")
	}
	if ctx.Stopped() {
		return o.conclude(res, best, started)
	}

	// Optimizing: genetic search over the pooled population.
	o.enter(StageOptimizing)
	gaCfg := solver.GeneticConfig{
		PopulationSize:     o.cfg.PopulationSize,
		Generations:        o.cfg.GA.Generations,
		StallWindow:        o.cfg.GA.StallWindow,
		EliteCount:         o.cfg.GA.EliteCount,
		MutationRate:       o.cfg.GA.MutationRate,
		DiversityThreshold: o.cfg.GA.DiversityThreshold,
		Workers:            o.cfg.Workers,
	}
	ga := solver.NewGenetic(o.engine, gaCfg, o.metrics)
	ga.SetPopulation(population)
	preGA := o.engine.Fitness(best)
	best, err := o.improve(StageOptimizing, ga, ctx, best)
	if err != nil {
		return o.concludeErr(res, best, started, err)
	}
	gaStalled := !o.engine.Fitness(best).Better(preGA)

	// Refining: simulated annealing. A stalled genetic stage widens the
	// neighbourhood sampling.
	o.enter(StageRefining)
	saCfg := solver.AnnealingConfig{
		InitialTemperature: o.cfg.SA.InitialTemperature,
		CoolingRate:        o.cfg.SA.CoolingRate,
		MinTemperature:     o.cfg.SA.MinTemperature,
		MaxIterations:      o.cfg.SA.MaxIterations,
		NeighborAttempts:   5,
	}
	if gaStalled {
		saCfg.NeighborAttempts = 15
		o.logger.Debug("genetic stage stalled, widening annealing neighbourhood")
	}
	preSA := o.engine.Fitness(best)
	best, err = o.improve(StageRefining, solver.NewAnnealing(o.engine, saCfg, o.metrics), ctx, best)
	if err != nil {
		return o.concludeErr(res, best, started, err)
	}
	saStalled := !o.engine.Fitness(best).Better(preSA)

	// Polishing: tabu search. A stalled annealing stage lengthens the
	// tabu tenure to force the walk out of the current basin.
	o.enter(StagePolishing)
	tabuCfg := solver.TabuConfig{
		Tenure:           o.cfg.Tabu.Tenure,
		NeighborhoodSize: o.cfg.Tabu.NeighborhoodSize,
		MaxIterations:    o.cfg.Tabu.MaxIterations,
	}
	if saStalled {
		tabuCfg.Tenure *= 2
		o.logger.Debug("annealing stage stalled, doubling tabu tenure")
	}
	best, err = o.improve(StagePolishing, solver.NewTabu(o.engine, tabuCfg, o.metrics), ctx, best)
	if err != nil {
		return o.concludeErr(res, best, started, err)
	}

	return o.conclude(res, best, started)
}

// improve runs one optimizer stage under the metrics timer. Optimizers
// are monotonic, so the returned solution is never worse than the input.
func (o *Orchestrator) improve(stage Stage, opt solver.Optimizer, ctx *solver.Context, s *timetable.Solution) (*timetable.Solution, error) {
	start := time.Now()
	out, err := opt.Improve(ctx, s)
	o.metrics.ObserveStage(string(stage), time.Since(start))
	if err != nil {
		if appErrors.Is(err, appErrors.ErrCancelled) {
			return s, err
		}
		// A stage failure never discards the best-so-far.
		o.logger.Warn("optimizer stage failed, keeping previous best",
			zap.String("stage", string(stage)), zap.Error(err))
		return s, nil
	}
	if out == nil {
		return s, nil
	}
	return out, nil
}

func (o *Orchestrator) conclude(res *Result, best *timetable.Solution, started time.Time) (*Result, error) {
	res.Solution = best
	res.Evaluation = o.engine.Evaluate(best)
	res.Stage = StageDone
	res.Elapsed = time.Since(started)
	o.finish(StageDone)
	o.logger.Info("generation finished",
		zap.Int("assignments", best.Len()),
		zap.Int("hard_violations", res.Evaluation.HardCount()),
		zap.Float64("soft_score", res.Evaluation.SoftScore),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (o *Orchestrator) concludeErr(res *Result, best *timetable.Solution, started time.Time, err error) (*Result, error) {
	if appErrors.Is(err, appErrors.ErrCancelled) {
		res.Solution = best
		if best != nil {
			res.Evaluation = o.engine.Evaluate(best)
		}
		res.Elapsed = time.Since(started)
		o.finish(StageFailed)
		return res, err
	}
	return o.conclude(res, best, started)
}

// timed wraps a stage body with the duration metric.
func (o *Orchestrator) timed(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	o.metrics.ObserveStage(string(stage), time.Since(start))
	return err
}

// bestOf picks the fittest member of a population, nil when empty.
func (o *Orchestrator) bestOf(pop []*timetable.Solution) *timetable.Solution {
	var best *timetable.Solution
	var bestFit constraint.Fitness
	for _, s := range pop {
		if s == nil {
			continue
		}
		fit := o.engine.Fitness(s)
		if best == nil || fit.Better(bestFit) {
			best, bestFit = s, fit
		}
	}
	return best
}

func (o *Orchestrator) better(a, b *timetable.Solution) *timetable.Solution {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if o.engine.Fitness(b).Better(o.engine.Fitness(a)) {
		return b
	}
	return a
}
