package solver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func optimizerFixture(t *testing.T) (*constraint.Engine, *timetable.Solution) {
	t.Helper()
	p, err := timetable.NewProblem(timetable.Problem{
		DaysPerWeek:   5,
		PeriodsPerDay: 6,
		Classes: []timetable.Class{
			{ID: "c1", Size: 25},
			{ID: "c2", Size: 28},
		},
		Subjects: []timetable.Subject{
			{ID: "math"},
			{ID: "english"},
		},
		Teachers: []timetable.Teacher{
			{ID: "t-ana", Subjects: []string{"math"}, Preference: &timetable.TimePreference{Periods: []int{1, 2, 3}}},
			{ID: "t-ben", Subjects: []string{"english"}},
			{ID: "t-cleo", Subjects: []string{"math"}},
		},
		Rooms: []timetable.Room{
			{ID: "r1", Type: timetable.RoomStandard, Capacity: 30},
			{ID: "r2", Type: timetable.RoomStandard, Capacity: 30},
		},
		Requirements: []timetable.SubjectRequirement{
			{ClassID: "c1", SubjectID: "math", MinPerWeek: 3, MaxPerWeek: 4},
			{ClassID: "c1", SubjectID: "english", MinPerWeek: 2, MaxPerWeek: 3},
			{ClassID: "c2", SubjectID: "math", MinPerWeek: 3, MaxPerWeek: 4},
			{ClassID: "c2", SubjectID: "english", MinPerWeek: 2, MaxPerWeek: 3},
		},
	})
	require.NoError(t, err)
	engine, err := constraint.NewEngine(p, constraint.Weights{}, constraint.WellnessWeights{}, nil)
	require.NoError(t, err)

	// A legal but deliberately clumped starting solution: everything early
	// in the week, away from t-ana's preferred periods where possible.
	s := timetable.NewSolution()
	place := func(class, subject, teacher, room string, day, period int) {
		require.NoError(t, s.Place(timetable.Assignment{
			ClassID: class, SubjectID: subject, TeacherID: teacher, RoomID: room,
			Slot: timetable.TimeSlot{Day: day, Period: period},
		}))
	}
	place("c1", "math", "t-ana", "r1", 0, 4)
	place("c1", "math", "t-ana", "r1", 0, 6)
	place("c1", "math", "t-ana", "r1", 1, 5)
	place("c1", "english", "t-ben", "r1", 0, 1)
	place("c1", "english", "t-ben", "r1", 1, 1)
	place("c2", "math", "t-cleo", "r2", 0, 4)
	place("c2", "math", "t-cleo", "r2", 0, 6)
	place("c2", "math", "t-cleo", "r2", 1, 5)
	place("c2", "english", "t-ben", "r2", 0, 2)
	place("c2", "english", "t-ben", "r2", 1, 2)

	require.Zero(t, engine.Evaluate(s).HardCount())
	return engine, s
}

func optimizers(engine *constraint.Engine) []Optimizer {
	ga := NewGenetic(engine, GeneticConfig{
		PopulationSize: 8, Generations: 15, StallWindow: 5,
		EliteCount: 2, MutationRate: 0.1, DiversityThreshold: 0.15, Workers: 2,
	}, nil)
	sa := NewAnnealing(engine, AnnealingConfig{
		InitialTemperature: 50, CoolingRate: 0.9, MinTemperature: 0.1,
		MaxIterations: 300, NeighborAttempts: 5,
	}, nil)
	tb := NewTabu(engine, TabuConfig{Tenure: 5, NeighborhoodSize: 10, MaxIterations: 100}, nil)
	return []Optimizer{ga, sa, tb}
}

func TestOptimizersAreMonotonic(t *testing.T) {
	engine, start := optimizerFixture(t)
	startFit := engine.Fitness(start)

	for _, opt := range optimizers(engine) {
		t.Run(opt.Name(), func(t *testing.T) {
			ctx := NewContext(11, 10*time.Second, nil)
			improved, err := opt.Improve(ctx, start)
			require.NoError(t, err)
			require.NotNil(t, improved)

			fit := engine.Fitness(improved)
			assert.LessOrEqual(t, fit.Hard, startFit.Hard,
				"%s must never add hard violations", opt.Name())
			if fit.Hard == startFit.Hard {
				assert.GreaterOrEqual(t, fit.Soft, startFit.Soft,
					"%s must never lower the soft score", opt.Name())
			}

			// The input solution is never mutated.
			assert.Equal(t, startFit, engine.Fitness(start))
		})
	}
}

func TestOptimizersStopOnCancel(t *testing.T) {
	engine, start := optimizerFixture(t)

	for _, opt := range optimizers(engine) {
		t.Run(opt.Name(), func(t *testing.T) {
			ctx := NewContext(11, 10*time.Second, nil)
			ctx.Cancel()
			improved, err := opt.Improve(ctx, start)
			require.NoError(t, err)
			require.NotNil(t, improved, "cancellation returns the best-so-far, not nil")
		})
	}
}

func TestContextChildSharesCancellation(t *testing.T) {
	parent := NewContext(1, 0, nil)
	child := parent.Child(time.Minute)

	assert.False(t, child.Stopped())
	parent.Cancel()
	assert.True(t, child.Cancelled())
	assert.True(t, child.Stopped())
	assert.True(t, appErrors.Is(child.Err(), appErrors.ErrCancelled))
}

func TestContextDeadline(t *testing.T) {
	ctx := NewContext(1, time.Nanosecond, nil)
	time.Sleep(time.Millisecond)
	assert.True(t, ctx.Expired())
	assert.Error(t, ctx.Err())
}

func TestNeighborPreservesHardLegality(t *testing.T) {
	engine, start := optimizerFixture(t)
	ctx := NewContext(3, 0, nil)

	produced := 0
	for i := 0; i < 50; i++ {
		candidate, _, ok := neighbor(ctx, engine, start)
		if !ok {
			continue
		}
		produced++
		assert.Zero(t, engine.Evaluate(candidate).HardCount())
		assert.Equal(t, start.Len(), candidate.Len(), "moves must not drop assignments")
	}
	assert.Greater(t, produced, 0, "the neighbourhood of a legal solution cannot be empty")
}

func TestGeneticUsesSeedPopulation(t *testing.T) {
	engine, start := optimizerFixture(t)

	ga := NewGenetic(engine, GeneticConfig{
		PopulationSize: 6, Generations: 10, StallWindow: 4,
		EliteCount: 2, MutationRate: 0.1, DiversityThreshold: 0.15, Workers: 1,
	}, nil)
	ga.SetPopulation([]*timetable.Solution{start.Clone(), start.Clone()})

	improved, err := ga.Improve(NewContext(5, 10*time.Second, nil), start)
	require.NoError(t, err)
	fit := engine.Fitness(improved)
	assert.Zero(t, fit.Hard)
}
