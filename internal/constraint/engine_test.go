package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func testProblem(t *testing.T) *timetable.Problem {
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
			{ID: "physics", RequiresLab: true},
			{ID: "english"},
		},
		Teachers: []timetable.Teacher{
			{ID: "t-ana", Subjects: []string{"math", "physics"}},
			{ID: "t-ben", Subjects: []string{"english"}, Unavailable: []timetable.TimeSlot{{Day: 4, Period: 6}}},
			{ID: "t-cleo", Subjects: []string{"math"}, Workload: timetable.WorkloadConfig{MaxPeriodsPerDay: 1}},
		},
		Rooms: []timetable.Room{
			{ID: "r1", Type: timetable.RoomStandard, Capacity: 30},
			{ID: "r2", Type: timetable.RoomStandard, Capacity: 30},
			{ID: "tiny", Type: timetable.RoomStandard, Capacity: 10},
			{ID: "lab1", Type: timetable.RoomLab, Capacity: 30},
		},
		Requirements: []timetable.SubjectRequirement{
			{ClassID: "c1", SubjectID: "math", MinPerWeek: 2, MaxPerWeek: 3},
			{ClassID: "c1", SubjectID: "physics", MinPerWeek: 1, MaxPerWeek: 1},
			{ClassID: "c1", SubjectID: "english", MinPerWeek: 1, MaxPerWeek: 2},
			{ClassID: "c2", SubjectID: "math", MinPerWeek: 2, MaxPerWeek: 3},
			{ClassID: "c2", SubjectID: "english", MinPerWeek: 1, MaxPerWeek: 2},
		},
	})
	require.NoError(t, err)
	return p
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testProblem(t), Weights{}, WellnessWeights{}, nil)
	require.NoError(t, err)
	return e
}

// legalSolution satisfies every requirement of testProblem with no hard
// violations.
func legalSolution(t *testing.T) *timetable.Solution {
	t.Helper()
	s := timetable.NewSolution()
	place := func(class, subject, teacher, room string, day, period int) {
		require.NoError(t, s.Place(timetable.Assignment{
			ClassID: class, SubjectID: subject, TeacherID: teacher, RoomID: room,
			Slot: timetable.TimeSlot{Day: day, Period: period},
		}))
	}
	place("c1", "math", "t-ana", "r1", 0, 1)
	place("c1", "math", "t-ana", "r1", 1, 1)
	place("c1", "physics", "t-ana", "lab1", 2, 1)
	place("c1", "english", "t-ben", "r1", 3, 1)
	place("c2", "math", "t-cleo", "r2", 0, 1)
	place("c2", "math", "t-cleo", "r2", 1, 1)
	place("c2", "english", "t-ben", "r2", 4, 1)
	return s
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.NoError(t, DefaultWellnessWeights().Validate())

	bad := DefaultWeights()
	bad.Gaps = 0.5
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidWeights))
	assert.True(t, appErrors.FromError(err).Fatal, "weight errors abort the run")

	_, err = NewEngine(testProblem(t), bad, WellnessWeights{}, nil)
	assert.Error(t, err)
}

func TestEvaluateLegalSolution(t *testing.T) {
	e := testEngine(t)
	ev := e.Evaluate(legalSolution(t))

	assert.Zero(t, ev.HardCount(), "violations: %+v", ev.HardViolations)
	assert.GreaterOrEqual(t, ev.SoftScore, 0.0)
	assert.LessOrEqual(t, ev.SoftScore, 100.0)
	assert.GreaterOrEqual(t, ev.WellnessScore, 0.0)
	assert.LessOrEqual(t, ev.WellnessScore, 100.0)
	assert.Contains(t, ev.SubScores, ScoreGaps)
	assert.Contains(t, ev.WellnessSubScores, WellnessDailyBalance)
}

func TestEvaluateFlagsHardViolations(t *testing.T) {
	e := testEngine(t)

	tests := []struct {
		name string
		a    timetable.Assignment
		kind string
	}{
		{
			"unqualified teacher",
			timetable.Assignment{ClassID: "c1", SubjectID: "math", TeacherID: "t-ben", RoomID: "r1", Slot: timetable.TimeSlot{Day: 0, Period: 2}},
			timetable.KindTeacherUnqualified,
		},
		{
			"lab subject in standard room",
			timetable.Assignment{ClassID: "c1", SubjectID: "physics", TeacherID: "t-ana", RoomID: "r1", Slot: timetable.TimeSlot{Day: 0, Period: 2}},
			timetable.KindRoomType,
		},
		{
			"room too small",
			timetable.Assignment{ClassID: "c2", SubjectID: "math", TeacherID: "t-ana", RoomID: "tiny", Slot: timetable.TimeSlot{Day: 0, Period: 2}},
			timetable.KindRoomCapacity,
		},
		{
			"teacher unavailable",
			timetable.Assignment{ClassID: "c1", SubjectID: "english", TeacherID: "t-ben", RoomID: "r1", Slot: timetable.TimeSlot{Day: 4, Period: 6}},
			timetable.KindTeacherUnavailable,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			violations := e.CheckAssignment(tc.a)
			require.NotEmpty(t, violations)
			kinds := make([]string, 0, len(violations))
			for _, v := range violations {
				kinds = append(kinds, v.Kind)
				assert.Equal(t, timetable.SeverityHard, v.Severity)
			}
			assert.Contains(t, kinds, tc.kind)
		})
	}
}

func TestEvaluateQuotaAndWorkload(t *testing.T) {
	e := testEngine(t)

	// Empty solution misses every requirement's minimum.
	ev := e.Evaluate(timetable.NewSolution())
	quota := 0
	for _, v := range ev.HardViolations {
		if v.Kind == timetable.KindSubjectQuota {
			quota++
		}
	}
	assert.Equal(t, 5, quota)

	// t-cleo is capped at one period per day; two on day 0 is hard.
	s := legalSolution(t)
	require.NoError(t, s.Place(timetable.Assignment{
		ClassID: "c2", SubjectID: "math", TeacherID: "t-cleo", RoomID: "r2",
		Slot: timetable.TimeSlot{Day: 0, Period: 2},
	}))
	ev = e.Evaluate(s)
	found := false
	for _, v := range ev.HardViolations {
		if v.Kind == timetable.KindMaxPeriodsPerDay {
			found = true
			assert.False(t, v.CanOverride)
		}
	}
	assert.True(t, found, "per-day cap must surface as a hard violation: %+v", ev.HardViolations)
}

func TestProbe(t *testing.T) {
	e := testEngine(t)
	s := legalSolution(t)

	// Occupied class key.
	assert.False(t, e.Probe(s, timetable.Assignment{
		ClassID: "c1", SubjectID: "math", TeacherID: "t-cleo", RoomID: "r2",
		Slot: timetable.TimeSlot{Day: 0, Period: 1},
	}))
	// Quota max reached: c1 already has one english of max two, a second
	// is fine but a third is not.
	ok := e.Probe(s, timetable.Assignment{
		ClassID: "c1", SubjectID: "english", TeacherID: "t-ben", RoomID: "r1",
		Slot: timetable.TimeSlot{Day: 0, Period: 3},
	})
	assert.True(t, ok)
	// Legal placement.
	assert.True(t, e.Probe(s, timetable.Assignment{
		ClassID: "c1", SubjectID: "math", TeacherID: "t-ana", RoomID: "r1",
		Slot: timetable.TimeSlot{Day: 4, Period: 2},
	}))
}

func TestFitnessOrdering(t *testing.T) {
	assert.True(t, Fitness{Hard: 0, Soft: 10}.Better(Fitness{Hard: 1, Soft: 90}),
		"fewer hard violations beats any soft score")
	assert.True(t, Fitness{Hard: 0, Soft: 80}.Better(Fitness{Hard: 0, Soft: 70}))
	assert.False(t, Fitness{Hard: 0, Soft: 70}.Better(Fitness{Hard: 0, Soft: 70}))
}

func TestCombineMissingSubScores(t *testing.T) {
	table := map[string]float64{"a": 0.5, "b": 0.5}

	// Neutral default counts the undefined sub-score as 0.5.
	got := combine(table, map[string]float64{"a": 1.0}, false)
	assert.InDelta(t, 0.75, got, 1e-9)

	// Renormalization excludes it entirely.
	got = combine(table, map[string]float64{"a": 1.0}, true)
	assert.InDelta(t, 1.0, got, 1e-9)

	// Nothing defined at all resolves to neutral.
	assert.InDelta(t, 0.5, combine(table, nil, true), 1e-9)
}

func TestSoftScoreIsBitStable(t *testing.T) {
	e := testEngine(t)
	s := legalSolution(t)

	// Float addition is order-sensitive, so the weighted fold must run in
	// a fixed order: the same solution has to score bit-identically on
	// every call or near-tie fitness comparisons flicker between runs.
	want := e.SoftScore(s)
	for i := 0; i < 100; i++ {
		assert.Equal(t, want, e.SoftScore(s), "call %d diverged", i)
	}

	ev := e.Evaluate(s)
	for i := 0; i < 100; i++ {
		again := e.Evaluate(s)
		assert.Equal(t, ev.SoftScore, again.SoftScore)
		assert.Equal(t, ev.WellnessScore, again.WellnessScore)
	}
}
