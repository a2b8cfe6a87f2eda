package csp

import (
	"fmt"
	"testing"
	"time"

	"github.com/onsi/gomega"

	"github.com/noah-isme/sma-timetable-engine/internal/analyzer"
	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/solver"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func smallProblem(t *testing.T, mutate func(*timetable.Problem)) (*timetable.Problem, *constraint.Engine) {
	t.Helper()
	raw := timetable.Problem{
		DaysPerWeek:   3,
		PeriodsPerDay: 4,
		Classes: []timetable.Class{
			{ID: "c1", Size: 20},
			{ID: "c2", Size: 22},
		},
		Subjects: []timetable.Subject{
			{ID: "math"},
			{ID: "chem", RequiresLab: true},
		},
		Teachers: []timetable.Teacher{
			{ID: "t1", Subjects: []string{"math", "chem"}},
			{ID: "t2", Subjects: []string{"math"}},
		},
		Rooms: []timetable.Room{
			{ID: "r1", Type: timetable.RoomStandard, Capacity: 30},
			{ID: "lab1", Type: timetable.RoomLab, Capacity: 30},
		},
		Requirements: []timetable.SubjectRequirement{
			{ClassID: "c1", SubjectID: "math", MinPerWeek: 3, MaxPerWeek: 3},
			{ClassID: "c1", SubjectID: "chem", MinPerWeek: 1, MaxPerWeek: 1},
			{ClassID: "c2", SubjectID: "math", MinPerWeek: 3, MaxPerWeek: 3},
		},
	}
	if mutate != nil {
		mutate(&raw)
	}
	p, err := timetable.NewProblem(raw)
	if err != nil {
		t.Fatalf("problem: %v", err)
	}
	engine, err := constraint.NewEngine(p, constraint.Weights{}, constraint.WellnessWeights{}, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return p, engine
}

func TestSolveSmallInstance(t *testing.T) {
	g := gomega.NewWithT(t)
	p, engine := smallProblem(t, nil)

	sv := New(p, engine, nil)
	started := time.Now()
	res, err := sv.Solve(solver.NewContext(1, 5*time.Second, nil))

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(time.Since(started)).To(gomega.BeNumerically("<", time.Second))
	g.Expect(res.Complete).To(gomega.BeTrue())
	g.Expect(res.Solutions).NotTo(gomega.BeEmpty())
	g.Expect(res.Unassignable).To(gomega.BeEmpty())

	for _, sol := range res.Solutions {
		g.Expect(engine.Evaluate(sol).HardCount()).To(gomega.BeZero())
		g.Expect(sol.Len()).To(gomega.Equal(7))
	}
}

func TestSolveCollectsDiverseSolutions(t *testing.T) {
	g := gomega.NewWithT(t)
	p, engine := smallProblem(t, nil)

	sv := New(p, engine, nil)
	sv.MaxSolutions = 3
	res, err := sv.Solve(solver.NewContext(1, 5*time.Second, nil))

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(len(res.Solutions)).To(gomega.BeNumerically("<=", 3))
	for i := 0; i < len(res.Solutions); i++ {
		for j := i + 1; j < len(res.Solutions); j++ {
			g.Expect(res.Solutions[i].Hamming(res.Solutions[j])).To(gomega.BeNumerically(">=", 1),
				"solutions %d and %d are duplicates", i, j)
		}
	}
}

func TestSolveReportsUnassignableUnits(t *testing.T) {
	g := gomega.NewWithT(t)
	// chem requires a lab and there is none: its unit has an empty domain.
	p, engine := smallProblem(t, func(raw *timetable.Problem) {
		raw.Rooms = []timetable.Room{{ID: "r1", Type: timetable.RoomStandard, Capacity: 30}}
	})

	sv := New(p, engine, nil)
	res, err := sv.Solve(solver.NewContext(1, 5*time.Second, nil))

	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(appErrors.Is(err, appErrors.ErrUnassignableUnit)).To(gomega.BeTrue())
	g.Expect(res.Complete).To(gomega.BeFalse())
	g.Expect(res.Unassignable).NotTo(gomega.BeEmpty())
	g.Expect(res.Unassignable[0].SubjectID).To(gomega.Equal("chem"))
	g.Expect(res.Best.Unplaced()).NotTo(gomega.BeEmpty())
}

func TestSolveHonoursCancellation(t *testing.T) {
	g := gomega.NewWithT(t)
	p, engine := smallProblem(t, nil)

	ctx := solver.NewContext(1, 5*time.Second, nil)
	ctx.Cancel()

	sv := New(p, engine, nil)
	res, err := sv.Solve(ctx)

	g.Expect(res.Complete).To(gomega.BeFalse())
	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(appErrors.Is(err, appErrors.ErrCancelled)).To(gomega.BeTrue())
}

func TestImproveSoftNeverBreaksHardRules(t *testing.T) {
	g := gomega.NewWithT(t)
	p, engine := smallProblem(t, nil)

	sv := New(p, engine, nil)
	res, err := sv.Solve(solver.NewContext(1, 5*time.Second, nil))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(res.Complete).To(gomega.BeTrue())

	base := res.Solutions[0]
	improved := sv.ImproveSoft(solver.NewContext(1, 5*time.Second, nil), base)

	g.Expect(engine.Evaluate(improved).HardCount()).To(gomega.BeZero())
	g.Expect(engine.SoftScore(improved)).To(gomega.BeNumerically(">=", engine.SoftScore(base)))
}

// standardProblem is the reference load: five classes, three subjects,
// five teachers and a 5x5 grid of 25 weekly slots.
func standardProblem(t *testing.T) (*timetable.Problem, *constraint.Engine) {
	t.Helper()
	raw := timetable.Problem{
		DaysPerWeek:   5,
		PeriodsPerDay: 5,
		Subjects: []timetable.Subject{
			{ID: "math"},
			{ID: "english"},
			{ID: "science", RequiresLab: true},
		},
		Teachers: []timetable.Teacher{
			{ID: "t-math-1", Subjects: []string{"math"}},
			{ID: "t-math-2", Subjects: []string{"math"}},
			{ID: "t-eng-1", Subjects: []string{"english"}},
			{ID: "t-eng-2", Subjects: []string{"english"}},
			{ID: "t-sci", Subjects: []string{"science"}},
		},
		Rooms: []timetable.Room{
			{ID: "r1", Type: timetable.RoomStandard, Capacity: 32},
			{ID: "r2", Type: timetable.RoomStandard, Capacity: 32},
			{ID: "r3", Type: timetable.RoomStandard, Capacity: 32},
			{ID: "r4", Type: timetable.RoomStandard, Capacity: 32},
			{ID: "r5", Type: timetable.RoomStandard, Capacity: 32},
			{ID: "lab1", Type: timetable.RoomLab, Capacity: 32},
			{ID: "lab2", Type: timetable.RoomLab, Capacity: 32},
		},
	}
	for i := 1; i <= 5; i++ {
		classID := fmt.Sprintf("c%d", i)
		raw.Classes = append(raw.Classes, timetable.Class{ID: classID, Size: 28})
		raw.Requirements = append(raw.Requirements,
			timetable.SubjectRequirement{ClassID: classID, SubjectID: "math", MinPerWeek: 4, MaxPerWeek: 5},
			timetable.SubjectRequirement{ClassID: classID, SubjectID: "english", MinPerWeek: 3, MaxPerWeek: 4},
			timetable.SubjectRequirement{ClassID: classID, SubjectID: "science", MinPerWeek: 2, MaxPerWeek: 2},
		)
	}
	p, err := timetable.NewProblem(raw)
	if err != nil {
		t.Fatalf("problem: %v", err)
	}
	engine, err := constraint.NewEngine(p, constraint.Weights{}, constraint.WellnessWeights{}, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return p, engine
}

func TestSolveStandardInstance(t *testing.T) {
	g := gomega.NewWithT(t)
	p, engine := standardProblem(t)

	report := analyzer.New(p, nil).Analyze()
	g.Expect(report.FeasibilityScore).To(gomega.BeNumerically(">=", 90),
		"bottlenecks: %+v", report.Bottlenecks)

	sv := New(p, engine, nil)
	started := time.Now()
	res, err := sv.Solve(solver.NewContext(1, 5*time.Second, nil))

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(time.Since(started)).To(gomega.BeNumerically("<", time.Second))
	g.Expect(res.Complete).To(gomega.BeTrue())
	g.Expect(res.Unassignable).To(gomega.BeEmpty())
	g.Expect(res.Solutions).NotTo(gomega.BeEmpty())

	for _, sol := range res.Solutions {
		g.Expect(sol.Len()).To(gomega.Equal(45), "all 9 weekly periods of each of the 5 classes")
		g.Expect(engine.Evaluate(sol).HardCount()).To(gomega.BeZero())
	}
}
