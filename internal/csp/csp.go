package csp

import (
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/solver"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// Solver performs systematic backtracking search over (slot, teacher,
// room) domains. It is exhaustive within its time budget: when it proves
// a unit unassignable it says so, and when the budget runs out it returns
// the deepest partial solution it reached instead of failing.
type Solver struct {
	problem *timetable.Problem
	engine  *constraint.Engine
	logger  *zap.Logger

	// MaxSolutions bounds how many mutually diverse complete solutions
	// the search collects before stopping.
	MaxSolutions int
}

func New(problem *timetable.Problem, engine *constraint.Engine, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{problem: problem, engine: engine, logger: logger, MaxSolutions: 5}
}

// Result is what a search run produced. Complete means every unit was
// placed in at least one solution; otherwise Best is the deepest partial
// and Unassignable lists the units the search could not place anywhere.
type Result struct {
	Solutions    []*timetable.Solution
	Best         *timetable.Solution
	Unassignable []timetable.Unit
	Complete     bool
}

// variable is one period of one requirement awaiting a value.
type variable struct {
	classID   string
	subjectID string
	ordinal   int
}

// value is one point of a variable's domain.
type value struct {
	slot      timetable.TimeSlot
	teacherID string
	roomID    string
}

type search struct {
	s         *Solver
	ctx       *solver.Context
	current   *timetable.Solution
	remaining []variable

	solutions []*timetable.Solution
	best      *timetable.Solution
	bestDepth int
	stuck     map[variable]bool
}

// Solve runs the search until it has MaxSolutions diverse complete
// solutions, proves the problem over-constrained, or its budget expires.
// A timeout with at least one complete solution is still a success.
func (sv *Solver) Solve(ctx *solver.Context) (*Result, error) {
	vars := sv.buildVariables()
	st := &search{
		s:         sv,
		ctx:       ctx,
		current:   timetable.NewSolution(),
		remaining: vars,
		stuck:     make(map[variable]bool),
	}
	st.backtrack()

	res := &Result{
		Solutions: st.solutions,
		Complete:  len(st.solutions) > 0,
	}
	if res.Complete {
		res.Best = st.solutions[0]
	} else {
		res.Best = st.best
		if res.Best == nil {
			res.Best = timetable.NewSolution()
		}
		for v := range st.stuck {
			res.Unassignable = append(res.Unassignable, timetable.Unit{
				ClassID: v.classID, SubjectID: v.subjectID, Ordinal: v.ordinal,
			})
		}
		sort.Slice(res.Unassignable, func(i, j int) bool {
			a, b := res.Unassignable[i], res.Unassignable[j]
			if a.ClassID != b.ClassID {
				return a.ClassID < b.ClassID
			}
			if a.SubjectID != b.SubjectID {
				return a.SubjectID < b.SubjectID
			}
			return a.Ordinal < b.Ordinal
		})
		for _, u := range res.Unassignable {
			res.Best.MarkUnplaced(u)
		}
	}

	sv.logger.Debug("csp search finished",
		zap.Int("solutions", len(st.solutions)),
		zap.Int("best_depth", res.Best.Len()),
		zap.Int("unassignable", len(res.Unassignable)),
		zap.Bool("complete", res.Complete))

	if !res.Complete && ctx.Stopped() && res.Best.Len() == 0 {
		return res, ctx.Err()
	}
	if !res.Complete && !ctx.Stopped() && len(res.Unassignable) > 0 {
		return res, appErrors.Clone(appErrors.ErrUnassignableUnit, "search exhausted without a full assignment")
	}
	return res, nil
}

func (sv *Solver) buildVariables() []variable {
	var vars []variable
	for _, req := range sv.problem.Requirements {
		for i := 0; i < req.MinPerWeek; i++ {
			vars = append(vars, variable{classID: req.ClassID, subjectID: req.SubjectID, ordinal: i})
		}
	}
	// Deterministic base order; MCV reorders dynamically during search.
	sort.Slice(vars, func(i, j int) bool {
		if vars[i].classID != vars[j].classID {
			return vars[i].classID < vars[j].classID
		}
		if vars[i].subjectID != vars[j].subjectID {
			return vars[i].subjectID < vars[j].subjectID
		}
		return vars[i].ordinal < vars[j].ordinal
	})
	return vars
}

// domain enumerates the legal values of v against the current partial
// solution. Order is deterministic: slot, then teacher id, then room id.
func (sv *Solver) domain(s *timetable.Solution, v variable) []value {
	subject, ok := sv.problem.SubjectByID(v.subjectID)
	if !ok {
		return nil
	}
	class, _ := sv.problem.ClassByID(v.classID)
	teachers := sv.problem.QualifiedTeachers(v.subjectID)
	var rooms []*timetable.Room
	for _, r := range sv.problem.CandidateRooms(subject) {
		if class == nil || r.Capacity >= class.Size {
			rooms = append(rooms, r)
		}
	}

	var dom []value
	for _, slot := range sv.problem.Slots() {
		if _, taken := s.At(v.classID, slot); taken {
			continue
		}
		for _, t := range teachers {
			for _, r := range rooms {
				a := timetable.Assignment{
					ClassID: v.classID, SubjectID: v.subjectID,
					TeacherID: t.ID, RoomID: r.ID, Slot: slot,
				}
				if sv.engine.Probe(s, a) && sv.withinWorkload(s, a) {
					dom = append(dom, value{slot: slot, teacherID: t.ID, roomID: r.ID})
				}
			}
		}
	}
	return dom
}

func (sv *Solver) withinWorkload(s *timetable.Solution, a timetable.Assignment) bool {
	teacher, ok := sv.problem.TeacherByID(a.TeacherID)
	if !ok {
		return false
	}
	if teacher.Workload.MaxPeriodsPerWeek > 0 &&
		s.TeacherLoad(a.TeacherID)+1 > teacher.Workload.MaxPeriodsPerWeek {
		return false
	}
	if teacher.Workload.MaxPeriodsPerDay > 0 {
		day := 0
		for _, slot := range s.TeacherSlots(a.TeacherID) {
			if slot.Day == a.Slot.Day {
				day++
			}
		}
		if day+1 > teacher.Workload.MaxPeriodsPerDay {
			return false
		}
	}
	return true
}

// backtrack explores assignments depth first. It returns true when the
// caller should unwind completely (budget spent or enough solutions).
func (st *search) backtrack() bool {
	if st.ctx.Stopped() {
		return true
	}
	if len(st.remaining) == 0 {
		st.recordSolution()
		return len(st.solutions) >= st.s.maxSolutions()
	}

	idx, dom := st.pickVariable()
	if len(dom) == 0 {
		st.noteDeadEnd(st.remaining[idx])
		return false
	}
	v := st.remaining[idx]
	rest := make([]variable, 0, len(st.remaining)-1)
	rest = append(rest, st.remaining[:idx]...)
	rest = append(rest, st.remaining[idx+1:]...)

	saved := st.remaining
	st.remaining = rest
	defer func() { st.remaining = saved }()

	for _, val := range dom {
		if st.ctx.Stopped() {
			return true
		}
		a := timetable.Assignment{
			ClassID: v.classID, SubjectID: v.subjectID,
			TeacherID: val.teacherID, RoomID: val.roomID, Slot: val.slot,
		}
		if err := st.current.Place(a); err != nil {
			continue
		}
		if st.current.Len() > st.bestDepth {
			st.bestDepth = st.current.Len()
			st.best = st.current.Clone()
		}
		// Forward check: fail fast when any future variable just lost
		// its whole domain.
		if st.propagates() {
			if st.backtrack() {
				st.current.Remove(a.ClassID, a.Slot)
				return true
			}
		}
		st.current.Remove(a.ClassID, a.Slot)
	}
	return false
}

// pickVariable applies most-constrained-variable ordering: the unassigned
// variable with the smallest live domain goes next.
func (st *search) pickVariable() (int, []value) {
	bestIdx := 0
	var bestDom []value
	bestLen := -1
	for i, v := range st.remaining {
		dom := st.s.domain(st.current, v)
		if bestLen == -1 || len(dom) < bestLen {
			bestIdx, bestDom, bestLen = i, dom, len(dom)
			if bestLen == 0 {
				break
			}
		}
	}
	return bestIdx, bestDom
}

// propagates returns false when some remaining variable has an empty
// domain under the current partial solution.
func (st *search) propagates() bool {
	for _, v := range st.remaining {
		if len(st.s.domain(st.current, v)) == 0 {
			st.noteDeadEnd(v)
			return false
		}
	}
	return true
}

func (st *search) noteDeadEnd(v variable) {
	// Only a dead end at the root proves the unit unassignable; deeper
	// ones are ordinary backtracks.
	if st.current.Len() == 0 {
		st.stuck[v] = true
	}
}

// recordSolution keeps a complete solution when it is diverse enough from
// the ones already collected, acting as a nogood on near-duplicates.
func (st *search) recordSolution() {
	sol := st.current.Clone()
	minDistance := sol.Len() / 10
	if minDistance < 1 {
		minDistance = 1
	}
	for _, prev := range st.solutions {
		if sol.Hamming(prev) < minDistance {
			return
		}
	}
	st.solutions = append(st.solutions, sol)
}

func (sv *Solver) maxSolutions() int {
	if sv.MaxSolutions <= 0 {
		return 1
	}
	return sv.MaxSolutions
}

// ImproveSoft runs a bounded pass of legal same-class slot swaps over a
// complete solution, keeping only swaps that raise the soft score. Hard
// legality is preserved because both re-placements go through Probe.
func (sv *Solver) ImproveSoft(ctx *solver.Context, s *timetable.Solution) *timetable.Solution {
	best := s
	bestScore := sv.engine.SoftScore(s)
	for _, classID := range s.ClassIDs() {
		if ctx.Stopped() {
			break
		}
		slots := s.ClassSlots(classID)
		for i := 0; i < len(slots); i++ {
			for j := i + 1; j < len(slots); j++ {
				cand, ok := sv.swapWithinClass(best, classID, slots[i], slots[j])
				if !ok {
					continue
				}
				if score := sv.engine.SoftScore(cand); score > bestScore {
					best, bestScore = cand, score
				}
			}
		}
	}
	return best
}

func (sv *Solver) swapWithinClass(s *timetable.Solution, classID string, x, y timetable.TimeSlot) (*timetable.Solution, bool) {
	c := s.Clone()
	a, okA := c.Remove(classID, x)
	b, okB := c.Remove(classID, y)
	if !okA || !okB {
		return nil, false
	}
	a.Slot, b.Slot = y, x
	if !sv.engine.Probe(c, a) {
		return nil, false
	}
	if c.Place(a) != nil {
		return nil, false
	}
	if !sv.engine.Probe(c, b) || c.Place(b) != nil {
		return nil, false
	}
	return c, true
}
