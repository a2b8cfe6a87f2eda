package seeder

import (
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/solver"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// Seeder produces diverse, hard-legal starting solutions. The strategies
// run in a fixed order so a fixed seed reproduces the exact population.
type Seeder struct {
	problem *timetable.Problem
	engine  *constraint.Engine
	logger  *zap.Logger
}

func New(problem *timetable.Problem, engine *constraint.Engine, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{problem: problem, engine: engine, logger: logger}
}

// unit is one period demand to place, pre-scored by scarcity.
type unit struct {
	classID   string
	subjectID string
	ordinal   int
	scarcity  int
}

// Seed builds the population: one member each from the deterministic
// strategies, the rest by constrained random fill. Every member is
// hard-legal; units with no legal slot are marked unplaced, never dropped.
func (sd *Seeder) Seed(ctx *solver.Context, size int) []*timetable.Solution {
	if size <= 0 {
		size = 20
	}
	units := sd.buildUnits()

	population := make([]*timetable.Solution, 0, size)
	population = append(population, sd.mostConstrainedFirst(units))
	if len(population) < size {
		population = append(population, sd.loadBalanced(units))
	}
	if len(population) < size {
		population = append(population, sd.graphColoring(units))
	}
	for len(population) < size {
		if ctx.Stopped() {
			break
		}
		population = append(population, sd.randomFill(ctx, units))
	}

	unplaced := lo.SumBy(population, func(s *timetable.Solution) int { return len(s.Unplaced()) })
	sd.logger.Debug("population seeded",
		zap.Int("members", len(population)),
		zap.Int("total_unplaced", unplaced))
	return population
}

// buildUnits expands requirements into period units ordered by scarcity:
// fewest compatible (teacher, room, slot) combinations first.
func (sd *Seeder) buildUnits() []unit {
	var units []unit
	for _, req := range sd.problem.Requirements {
		subject, _ := sd.problem.SubjectByID(req.SubjectID)
		teachers := len(sd.problem.QualifiedTeachers(req.SubjectID))
		rooms := len(sd.compatibleRooms(req.ClassID, subject))
		scarcity := teachers * rooms * sd.problem.TotalSlots()
		for i := 0; i < req.MinPerWeek; i++ {
			units = append(units, unit{
				classID:   req.ClassID,
				subjectID: req.SubjectID,
				ordinal:   i,
				scarcity:  scarcity,
			})
		}
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].scarcity != units[j].scarcity {
			return units[i].scarcity < units[j].scarcity
		}
		if units[i].classID != units[j].classID {
			return units[i].classID < units[j].classID
		}
		if units[i].subjectID != units[j].subjectID {
			return units[i].subjectID < units[j].subjectID
		}
		return units[i].ordinal < units[j].ordinal
	})
	return units
}

// compatibleRooms filters candidate rooms down to ones that fit the class.
func (sd *Seeder) compatibleRooms(classID string, subject *timetable.Subject) []*timetable.Room {
	class, _ := sd.problem.ClassByID(classID)
	return lo.Filter(sd.problem.CandidateRooms(subject), func(r *timetable.Room, _ int) bool {
		return class == nil || r.Capacity >= class.Size
	})
}

// teacherPicker selects among qualified teachers for one placement.
type teacherPicker func(s *timetable.Solution, teachers []*timetable.Teacher) []*timetable.Teacher

// firstFit keeps the id-sorted qualification order.
func firstFit(_ *timetable.Solution, teachers []*timetable.Teacher) []*timetable.Teacher {
	return teachers
}

// leastLoaded prefers the teacher with the smallest weekly load, ties
// broken by id (the input is already id-sorted, and the sort is stable).
func leastLoaded(s *timetable.Solution, teachers []*timetable.Teacher) []*timetable.Teacher {
	ordered := make([]*timetable.Teacher, len(teachers))
	copy(ordered, teachers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return s.TeacherLoad(ordered[i].ID) < s.TeacherLoad(ordered[j].ID)
	})
	return ordered
}

// mostConstrainedFirst assigns the scarcest units first, backtracking
// locally: when a unit has no legal slot, the most recent assignment of
// the same class is lifted and both are re-placed.
func (sd *Seeder) mostConstrainedFirst(units []unit) *timetable.Solution {
	s := timetable.NewSolution()
	for _, u := range units {
		if sd.placeUnit(s, u, sd.problem.Slots(), firstFit) {
			continue
		}
		if sd.backtrackPlace(s, u) {
			continue
		}
		s.MarkUnplaced(timetable.Unit{ClassID: u.classID, SubjectID: u.subjectID, Ordinal: u.ordinal})
	}
	return s
}

// loadBalanced uses the same ordering but always hands each unit to the
// least-loaded qualified teacher.
func (sd *Seeder) loadBalanced(units []unit) *timetable.Solution {
	s := timetable.NewSolution()
	for _, u := range units {
		if sd.placeUnit(s, u, sd.problem.Slots(), leastLoaded) {
			continue
		}
		s.MarkUnplaced(timetable.Unit{ClassID: u.classID, SubjectID: u.subjectID, Ordinal: u.ordinal})
	}
	return s
}

// graphColoring treats units as nodes and time-slots as colors. Units
// that can never share a slot (same class, same sole teacher, same sole
// lab) are adjacent; a greedy coloring in descending degree order picks
// each unit's slot, after which teacher and room fall out greedily.
func (sd *Seeder) graphColoring(units []unit) *timetable.Solution {
	n := len(units)
	adjacent := func(a, b unit) bool {
		if a.classID == b.classID {
			return true
		}
		ta := sd.problem.QualifiedTeachers(a.subjectID)
		tb := sd.problem.QualifiedTeachers(b.subjectID)
		if len(ta) == 1 && len(tb) == 1 && ta[0].ID == tb[0].ID {
			return true
		}
		sa, _ := sd.problem.SubjectByID(a.subjectID)
		sb, _ := sd.problem.SubjectByID(b.subjectID)
		if sa != nil && sb != nil && sa.RequiresLab && sb.RequiresLab &&
			len(sd.problem.RoomsOfType(timetable.RoomLab)) == 1 {
			return true
		}
		return false
	}

	degree := make([]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if adjacent(units[i], units[j]) {
				degree[i]++
				degree[j]++
			}
		}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return degree[order[a]] > degree[order[b]] })

	slots := sd.problem.Slots()
	color := make(map[int]int, n) // unit index -> slot index

	s := timetable.NewSolution()
	for _, idx := range order {
		u := units[idx]
		placed := false
		for slotIdx := range slots {
			clash := false
			for other, otherColor := range color {
				if otherColor == slotIdx && adjacent(u, units[other]) {
					clash = true
					break
				}
			}
			if clash {
				continue
			}
			if sd.placeUnit(s, u, slots[slotIdx:slotIdx+1], leastLoaded) {
				color[idx] = slotIdx
				placed = true
				break
			}
		}
		if !placed {
			// Coloring failed for this node; fall back to any legal slot.
			if !sd.placeUnit(s, u, slots, leastLoaded) {
				s.MarkUnplaced(timetable.Unit{ClassID: u.classID, SubjectID: u.subjectID, Ordinal: u.ordinal})
			}
		}
	}
	return s
}

// randomFill builds one member by randomized greedy assignment that only
// ever takes hard-legal placements. Randomness is drawn once per unit:
// one slot permutation and one teacher permutation.
func (sd *Seeder) randomFill(ctx *solver.Context, units []unit) *timetable.Solution {
	rng := ctx.Rand()
	s := timetable.NewSolution()

	shuffled := make([]unit, len(units))
	copy(shuffled, units)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	slots := sd.problem.Slots()
	for _, u := range shuffled {
		slotOrder := make([]timetable.TimeSlot, len(slots))
		for i, p := range rng.Perm(len(slots)) {
			slotOrder[i] = slots[p]
		}
		randomPick := func(_ *timetable.Solution, teachers []*timetable.Teacher) []*timetable.Teacher {
			ordered := make([]*timetable.Teacher, len(teachers))
			for i, p := range rng.Perm(len(teachers)) {
				ordered[i] = teachers[p]
			}
			return ordered
		}
		if !sd.placeUnit(s, u, slotOrder, randomPick) {
			s.MarkUnplaced(timetable.Unit{ClassID: u.classID, SubjectID: u.subjectID, Ordinal: u.ordinal})
		}
	}
	return s
}

// placeUnit tries every (slot, teacher, room) combination in the given
// orders and places the first hard-legal one. Contiguous requirements
// first try slots adjacent to the unit's siblings.
func (sd *Seeder) placeUnit(s *timetable.Solution, u unit, slots []timetable.TimeSlot, pick teacherPicker) bool {
	subject, _ := sd.problem.SubjectByID(u.subjectID)
	teachers := sd.problem.QualifiedTeachers(u.subjectID)
	rooms := sd.compatibleRooms(u.classID, subject)
	if len(teachers) == 0 || len(rooms) == 0 {
		return false
	}

	ordered := slots
	if req, ok := sd.problem.RequirementFor(u.classID, u.subjectID); ok && req.Contiguous {
		ordered = sd.adjacentFirst(s, u, slots)
	}

	for _, slot := range ordered {
		for _, teacher := range pick(s, teachers) {
			for _, room := range rooms {
				a := timetable.Assignment{
					ClassID:   u.classID,
					SubjectID: u.subjectID,
					TeacherID: teacher.ID,
					RoomID:    room.ID,
					Slot:      slot,
				}
				if !sd.engine.Probe(s, a) {
					continue
				}
				if sd.workloadSafe(s, a) && s.Place(a) == nil {
					return true
				}
			}
		}
	}
	return false
}

// workloadSafe rejects placements that would break a teacher's hard
// per-day or per-week cap.
func (sd *Seeder) workloadSafe(s *timetable.Solution, a timetable.Assignment) bool {
	teacher, ok := sd.problem.TeacherByID(a.TeacherID)
	if !ok {
		return false
	}
	cfg := teacher.Workload
	if cfg.MaxPeriodsPerWeek > 0 && s.TeacherLoad(a.TeacherID)+1 > cfg.MaxPeriodsPerWeek {
		return false
	}
	if cfg.MaxPeriodsPerDay > 0 {
		dayCount := 0
		for _, slot := range s.TeacherSlots(a.TeacherID) {
			if slot.Day == a.Slot.Day {
				dayCount++
			}
		}
		if dayCount+1 > cfg.MaxPeriodsPerDay {
			return false
		}
	}
	return true
}

// adjacentFirst moves slots neighbouring the unit's already-placed
// siblings to the front, so double periods end up back to back.
func (sd *Seeder) adjacentFirst(s *timetable.Solution, u unit, slots []timetable.TimeSlot) []timetable.TimeSlot {
	siblings := make(map[timetable.TimeSlot]bool)
	for _, slot := range s.ClassSlots(u.classID) {
		if a, ok := s.At(u.classID, slot); ok && a.SubjectID == u.subjectID {
			siblings[slot] = true
		}
	}
	if len(siblings) == 0 {
		return slots
	}
	isAdjacent := func(slot timetable.TimeSlot) bool {
		return siblings[timetable.TimeSlot{Day: slot.Day, Period: slot.Period - 1}] ||
			siblings[timetable.TimeSlot{Day: slot.Day, Period: slot.Period + 1}]
	}
	adjacent := lo.Filter(slots, func(slot timetable.TimeSlot, _ int) bool { return isAdjacent(slot) })
	rest := lo.Filter(slots, func(slot timetable.TimeSlot, _ int) bool { return !isAdjacent(slot) })
	return append(adjacent, rest...)
}

// backtrackPlace lifts the most recently placed assignment of the same
// class, then re-places the stuck unit and the lifted one in fresh slots.
func (sd *Seeder) backtrackPlace(s *timetable.Solution, u unit) bool {
	classSlots := s.ClassSlots(u.classID)
	if len(classSlots) == 0 {
		return false
	}
	lastSlot := classSlots[len(classSlots)-1]
	lifted, ok := s.Remove(u.classID, lastSlot)
	if !ok {
		return false
	}
	if sd.placeUnit(s, u, sd.problem.Slots(), firstFit) {
		liftedUnit := unit{classID: lifted.ClassID, subjectID: lifted.SubjectID}
		if sd.placeUnit(s, liftedUnit, sd.problem.Slots(), firstFit) {
			return true
		}
		s.MarkUnplaced(timetable.Unit{ClassID: lifted.ClassID, SubjectID: lifted.SubjectID})
		return true
	}
	// Could not help; restore the lifted assignment.
	_ = s.Place(lifted)
	return false
}
