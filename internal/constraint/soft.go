package constraint

import (
	"math"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// softTotals carries the integer aggregates every soft sub-score derives
// from. The full scan and the delta evaluator share one derivation
// (subScoresFromTotals), so adjusting the totals over a change's touched
// rows lands on exactly the score a full re-scan would produce.
type softTotals struct {
	prefMatched  int
	prefTotal    int
	adminMatched int
	adminTotal   int

	gaps        int
	gapPossible int

	moveChanges int
	movePairs   int

	placed   int
	required int

	loads map[string]int // teacher id -> weekly periods
}

func (t softTotals) clone() softTotals {
	out := t
	out.loads = make(map[string]int, len(t.loads))
	for id, load := range t.loads {
		out.loads[id] = load
	}
	return out
}

// tallyAssignment folds one assignment's preference and load contributions
// in (sign +1) or out (sign -1) of the totals.
func (t *softTotals) tallyAssignment(p *timetable.Problem, a timetable.Assignment, sign int) {
	if teacher, ok := p.TeacherByID(a.TeacherID); ok && teacher.Preference != nil {
		t.prefTotal += sign
		if teacher.Preference.Matches(a.Slot) {
			t.prefMatched += sign
		}
	}
	if subject, ok := p.SubjectByID(a.SubjectID); ok && subject.Preference != nil {
		t.adminTotal += sign
		if subject.Preference.Matches(a.Slot) {
			t.adminMatched += sign
		}
	}
	t.loads[a.TeacherID] += sign
}

// totalsFor aggregates the whole solution in one pass over the key
// indexes.
func (e *Engine) totalsFor(s *timetable.Solution) softTotals {
	t := softTotals{loads: make(map[string]int, len(e.problem.Teachers))}

	for _, a := range s.Assignments() {
		t.tallyAssignment(e.problem, a, +1)
	}

	for _, classID := range s.ClassIDs() {
		for day := 0; day < e.problem.DaysPerWeek; day++ {
			row := classDayRow(s, classID, day)
			g, p := rowGapStats(rowPeriods(row), e.problem.PeriodsPerDay)
			t.gaps += g
			t.gapPossible += p
			mc, mp := movementStats(row)
			t.moveChanges += mc
			t.movePairs += mp
		}
	}
	for _, teacherID := range s.TeacherIDs() {
		slots := s.TeacherSlots(teacherID)
		for day := 0; day < e.problem.DaysPerWeek; day++ {
			g, p := rowGapStats(periodsOn(slots, day), e.problem.PeriodsPerDay)
			t.gaps += g
			t.gapPossible += p
		}
	}

	for _, req := range e.problem.Requirements {
		t.required += req.MinPerWeek
		t.placed += cappedAt(s.CountFor(req.ClassID, req.SubjectID), req.MinPerWeek)
	}
	return t
}

// softSubScores computes every soft sub-score in [0,1]. A sub-score with
// no data to judge comes back NaN and is resolved by the weight combiner.
func (e *Engine) softSubScores(s *timetable.Solution) map[string]float64 {
	return e.subScoresFromTotals(e.totalsFor(s))
}

func (e *Engine) subScoresFromTotals(t softTotals) map[string]float64 {
	return map[string]float64{
		ScoreTeacherPreference: fraction(t.prefMatched, t.prefTotal),
		ScoreGaps:              penaltyRatio(t.gaps, t.gapPossible),
		ScoreWorkloadBalance:   e.balanceFromLoads(t.loads),
		ScoreMovement:          penaltyRatio(t.moveChanges, t.movePairs),
		ScoreUtilization:       fraction(t.placed, t.required),
		ScoreAdminPreference:   fraction(t.adminMatched, t.adminTotal),
	}
}

// balanceFromLoads rewards even weekly loads across teachers, using the
// coefficient of variation clamped into [0,1]. Iterates the problem's
// teacher slice so the variance fold is deterministic.
func (e *Engine) balanceFromLoads(loads map[string]int) float64 {
	n := len(e.problem.Teachers)
	if n == 0 {
		return math.NaN()
	}
	sum := 0
	for _, teacher := range e.problem.Teachers {
		sum += loads[teacher.ID]
	}
	mean := float64(sum) / float64(n)
	if mean == 0 {
		return math.NaN()
	}
	variance := 0.0
	for _, teacher := range e.problem.Teachers {
		d := float64(loads[teacher.ID]) - mean
		variance += d * d
	}
	variance /= float64(n)
	return clamp01(1 - math.Sqrt(variance)/mean)
}

func fraction(part, whole int) float64 {
	if whole == 0 {
		return math.NaN()
	}
	return float64(part) / float64(whole)
}

// penaltyRatio maps "bad out of possible" onto [0,1], undefined when
// nothing could have gone wrong.
func penaltyRatio(bad, possible int) float64 {
	if possible <= 0 {
		return math.NaN()
	}
	return 1 - float64(bad)/float64(possible)
}

// rowGapStats scores one entity-day row: idle periods between the first
// and last session, out of the periods that could have been idle. Empty
// rows contribute nothing.
func rowGapStats(periods []int, periodsPerDay int) (gaps, possible int) {
	if len(periods) == 0 {
		return 0, 0
	}
	return dayGaps(periods), periodsPerDay - 2
}

// periodRoom is one class-day cell: which period, in which room.
type periodRoom struct {
	period int
	room   string
}

func classDayRow(s *timetable.Solution, classID string, day int) []periodRoom {
	var row []periodRoom
	for _, slot := range s.ClassSlots(classID) {
		if slot.Day != day {
			continue
		}
		a, _ := s.At(classID, slot)
		row = append(row, periodRoom{period: slot.Period, room: a.RoomID})
	}
	return row
}

func rowPeriods(row []periodRoom) []int {
	periods := make([]int, len(row))
	for i, pr := range row {
		periods[i] = pr.period
	}
	return periods
}

// movementStats counts room changes between back-to-back periods of one
// class-day row. The row is ascending because the slot accessors sort.
func movementStats(row []periodRoom) (changes, pairs int) {
	for i := 0; i < len(row)-1; i++ {
		if row[i+1].period != row[i].period+1 {
			continue
		}
		pairs++
		if row[i].room != row[i+1].room {
			changes++
		}
	}
	return changes, pairs
}

func periodsOn(slots []timetable.TimeSlot, day int) []int {
	var periods []int
	for _, slot := range slots {
		if slot.Day == day {
			periods = append(periods, slot.Period)
		}
	}
	return periods
}

func cappedAt(n, limit int) int {
	if n > limit {
		return limit
	}
	return n
}

func groupPeriodsByDay(slots []timetable.TimeSlot) map[int][]int {
	perDay := make(map[int][]int)
	for _, slot := range slots {
		perDay[slot.Day] = append(perDay[slot.Day], slot.Period)
	}
	return perDay
}

// dayGaps counts idle periods between the first and last session of a day.
// The input is ascending because the slot accessors sort.
func dayGaps(periods []int) int {
	if len(periods) < 2 {
		return 0
	}
	span := periods[len(periods)-1] - periods[0] + 1
	return span - len(periods)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
