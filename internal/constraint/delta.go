package constraint

import (
	"fmt"
	"sort"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// Delta is the outcome of evaluating one change against a solution.
// Added and Removed cover every constraint whose key set intersects the
// change; untouched constraints are never re-checked.
type Delta struct {
	Added      []timetable.ConstraintViolation
	Removed    []timetable.ConstraintViolation
	ScoreDelta float64
	Applicable bool
}

// AddedHard filters Added down to the non-overridable violations.
func (d Delta) AddedHard() []timetable.ConstraintViolation {
	var out []timetable.ConstraintViolation
	for _, v := range d.Added {
		if v.Severity == timetable.SeverityHard {
			out = append(out, v)
		}
	}
	return out
}

// DeltaEvaluator binds the engine to one solution and caches its soft
// totals, so each change evaluation pays only for the rows the change
// touches: no clone, no full re-scan. Concurrent Evaluate calls are safe;
// the bound solution must not be mutated while the evaluator is in use.
type DeltaEvaluator struct {
	engine *Engine
	s      *timetable.Solution
	totals softTotals
	score  float64
}

// BindDelta prepares incremental evaluation against s. The one-time cost
// is a single aggregation pass; every Evaluate after that is scoped to
// the change.
func (e *Engine) BindDelta(s *timetable.Solution) *DeltaEvaluator {
	totals := e.totalsFor(s)
	return &DeltaEvaluator{
		engine: e,
		s:      s,
		totals: totals,
		score:  100 * combine(e.weights.table(), e.subScoresFromTotals(totals), e.weights.RenormalizeMissing),
	}
}

// EvaluateDelta is the unbound form, for one-off probes.
func (e *Engine) EvaluateDelta(s *timetable.Solution, ch timetable.Change) (Delta, error) {
	return e.BindDelta(s).Evaluate(ch)
}

// Evaluate re-checks only the constraints keyed by the change's
// teacher/room/class/slot set. Double bookings are detected against the
// solution indexes up front; everything else is a scoped pre/post diff
// over the same rule functions the full scan uses, with the post state
// expressed as an overlay instead of an applied copy, so the two always
// agree on the resulting violation set.
func (d *DeltaEvaluator) Evaluate(ch timetable.Change) (Delta, error) {
	if err := ch.Validate(); err != nil {
		return Delta{}, err
	}
	e, s := d.engine, d.s

	var removed, added *timetable.Assignment
	if ch.Op == timetable.ChangeRemove || ch.Op == timetable.ChangeReplace {
		target, ok := s.At(ch.From.ClassID, ch.From.Slot)
		if !ok {
			return Delta{}, fmt.Errorf("change targets a missing assignment at %s/%s", ch.From.ClassID, ch.From.Slot.Key())
		}
		removed = &target
	}
	if ch.Op == timetable.ChangeAdd || ch.Op == timetable.ChangeReplace {
		if conflicts := e.occupancyConflicts(s, ch.Assignment, removed); len(conflicts) > 0 {
			return Delta{Added: conflicts, Applicable: false}, nil
		}
		incoming := ch.Assignment
		added = &incoming
	}

	pre := e.scopedViolations(deltaView{s: s}, removed, added)
	after := e.scopedViolations(deltaView{s: s, removed: removed, added: added}, removed, added)

	return Delta{
		Added:      diffViolations(after, pre),
		Removed:    diffViolations(pre, after),
		ScoreDelta: d.postScore(removed, added) - d.score,
		Applicable: true,
	}, nil
}

// postScore derives the post-change score from the cached totals by
// rewriting only the touched rows.
func (d *DeltaEvaluator) postScore(removed, added *timetable.Assignment) float64 {
	e := d.engine
	t := e.adjustedTotals(d.s, d.totals, removed, added)
	return 100 * combine(e.weights.table(), e.subScoresFromTotals(t), e.weights.RenormalizeMissing)
}

// adjustedTotals folds a single change into a copy of the totals: the
// removed/added assignments' tallies, the quota caps of their (class,
// subject) pairs, and a recompute of the gap and movement rows of their
// class and teacher days. Every untouched row keeps its contribution.
func (e *Engine) adjustedTotals(s *timetable.Solution, base softTotals, removed, added *timetable.Assignment) softTotals {
	t := base.clone()

	if removed != nil {
		t.tallyAssignment(e.problem, *removed, -1)
	}
	if added != nil {
		t.tallyAssignment(e.problem, *added, +1)
	}

	// Utilization caps at MinPerWeek, so the delta depends on the pre
	// and post counts of each touched pair.
	counts := make(map[[2]string]int)
	if removed != nil {
		counts[[2]string{removed.ClassID, removed.SubjectID}]--
	}
	if added != nil {
		counts[[2]string{added.ClassID, added.SubjectID}]++
	}
	for pair, diff := range counts {
		req, ok := e.problem.RequirementFor(pair[0], pair[1])
		if !ok {
			continue
		}
		n := s.CountFor(pair[0], pair[1])
		t.placed += cappedAt(n+diff, req.MinPerWeek) - cappedAt(n, req.MinPerWeek)
	}

	type row struct {
		id  string
		day int
	}
	classRows := make(map[row]bool)
	teacherRows := make(map[row]bool)
	mark := func(a *timetable.Assignment) {
		if a == nil {
			return
		}
		classRows[row{a.ClassID, a.Slot.Day}] = true
		teacherRows[row{a.TeacherID, a.Slot.Day}] = true
	}
	mark(removed)
	mark(added)

	for r := range classRows {
		preRow := classDayRow(s, r.id, r.day)
		drop := 0
		if removed != nil && removed.ClassID == r.id && removed.Slot.Day == r.day {
			drop = removed.Slot.Period
		}
		var insert periodRoom
		if added != nil && added.ClassID == r.id && added.Slot.Day == r.day {
			insert = periodRoom{period: added.Slot.Period, room: added.RoomID}
		}
		postRow := adjustedRow(preRow, drop, insert)

		pg, pp := rowGapStats(rowPeriods(preRow), e.problem.PeriodsPerDay)
		ng, np := rowGapStats(rowPeriods(postRow), e.problem.PeriodsPerDay)
		t.gaps += ng - pg
		t.gapPossible += np - pp

		pc, ppr := movementStats(preRow)
		nc, npr := movementStats(postRow)
		t.moveChanges += nc - pc
		t.movePairs += npr - ppr
	}

	for r := range teacherRows {
		prePeriods := periodsOn(s.TeacherSlots(r.id), r.day)
		drop, insert := 0, 0
		if removed != nil && removed.TeacherID == r.id && removed.Slot.Day == r.day {
			drop = removed.Slot.Period
		}
		if added != nil && added.TeacherID == r.id && added.Slot.Day == r.day {
			insert = added.Slot.Period
		}
		postPeriods := adjustedPeriods(prePeriods, drop, insert)

		pg, pp := rowGapStats(prePeriods, e.problem.PeriodsPerDay)
		ng, np := rowGapStats(postPeriods, e.problem.PeriodsPerDay)
		t.gaps += ng - pg
		t.gapPossible += np - pp
	}

	return t
}

// adjustedRow drops one period from a class-day row and inserts another,
// keeping the row ascending. A zero period means "nothing to drop" or
// "nothing to insert"; real periods are 1-based.
func adjustedRow(pre []periodRoom, drop int, insert periodRoom) []periodRoom {
	out := make([]periodRoom, 0, len(pre)+1)
	for _, pr := range pre {
		if drop != 0 && pr.period == drop {
			continue
		}
		out = append(out, pr)
	}
	if insert.period != 0 {
		out = append(out, insert)
		sort.Slice(out, func(i, j int) bool { return out[i].period < out[j].period })
	}
	return out
}

func adjustedPeriods(pre []int, drop, insert int) []int {
	out := make([]int, 0, len(pre)+1)
	for _, p := range pre {
		if drop != 0 && p == drop {
			continue
		}
		out = append(out, p)
	}
	if insert != 0 {
		out = append(out, insert)
		sort.Ints(out)
	}
	return out
}

// occupancyConflicts reports the double bookings an incoming assignment
// would create, naming the blocking assignments. For a replace, the
// assignment being displaced does not block its own successor.
func (e *Engine) occupancyConflicts(s *timetable.Solution, a timetable.Assignment, ignore *timetable.Assignment) []timetable.ConstraintViolation {
	var out []timetable.ConstraintViolation
	conflict := func(kind, msg string, blocking timetable.Assignment) {
		if ignore != nil && blocking == *ignore {
			return
		}
		out = append(out, timetable.ConstraintViolation{
			Kind:        kind,
			Severity:    timetable.SeverityHard,
			Assignments: []timetable.Assignment{a, blocking},
			Message:     msg,
		})
	}
	if blocking, taken := s.At(a.ClassID, a.Slot); taken {
		conflict(timetable.KindClassConflict,
			fmt.Sprintf("class %s already has %s at %s", a.ClassID, blocking.SubjectID, a.Slot.Key()), blocking)
	}
	if blocking, taken := s.TeacherAt(a.TeacherID, a.Slot); taken {
		conflict(timetable.KindTeacherConflict,
			fmt.Sprintf("teacher %s already teaches %s at %s", a.TeacherID, blocking.ClassID, a.Slot.Key()), blocking)
	}
	if blocking, taken := s.RoomAt(a.RoomID, a.Slot); taken {
		conflict(timetable.KindRoomConflict,
			fmt.Sprintf("room %s already hosts %s at %s", a.RoomID, blocking.ClassID, a.Slot.Key()), blocking)
	}
	return out
}

// deltaView is a single-change overlay over a solution: the post-change
// state, answerable without materializing a clone. A zero overlay is the
// pre state.
type deltaView struct {
	s       *timetable.Solution
	removed *timetable.Assignment
	added   *timetable.Assignment
}

func (v deltaView) countFor(classID, subjectID string) int {
	n := v.s.CountFor(classID, subjectID)
	if v.removed != nil && v.removed.ClassID == classID && v.removed.SubjectID == subjectID {
		n--
	}
	if v.added != nil && v.added.ClassID == classID && v.added.SubjectID == subjectID {
		n++
	}
	return n
}

func (v deltaView) teacherSlots(teacherID string) []timetable.TimeSlot {
	slots := v.s.TeacherSlots(teacherID)
	if v.removed == nil && v.added == nil {
		return slots
	}
	out := make([]timetable.TimeSlot, 0, len(slots)+1)
	for _, slot := range slots {
		if v.removed != nil && v.removed.TeacherID == teacherID && slot == v.removed.Slot {
			continue
		}
		out = append(out, slot)
	}
	if v.added != nil && v.added.TeacherID == teacherID {
		out = append(out, v.added.Slot)
		sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	}
	return out
}

// scopedViolations collects every violation attributable to the change's
// key set under the given view: per-assignment rules for the touched
// assignments, quotas for the touched (class, subject) pairs and workload
// rules for the touched (teacher, day) pairs.
func (e *Engine) scopedViolations(v deltaView, removed, added *timetable.Assignment) []timetable.ConstraintViolation {
	var out []timetable.ConstraintViolation

	assignments := make(map[string]timetable.Assignment)
	quotaScope := make(map[[2]string]bool)
	type teacherDay struct {
		teacher string
		day     int
	}
	workloadScope := make(map[teacherDay]bool)

	touch := func(a *timetable.Assignment) {
		if a == nil {
			return
		}
		quotaScope[[2]string{a.ClassID, a.SubjectID}] = true
		workloadScope[teacherDay{a.TeacherID, a.Slot.Day}] = true
		if current, ok := v.s.At(a.ClassID, a.Slot); ok {
			assignments[current.Key()] = current
		}
		if current, ok := v.s.TeacherAt(a.TeacherID, a.Slot); ok {
			assignments[current.Key()] = current
		}
		if current, ok := v.s.RoomAt(a.RoomID, a.Slot); ok {
			assignments[current.Key()] = current
		}
	}
	touch(removed)
	touch(added)

	if v.removed != nil {
		delete(assignments, v.removed.Key())
	}
	if v.added != nil {
		assignments[v.added.Key()] = *v.added
	}

	keys := make([]string, 0, len(assignments))
	for key := range assignments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, e.CheckAssignment(assignments[key])...)
	}

	out = append(out, e.quotaViolations(v.countFor, quotaScope)...)

	days := make([]teacherDay, 0, len(workloadScope))
	for td := range workloadScope {
		days = append(days, td)
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].teacher != days[j].teacher {
			return days[i].teacher < days[j].teacher
		}
		return days[i].day < days[j].day
	})
	for _, td := range days {
		out = append(out, e.workloadForSlots(td.teacher, td.day, v.teacherSlots(td.teacher))...)
	}
	return out
}

// diffViolations returns entries of a absent from b, compared by kind and
// message.
func diffViolations(a, b []timetable.ConstraintViolation) []timetable.ConstraintViolation {
	seen := make(map[string]bool, len(b))
	for _, v := range b {
		seen[v.Kind+"|"+v.Message] = true
	}
	var out []timetable.ConstraintViolation
	for _, v := range a {
		key := v.Kind + "|" + v.Message
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}
