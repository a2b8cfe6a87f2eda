package constraint

import (
	"fmt"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// hardViolations runs every hard rule over the whole solution. Double
// bookings cannot be represented (the solution's key indexes reject them
// at insertion), so the scan covers the remaining rules: qualification,
// capacity, room type, availability masks and subject quotas.
func (e *Engine) hardViolations(s *timetable.Solution) []timetable.ConstraintViolation {
	var out []timetable.ConstraintViolation
	for _, a := range s.Assignments() {
		out = append(out, e.CheckAssignment(a)...)
	}
	out = append(out, e.quotaViolations(s.CountFor, nil)...)
	out = append(out, e.workloadHard(s)...)
	return out
}

// workloadHard collects the non-overridable workload violations (per-day
// and per-week caps) across all teachers.
func (e *Engine) workloadHard(s *timetable.Solution) []timetable.ConstraintViolation {
	var out []timetable.ConstraintViolation
	for _, id := range s.TeacherIDs() {
		days := make(map[int]bool)
		for _, slot := range s.TeacherSlots(id) {
			days[slot.Day] = true
		}
		weekReported := false
		for day := 0; day < e.problem.DaysPerWeek; day++ {
			if !days[day] {
				continue
			}
			for _, v := range e.WorkloadViolations(s, id, day) {
				if v.Severity != timetable.SeverityHard {
					continue
				}
				if v.Kind == timetable.KindMaxPeriodsPerWeek {
					if weekReported {
						continue
					}
					weekReported = true
				}
				out = append(out, v)
			}
		}
	}
	return out
}

// CheckAssignment applies the per-assignment hard rules. It does not look
// at slot occupancy; use Probe for that.
func (e *Engine) CheckAssignment(a timetable.Assignment) []timetable.ConstraintViolation {
	var out []timetable.ConstraintViolation
	hard := func(kind, msg string) {
		out = append(out, timetable.ConstraintViolation{
			Kind:        kind,
			Severity:    timetable.SeverityHard,
			Assignments: []timetable.Assignment{a},
			Message:     msg,
		})
	}

	teacher, teacherOK := e.problem.TeacherByID(a.TeacherID)
	subject, subjectOK := e.problem.SubjectByID(a.SubjectID)
	room, roomOK := e.problem.RoomByID(a.RoomID)
	class, classOK := e.problem.ClassByID(a.ClassID)

	if !teacherOK {
		hard(timetable.KindTeacherUnqualified, fmt.Sprintf("unknown teacher %s", a.TeacherID))
	} else if subjectOK && !qualifies(teacher, a.SubjectID) {
		hard(timetable.KindTeacherUnqualified, fmt.Sprintf("teacher %s is not qualified for %s", a.TeacherID, a.SubjectID))
	}

	if teacherOK && !e.problem.Available(a.TeacherID, a.Slot) {
		hard(timetable.KindTeacherUnavailable, fmt.Sprintf("teacher %s is unavailable at %s", a.TeacherID, a.Slot.Key()))
	}
	if classOK && !e.problem.Available(a.ClassID, a.Slot) {
		hard(timetable.KindClassUnavailable, fmt.Sprintf("class %s is unavailable at %s", a.ClassID, a.Slot.Key()))
	}
	if roomOK && !e.problem.Available(a.RoomID, a.Slot) {
		hard(timetable.KindRoomUnavailable, fmt.Sprintf("room %s is unavailable at %s", a.RoomID, a.Slot.Key()))
	}

	if roomOK && classOK && room.Capacity < class.Size {
		hard(timetable.KindRoomCapacity, fmt.Sprintf("room %s seats %d but class %s has %d students", a.RoomID, room.Capacity, a.ClassID, class.Size))
	}
	if roomOK && subjectOK && subject.RequiresLab && room.Type != timetable.RoomLab {
		hard(timetable.KindRoomType, fmt.Sprintf("subject %s needs a lab but room %s is %s", a.SubjectID, a.RoomID, room.Type))
	}

	return out
}

func qualifies(t *timetable.Teacher, subjectID string) bool {
	for _, s := range t.Subjects {
		if s == subjectID {
			return true
		}
	}
	return false
}

// quotaViolations checks each requirement's min/max weekly count against
// the given counter. When scope is non-nil only the listed (class,
// subject) pairs are checked; that is what makes delta evaluation cheap.
func (e *Engine) quotaViolations(countFor func(classID, subjectID string) int, scope map[[2]string]bool) []timetable.ConstraintViolation {
	var out []timetable.ConstraintViolation
	for _, req := range e.problem.Requirements {
		if scope != nil && !scope[[2]string{req.ClassID, req.SubjectID}] {
			continue
		}
		count := countFor(req.ClassID, req.SubjectID)
		if count < req.MinPerWeek || count > req.MaxPerWeek {
			out = append(out, timetable.ConstraintViolation{
				Kind:     timetable.KindSubjectQuota,
				Severity: timetable.SeverityHard,
				Message: fmt.Sprintf("class %s has %d periods of %s, expected %d-%d",
					req.ClassID, count, req.SubjectID, req.MinPerWeek, req.MaxPerWeek),
			})
		}
	}
	return out
}

// Probe reports whether placing the assignment would break any hard rule,
// including occupancy of the three resource-slot keys. Every solver calls
// this before attempting a move.
func (e *Engine) Probe(s *timetable.Solution, a timetable.Assignment) bool {
	if _, taken := s.At(a.ClassID, a.Slot); taken {
		return false
	}
	if _, taken := s.TeacherAt(a.TeacherID, a.Slot); taken {
		return false
	}
	if _, taken := s.RoomAt(a.RoomID, a.Slot); taken {
		return false
	}
	if len(e.CheckAssignment(a)) > 0 {
		return false
	}
	if req, ok := e.problem.RequirementFor(a.ClassID, a.SubjectID); ok {
		if s.CountFor(a.ClassID, a.SubjectID)+1 > req.MaxPerWeek {
			return false
		}
	}
	return true
}

// WorkloadViolations evaluates one teacher's day against their
// WorkloadConfig. The per-day and per-week caps are hard and cannot be
// overridden; consecutive-period and break limits come back as
// overridable warnings. The live validator relies on this split.
func (e *Engine) WorkloadViolations(s *timetable.Solution, teacherID string, day int) []timetable.ConstraintViolation {
	return e.workloadForSlots(teacherID, day, s.TeacherSlots(teacherID))
}

// workloadForSlots is the core of WorkloadViolations, taking the slot
// list directly so the delta evaluator can feed it an adjusted view.
func (e *Engine) workloadForSlots(teacherID string, day int, slots []timetable.TimeSlot) []timetable.ConstraintViolation {
	teacher, ok := e.problem.TeacherByID(teacherID)
	if !ok {
		return nil
	}
	cfg := teacher.Workload
	var out []timetable.ConstraintViolation

	dayCount := 0
	var periods []int
	for _, slot := range slots {
		if slot.Day == day {
			dayCount++
			periods = append(periods, slot.Period)
		}
	}

	if cfg.MaxPeriodsPerDay > 0 && dayCount > cfg.MaxPeriodsPerDay {
		out = append(out, timetable.ConstraintViolation{
			Kind:     timetable.KindMaxPeriodsPerDay,
			Severity: timetable.SeverityHard,
			Message:  fmt.Sprintf("teacher %s has %d periods on day %d, limit is %d", teacherID, dayCount, day, cfg.MaxPeriodsPerDay),
		})
	}
	if cfg.MaxPeriodsPerWeek > 0 && len(slots) > cfg.MaxPeriodsPerWeek {
		out = append(out, timetable.ConstraintViolation{
			Kind:     timetable.KindMaxPeriodsPerWeek,
			Severity: timetable.SeverityHard,
			Message:  fmt.Sprintf("teacher %s has %d weekly periods, limit is %d", teacherID, len(slots), cfg.MaxPeriodsPerWeek),
		})
	}

	if cfg.MaxConsecutivePeriods > 0 {
		if run := longestRun(periods); run > cfg.MaxConsecutivePeriods {
			out = append(out, timetable.ConstraintViolation{
				Kind:        timetable.KindMaxConsecutive,
				Severity:    timetable.SeveritySoft,
				CanOverride: true,
				Message:     fmt.Sprintf("teacher %s would teach %d consecutive periods on day %d, limit is %d", teacherID, run, day, cfg.MaxConsecutivePeriods),
			})
		}
	}

	if cfg.MinBreakMinutes > 0 && len(periods) >= 2 {
		if !hasBreak(periods, cfg.MinBreakMinutes, e.problem.PeriodMinutes) {
			out = append(out, timetable.ConstraintViolation{
				Kind:        timetable.KindMinBreak,
				Severity:    timetable.SeveritySoft,
				CanOverride: true,
				Message:     fmt.Sprintf("teacher %s has no break of %d minutes on day %d", teacherID, cfg.MinBreakMinutes, day),
			})
		}
	}

	return out
}

// longestRun returns the longest streak of consecutive periods. The input
// must be sorted ascending, which TeacherSlots guarantees.
func longestRun(periods []int) int {
	best, run := 0, 0
	prev := -10
	for _, p := range periods {
		if p == prev+1 {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
		prev = p
	}
	return best
}

// hasBreak reports whether any idle stretch between scheduled periods is
// long enough to count as a real break.
func hasBreak(periods []int, minBreakMinutes, periodMinutes int) bool {
	if periodMinutes <= 0 {
		return true
	}
	needed := (minBreakMinutes + periodMinutes - 1) / periodMinutes
	for i := 0; i < len(periods)-1; i++ {
		if periods[i+1]-periods[i]-1 >= needed {
			return true
		}
	}
	return false
}
