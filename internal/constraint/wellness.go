package constraint

import (
	"math"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// wellnessSubScores judges the timetable from the teachers' side: balanced
// days, spread-out weeks, real breaks, bounded streaks and prep room. The
// combined score is reported next to the quality score, never mixed in.
func (e *Engine) wellnessSubScores(s *timetable.Solution) map[string]float64 {
	return map[string]float64{
		WellnessDailyBalance: e.dailyBalanceScore(s),
		WellnessWeeklySpread: e.weeklySpreadScore(s),
		WellnessBreaks:       e.breakAdequacyScore(s),
		WellnessConsecutive:  e.consecutiveScore(s),
		WellnessPrepTime:     e.prepTimeScore(s),
	}
}

// dailyBalanceScore rewards teachers whose teaching days carry similar
// loads.
func (e *Engine) dailyBalanceScore(s *timetable.Solution) float64 {
	total, teachers := 0.0, 0
	for _, id := range s.TeacherIDs() {
		perDay := groupPeriodsByDay(s.TeacherSlots(id))
		// Days in ascending order so the variance fold is deterministic.
		loads := make([]float64, 0, len(perDay))
		for day := 0; day < e.problem.DaysPerWeek; day++ {
			if periods, ok := perDay[day]; ok {
				loads = append(loads, float64(len(periods)))
			}
		}
		if len(loads) == 0 {
			continue
		}
		mean := 0.0
		for _, l := range loads {
			mean += l
		}
		mean /= float64(len(loads))
		variance := 0.0
		for _, l := range loads {
			variance += (l - mean) * (l - mean)
		}
		variance /= float64(len(loads))
		total += clamp01(1 - math.Sqrt(variance)/float64(e.problem.PeriodsPerDay))
		teachers++
	}
	if teachers == 0 {
		return math.NaN()
	}
	return total / float64(teachers)
}

// weeklySpreadScore rewards spreading a teacher's periods across days
// rather than stacking them.
func (e *Engine) weeklySpreadScore(s *timetable.Solution) float64 {
	total, teachers := 0.0, 0
	for _, id := range s.TeacherIDs() {
		slots := s.TeacherSlots(id)
		if len(slots) == 0 {
			continue
		}
		perDay := groupPeriodsByDay(slots)
		idealDays := len(slots)
		if idealDays > e.problem.DaysPerWeek {
			idealDays = e.problem.DaysPerWeek
		}
		total += float64(len(perDay)) / float64(idealDays)
		teachers++
	}
	if teachers == 0 {
		return math.NaN()
	}
	return clamp01(total / float64(teachers))
}

// breakAdequacyScore is the fraction of teacher-days that contain the
// configured minimum break. Teachers without a break requirement do not
// participate.
func (e *Engine) breakAdequacyScore(s *timetable.Solution) float64 {
	satisfied, rows := 0, 0
	for _, id := range s.TeacherIDs() {
		teacher, ok := e.problem.TeacherByID(id)
		if !ok || teacher.Workload.MinBreakMinutes <= 0 {
			continue
		}
		for _, periods := range groupPeriodsByDay(s.TeacherSlots(id)) {
			if len(periods) < 2 {
				continue
			}
			rows++
			if hasBreak(periods, teacher.Workload.MinBreakMinutes, e.problem.PeriodMinutes) {
				satisfied++
			}
		}
	}
	if rows == 0 {
		return math.NaN()
	}
	return float64(satisfied) / float64(rows)
}

// consecutiveScore is the fraction of teacher-days whose longest streak
// respects the configured consecutive-period limit.
func (e *Engine) consecutiveScore(s *timetable.Solution) float64 {
	within, rows := 0, 0
	for _, id := range s.TeacherIDs() {
		teacher, ok := e.problem.TeacherByID(id)
		if !ok || teacher.Workload.MaxConsecutivePeriods <= 0 {
			continue
		}
		for _, periods := range groupPeriodsByDay(s.TeacherSlots(id)) {
			rows++
			if longestRun(periods) <= teacher.Workload.MaxConsecutivePeriods {
				within++
			}
		}
	}
	if rows == 0 {
		return math.NaN()
	}
	return float64(within) / float64(rows)
}

// prepTimeScore is the fraction of teacher-days that leave at least one
// free period for preparation.
func (e *Engine) prepTimeScore(s *timetable.Solution) float64 {
	free, rows := 0, 0
	for _, id := range s.TeacherIDs() {
		for _, periods := range groupPeriodsByDay(s.TeacherSlots(id)) {
			rows++
			if len(periods) < e.problem.PeriodsPerDay {
				free++
			}
		}
	}
	if rows == 0 {
		return math.NaN()
	}
	return float64(free) / float64(rows)
}
