package timetable

// Severity splits violations into ones that invalidate a timetable and
// ones that only cost quality.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Violation kinds. Hard kinds invalidate a solution; the workload kinds
// are classified by the live validator per the teacher's WorkloadConfig.
const (
	KindTeacherConflict    = "teacher_conflict"
	KindRoomConflict       = "room_conflict"
	KindClassConflict      = "class_conflict"
	KindTeacherUnqualified = "teacher_unqualified"
	KindRoomCapacity       = "room_capacity"
	KindRoomType           = "room_type"
	KindTeacherUnavailable = "teacher_unavailable"
	KindClassUnavailable   = "class_unavailable"
	KindRoomUnavailable    = "room_unavailable"
	KindSubjectQuota       = "subject_quota"
	KindMaxPeriodsPerDay   = "max_periods_per_day"
	KindMaxPeriodsPerWeek  = "max_periods_per_week"
	KindMaxConsecutive     = "max_consecutive_periods"
	KindMinBreak           = "min_break"
	KindUnassignedUnit     = "unassigned_unit"
)

// ConstraintViolation is produced by evaluation and never stored inside a
// Solution; it is recomputed on demand.
type ConstraintViolation struct {
	Kind        string       `json:"kind"`
	Severity    Severity     `json:"severity"`
	Assignments []Assignment `json:"assignments,omitempty"`
	Message     string       `json:"message"`
	CanOverride bool         `json:"canOverride"`
}
