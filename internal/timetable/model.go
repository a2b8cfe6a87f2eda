package timetable

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// TimeSlot identifies one teaching period in the weekly grid.
// Identity is the (day, period) pair; day is zero-based, period starts at 1.
type TimeSlot struct {
	Day    int `json:"day"`
	Period int `json:"period"`
}

// Key returns the canonical string form used in cache and index keys.
func (s TimeSlot) Key() string {
	return fmt.Sprintf("%d:%d", s.Day, s.Period)
}

// Before orders slots chronologically.
func (s TimeSlot) Before(o TimeSlot) bool {
	if s.Day != o.Day {
		return s.Day < o.Day
	}
	return s.Period < o.Period
}

// RoomType tags what a room can host.
type RoomType string

const (
	RoomStandard RoomType = "standard"
	RoomLab      RoomType = "lab"
	RoomGym      RoomType = "gym"
)

// TimePreference marks periods or days a teacher or subject favours.
// Resolved once at problem construction, never probed during search.
type TimePreference struct {
	Periods []int `json:"periods,omitempty"`
	Days    []int `json:"days,omitempty"`
}

// Matches reports whether the slot satisfies the preference.
func (p *TimePreference) Matches(slot TimeSlot) bool {
	if p == nil {
		return true
	}
	if len(p.Periods) > 0 {
		found := false
		for _, period := range p.Periods {
			if period == slot.Period {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(p.Days) > 0 {
		for _, day := range p.Days {
			if day == slot.Day {
				return true
			}
		}
		return false
	}
	return true
}

// WorkloadConfig bounds a teacher's weekly schedule. The validator treats
// the per-day and per-week caps as hard; consecutive-period and break
// limits surface as overridable warnings.
type WorkloadConfig struct {
	MaxPeriodsPerDay      int `json:"maxPeriodsPerDay" validate:"omitempty,min=1"`
	MaxPeriodsPerWeek     int `json:"maxPeriodsPerWeek" validate:"omitempty,min=1"`
	MaxConsecutivePeriods int `json:"maxConsecutivePeriods" validate:"omitempty,min=1"`
	MinBreakMinutes       int `json:"minBreakMinutes" validate:"omitempty,min=0"`
}

type Class struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name"`
	Size        int        `json:"size" validate:"required,min=1"`
	Unavailable []TimeSlot `json:"unavailable,omitempty"`
}

type Subject struct {
	ID          string          `json:"id" validate:"required"`
	Name        string          `json:"name"`
	RequiresLab bool            `json:"requiresLab"`
	Preference  *TimePreference `json:"preference,omitempty"`
}

type Teacher struct {
	ID          string          `json:"id" validate:"required"`
	Name        string          `json:"name"`
	Subjects    []string        `json:"subjects" validate:"required,min=1"`
	Unavailable []TimeSlot      `json:"unavailable,omitempty"`
	Workload    WorkloadConfig  `json:"workload"`
	Preference  *TimePreference `json:"preference,omitempty"`
}

type Room struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name"`
	Type        RoomType   `json:"type" validate:"required,oneof=standard lab gym"`
	Capacity    int        `json:"capacity" validate:"required,min=1"`
	Unavailable []TimeSlot `json:"unavailable,omitempty"`
}

// SubjectRequirement states how many weekly periods of a subject a class
// needs and whether sessions must run back to back.
type SubjectRequirement struct {
	ClassID    string `json:"classId" validate:"required"`
	SubjectID  string `json:"subjectId" validate:"required"`
	MinPerWeek int    `json:"minPerWeek" validate:"required,min=1"`
	MaxPerWeek int    `json:"maxPerWeek" validate:"required,min=1"`
	Contiguous bool   `json:"contiguous"`
}

// Problem is the immutable snapshot one generation request works against.
// Construct via NewProblem; the lookup structures are never mutated after.
type Problem struct {
	DaysPerWeek   int    `json:"daysPerWeek" validate:"required,min=1,max=7"`
	PeriodsPerDay int    `json:"periodsPerDay" validate:"required,min=1,max=16"`
	PeriodMinutes int    `json:"periodMinutes" validate:"omitempty,min=10"`
	DayStart      string `json:"dayStart"`

	Classes      []Class              `json:"classes" validate:"required,min=1,dive"`
	Subjects     []Subject            `json:"subjects" validate:"required,min=1,dive"`
	Teachers     []Teacher            `json:"teachers" validate:"required,min=1,dive"`
	Rooms        []Room               `json:"rooms" validate:"required,min=1,dive"`
	Requirements []SubjectRequirement `json:"requirements" validate:"required,min=1,dive"`

	classes     map[string]*Class
	subjects    map[string]*Subject
	teachers    map[string]*Teacher
	rooms       map[string]*Room
	qualified   map[string][]*Teacher
	roomsByType map[RoomType][]*Room
	blocked     map[string]map[TimeSlot]bool
	slots       []TimeSlot
}

// NewProblem validates the snapshot and builds the lookup indexes.
// A malformed snapshot is the engine's only fatal pre-stage error.
func NewProblem(p Problem) (*Problem, error) {
	if err := validator.New().Struct(p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, true, "invalid problem model")
	}

	built := p
	built.classes = make(map[string]*Class, len(p.Classes))
	built.subjects = make(map[string]*Subject, len(p.Subjects))
	built.teachers = make(map[string]*Teacher, len(p.Teachers))
	built.rooms = make(map[string]*Room, len(p.Rooms))
	built.qualified = make(map[string][]*Teacher)
	built.roomsByType = make(map[RoomType][]*Room)
	built.blocked = make(map[string]map[TimeSlot]bool)

	seen := make(map[string]string)
	register := func(id, kind string, unavailable []TimeSlot) error {
		if prior, dup := seen[id]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate resource id %q (%s and %s)", id, prior, kind))
		}
		seen[id] = kind
		if len(unavailable) > 0 {
			set := make(map[TimeSlot]bool, len(unavailable))
			for _, slot := range unavailable {
				set[slot] = true
			}
			built.blocked[id] = set
		}
		return nil
	}

	for i := range built.Classes {
		c := &built.Classes[i]
		if err := register(c.ID, "class", c.Unavailable); err != nil {
			return nil, err
		}
		built.classes[c.ID] = c
	}
	for i := range built.Subjects {
		s := &built.Subjects[i]
		built.subjects[s.ID] = s
	}
	for i := range built.Teachers {
		t := &built.Teachers[i]
		if err := register(t.ID, "teacher", t.Unavailable); err != nil {
			return nil, err
		}
		built.teachers[t.ID] = t
		for _, subjectID := range t.Subjects {
			if _, ok := built.subjects[subjectID]; !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("teacher %s references unknown subject %s", t.ID, subjectID))
			}
			built.qualified[subjectID] = append(built.qualified[subjectID], t)
		}
	}
	for i := range built.Rooms {
		r := &built.Rooms[i]
		if err := register(r.ID, "room", r.Unavailable); err != nil {
			return nil, err
		}
		built.rooms[r.ID] = r
		built.roomsByType[r.Type] = append(built.roomsByType[r.Type], r)
	}

	for _, req := range built.Requirements {
		if _, ok := built.classes[req.ClassID]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement references unknown class %s", req.ClassID))
		}
		if _, ok := built.subjects[req.SubjectID]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement references unknown subject %s", req.SubjectID))
		}
		if req.MaxPerWeek < req.MinPerWeek {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s/%s has maxPerWeek < minPerWeek", req.ClassID, req.SubjectID))
		}
	}

	built.slots = make([]TimeSlot, 0, built.DaysPerWeek*built.PeriodsPerDay)
	for day := 0; day < built.DaysPerWeek; day++ {
		for period := 1; period <= built.PeriodsPerDay; period++ {
			built.slots = append(built.slots, TimeSlot{Day: day, Period: period})
		}
	}

	if built.PeriodMinutes == 0 {
		built.PeriodMinutes = 45
	}
	if built.DayStart == "" {
		built.DayStart = "07:30"
	}

	return &built, nil
}

// Slots enumerates the weekly grid in chronological order.
func (p *Problem) Slots() []TimeSlot { return p.slots }

// TotalSlots is the number of cells in the weekly grid.
func (p *Problem) TotalSlots() int { return len(p.slots) }

func (p *Problem) ClassByID(id string) (*Class, bool) {
	c, ok := p.classes[id]
	return c, ok
}

func (p *Problem) SubjectByID(id string) (*Subject, bool) {
	s, ok := p.subjects[id]
	return s, ok
}

func (p *Problem) TeacherByID(id string) (*Teacher, bool) {
	t, ok := p.teachers[id]
	return t, ok
}

func (p *Problem) RoomByID(id string) (*Room, bool) {
	r, ok := p.rooms[id]
	return r, ok
}

// QualifiedTeachers returns teachers tagged for the subject, ordered by id.
func (p *Problem) QualifiedTeachers(subjectID string) []*Teacher {
	teachers := p.qualified[subjectID]
	sorted := make([]*Teacher, len(teachers))
	copy(sorted, teachers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}

// RoomsOfType returns rooms of the given type, ordered by id.
func (p *Problem) RoomsOfType(t RoomType) []*Room {
	rooms := p.roomsByType[t]
	sorted := make([]*Room, len(rooms))
	copy(sorted, rooms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}

// CandidateRooms returns the rooms a subject may use: labs for lab subjects,
// any room otherwise.
func (p *Problem) CandidateRooms(subject *Subject) []*Room {
	if subject != nil && subject.RequiresLab {
		return p.RoomsOfType(RoomLab)
	}
	rooms := make([]*Room, 0, len(p.Rooms))
	for i := range p.Rooms {
		rooms = append(rooms, &p.Rooms[i])
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// Available reports whether the resource (class, teacher or room) is free
// at the slot per its availability mask.
func (p *Problem) Available(resourceID string, slot TimeSlot) bool {
	set, ok := p.blocked[resourceID]
	if !ok {
		return true
	}
	return !set[slot]
}

// SlotTimes derives the wall-clock start and end of a slot from the grid
// configuration.
func (p *Problem) SlotTimes(slot TimeSlot) (start, end time.Time) {
	base, err := time.Parse("15:04", p.DayStart)
	if err != nil {
		base, _ = time.Parse("15:04", "07:30")
	}
	start = base.Add(time.Duration(slot.Period-1) * time.Duration(p.PeriodMinutes) * time.Minute)
	end = start.Add(time.Duration(p.PeriodMinutes) * time.Minute)
	return start, end
}

// RequirementFor looks up the demand row for a class/subject pair.
func (p *Problem) RequirementFor(classID, subjectID string) (SubjectRequirement, bool) {
	for _, req := range p.Requirements {
		if req.ClassID == classID && req.SubjectID == subjectID {
			return req, true
		}
	}
	return SubjectRequirement{}, false
}
