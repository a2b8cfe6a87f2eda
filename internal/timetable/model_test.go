package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func baseProblem() Problem {
	return Problem{
		DaysPerWeek:   5,
		PeriodsPerDay: 6,
		Classes: []Class{
			{ID: "c1", Name: "10A", Size: 25},
			{ID: "c2", Name: "10B", Size: 28, Unavailable: []TimeSlot{{Day: 0, Period: 1}}},
		},
		Subjects: []Subject{
			{ID: "math", Name: "Mathematics"},
			{ID: "physics", Name: "Physics", RequiresLab: true},
			{ID: "english", Name: "English"},
		},
		Teachers: []Teacher{
			{ID: "t-ana", Name: "Ana", Subjects: []string{"math", "physics"}},
			{ID: "t-ben", Name: "Ben", Subjects: []string{"english"}, Unavailable: []TimeSlot{{Day: 4, Period: 6}}},
			{ID: "t-cleo", Name: "Cleo", Subjects: []string{"math"}},
		},
		Rooms: []Room{
			{ID: "r1", Type: RoomStandard, Capacity: 30},
			{ID: "r2", Type: RoomStandard, Capacity: 30},
			{ID: "lab1", Type: RoomLab, Capacity: 30},
		},
		Requirements: []SubjectRequirement{
			{ClassID: "c1", SubjectID: "math", MinPerWeek: 4, MaxPerWeek: 5},
			{ClassID: "c1", SubjectID: "physics", MinPerWeek: 2, MaxPerWeek: 2},
			{ClassID: "c1", SubjectID: "english", MinPerWeek: 3, MaxPerWeek: 3},
			{ClassID: "c2", SubjectID: "math", MinPerWeek: 4, MaxPerWeek: 5},
			{ClassID: "c2", SubjectID: "english", MinPerWeek: 3, MaxPerWeek: 3},
		},
	}
}

func TestNewProblemBuildsIndexes(t *testing.T) {
	p, err := NewProblem(baseProblem())
	require.NoError(t, err)

	assert.Equal(t, 30, p.TotalSlots())
	assert.Len(t, p.Slots(), 30)

	mathTeachers := p.QualifiedTeachers("math")
	require.Len(t, mathTeachers, 2)
	assert.Equal(t, "t-ana", mathTeachers[0].ID, "qualified teachers must come back id-sorted")
	assert.Equal(t, "t-cleo", mathTeachers[1].ID)

	labs := p.RoomsOfType(RoomLab)
	require.Len(t, labs, 1)
	assert.Equal(t, "lab1", labs[0].ID)

	physics, ok := p.SubjectByID("physics")
	require.True(t, ok)
	labRooms := p.CandidateRooms(physics)
	require.Len(t, labRooms, 1)
	assert.Equal(t, "lab1", labRooms[0].ID)

	english, ok := p.SubjectByID("english")
	require.True(t, ok)
	assert.Len(t, p.CandidateRooms(english), 3)
}

func TestNewProblemAvailabilityMasks(t *testing.T) {
	p, err := NewProblem(baseProblem())
	require.NoError(t, err)

	assert.False(t, p.Available("c2", TimeSlot{Day: 0, Period: 1}))
	assert.True(t, p.Available("c2", TimeSlot{Day: 0, Period: 2}))
	assert.False(t, p.Available("t-ben", TimeSlot{Day: 4, Period: 6}))
	assert.True(t, p.Available("t-ana", TimeSlot{Day: 4, Period: 6}))
	assert.True(t, p.Available("unknown", TimeSlot{Day: 1, Period: 1}))
}

func TestNewProblemRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Problem)
	}{
		{"missing class id", func(p *Problem) { p.Classes[0].ID = "" }},
		{"duplicate resource id", func(p *Problem) { p.Rooms[0].ID = "t-ana" }},
		{"teacher references unknown subject", func(p *Problem) { p.Teachers[0].Subjects = []string{"latin"} }},
		{"requirement references unknown class", func(p *Problem) { p.Requirements[0].ClassID = "c9" }},
		{"requirement max below min", func(p *Problem) { p.Requirements[0].MaxPerWeek = 1 }},
		{"no rooms", func(p *Problem) { p.Rooms = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := baseProblem()
			tc.mutate(&p)
			_, err := NewProblem(p)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation), "want validation error, got %v", err)
		})
	}
}

func TestSlotTimes(t *testing.T) {
	p, err := NewProblem(baseProblem())
	require.NoError(t, err)

	start, end := p.SlotTimes(TimeSlot{Day: 0, Period: 1})
	assert.Equal(t, "07:30", start.Format("15:04"))
	assert.Equal(t, "08:15", end.Format("15:04"))

	start, _ = p.SlotTimes(TimeSlot{Day: 0, Period: 3})
	assert.Equal(t, "09:00", start.Format("15:04"))
}

func TestTimePreferenceMatches(t *testing.T) {
	var nilPref *TimePreference
	assert.True(t, nilPref.Matches(TimeSlot{Day: 0, Period: 1}))

	pref := &TimePreference{Periods: []int{1, 2}, Days: []int{0, 1}}
	assert.True(t, pref.Matches(TimeSlot{Day: 0, Period: 1}))
	assert.False(t, pref.Matches(TimeSlot{Day: 2, Period: 1}))
	assert.False(t, pref.Matches(TimeSlot{Day: 0, Period: 3}))
}
