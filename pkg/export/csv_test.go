package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

func exportProblem(t *testing.T) *timetable.Problem {
	t.Helper()
	p, err := timetable.NewProblem(timetable.Problem{
		DaysPerWeek:   5,
		PeriodsPerDay: 6,
		Classes:       []timetable.Class{{ID: "c1", Size: 25}, {ID: "c2", Size: 28}},
		Subjects:      []timetable.Subject{{ID: "math"}, {ID: "english"}},
		Teachers: []timetable.Teacher{
			{ID: "t-ana", Subjects: []string{"math"}},
			{ID: "t-ben", Subjects: []string{"english"}},
		},
		Rooms: []timetable.Room{
			{ID: "r1", Type: timetable.RoomStandard, Capacity: 30},
			{ID: "r2", Type: timetable.RoomStandard, Capacity: 30},
		},
		Requirements: []timetable.SubjectRequirement{
			{ClassID: "c1", SubjectID: "math", MinPerWeek: 1, MaxPerWeek: 2},
			{ClassID: "c1", SubjectID: "english", MinPerWeek: 1, MaxPerWeek: 2},
			{ClassID: "c2", SubjectID: "math", MinPerWeek: 1, MaxPerWeek: 2},
		},
	})
	require.NoError(t, err)
	return p
}

func exportSolution(t *testing.T) *timetable.Solution {
	t.Helper()
	s := timetable.NewSolution()
	place := func(class, subject, teacher, room string, day, period int) {
		t.Helper()
		require.NoError(t, s.Place(timetable.Assignment{
			ClassID: class, SubjectID: subject, TeacherID: teacher, RoomID: room,
			Slot: timetable.TimeSlot{Day: day, Period: period},
		}))
	}
	// Deliberately placed out of class/time order to exercise sorting.
	place("c2", "math", "t-ana", "r2", 1, 1)
	place("c1", "english", "t-ben", "r1", 0, 2)
	place("c1", "math", "t-ana", "r1", 0, 1)
	return s
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(Dataset{
		Headers: []string{"a", "b"},
		Rows: []map[string]string{
			{"a": "1", "b": "2"},
			{"a": "3"}, // missing column renders empty
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n3,\n", string(out))
}

func TestRenderCSVRequiresHeaders(t *testing.T) {
	_, err := RenderCSV(Dataset{})
	assert.Error(t, err)
}

func TestTimetableDatasetOrdering(t *testing.T) {
	p := exportProblem(t)
	data := TimetableDataset(p, exportSolution(t))

	assert.Equal(t, []string{"class", "day", "period", "start", "end", "subject", "teacher", "room"}, data.Headers)
	require.Len(t, data.Rows, 3)

	// Rows come back sorted by class, then chronologically.
	assert.Equal(t, "c1", data.Rows[0]["class"])
	assert.Equal(t, "math", data.Rows[0]["subject"])
	assert.Equal(t, "c1", data.Rows[1]["class"])
	assert.Equal(t, "english", data.Rows[1]["subject"])
	assert.Equal(t, "c2", data.Rows[2]["class"])

	// Wall-clock times derive from the default 07:30 start and 45-minute
	// periods.
	assert.Equal(t, "07:30", data.Rows[0]["start"])
	assert.Equal(t, "08:15", data.Rows[0]["end"])
	assert.Equal(t, "08:15", data.Rows[1]["start"])
	assert.Equal(t, "09:00", data.Rows[1]["end"])
}

func TestTimetableCSVWritesFile(t *testing.T) {
	p := exportProblem(t)
	path := filepath.Join(t.TempDir(), "timetable.csv")

	require.NoError(t, TimetableCSV(path, p, exportSolution(t)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "class,day,period,start,end,subject,teacher,room", lines[0])
	assert.Equal(t, "c1,0,1,07:30,08:15,math,t-ana,r1", lines[1])
}
