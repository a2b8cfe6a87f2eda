package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// RenderCSV produces CSV encoded bytes for the dataset.
func RenderCSV(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// TimetableDataset flattens a solution into one row per assignment,
// ordered by class then time.
func TimetableDataset(p *timetable.Problem, s *timetable.Solution) Dataset {
	headers := []string{"class", "day", "period", "start", "end", "subject", "teacher", "room"}
	assignments := s.Assignments()
	sort.SliceStable(assignments, func(i, j int) bool {
		if assignments[i].ClassID != assignments[j].ClassID {
			return assignments[i].ClassID < assignments[j].ClassID
		}
		return assignments[i].Slot.Before(assignments[j].Slot)
	})

	rows := make([]map[string]string, 0, len(assignments))
	for _, a := range assignments {
		start, end := p.SlotTimes(a.Slot)
		rows = append(rows, map[string]string{
			"class":   a.ClassID,
			"day":     fmt.Sprintf("%d", a.Slot.Day),
			"period":  fmt.Sprintf("%d", a.Slot.Period),
			"start":   start.Format("15:04"),
			"end":     end.Format("15:04"),
			"subject": a.SubjectID,
			"teacher": a.TeacherID,
			"room":    a.RoomID,
		})
	}
	return Dataset{Headers: headers, Rows: rows}
}

// TimetableCSV writes the flattened timetable to a file.
func TimetableCSV(path string, p *timetable.Problem, s *timetable.Solution) error {
	out, err := RenderCSV(TimetableDataset(p, s))
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
