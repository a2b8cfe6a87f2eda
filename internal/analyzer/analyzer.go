package analyzer

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// Bottleneck severities and their feasibility penalties. A missing
// resource class (no lab, no qualified teacher) is near-fatal; a shortage
// is recoverable by tighter packing; a tight fit is only worth a warning.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"

	penaltyCritical = 75.0
	penaltyHigh     = 25.0
	penaltyMedium   = 10.0
)

// Bottleneck names one resource shortfall.
type Bottleneck struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subjectId,omitempty"`
	ClassID   string `json:"classId,omitempty"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Deficit   int    `json:"deficit,omitempty"`
}

// Demand summarises one subject's weekly resource needs.
type Demand struct {
	TotalPeriods      int  `json:"totalPeriods"`
	PeakConcurrent    int  `json:"peakConcurrent"`
	MinTeachers       int  `json:"minTeachers"`
	QualifiedTeachers int  `json:"qualifiedTeachers"`
	RequiresLab       bool `json:"requiresLab"`
}

// Report is the analyzer verdict the orchestrator gates on.
type Report struct {
	FeasibilityScore float64           `json:"feasibilityScore"`
	Bottlenecks      []Bottleneck      `json:"bottlenecks"`
	Demand           map[string]Demand `json:"demand"`
}

// Feasible reports whether search is worth starting.
func (r Report) Feasible(threshold float64) bool {
	return r.FeasibilityScore >= threshold
}

// Analyzer estimates feasibility and minimum resource counts before any
// search begins. Pure computation over the problem snapshot.
type Analyzer struct {
	problem *timetable.Problem
	logger  *zap.Logger
}

func New(problem *timetable.Problem, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{problem: problem, logger: logger}
}

// Analyze computes per-subject demand, flags bottlenecks and produces the
// 0-100 feasibility score.
func (a *Analyzer) Analyze() Report {
	p := a.problem
	totalSlots := p.TotalSlots()
	report := Report{Demand: make(map[string]Demand)}

	perSubject := make(map[string]int)
	perClass := make(map[string]int)
	for _, req := range p.Requirements {
		perSubject[req.SubjectID] += req.MinPerWeek
		perClass[req.ClassID] += req.MinPerWeek
	}

	subjectIDs := make([]string, 0, len(perSubject))
	for id := range perSubject {
		subjectIDs = append(subjectIDs, id)
	}
	sort.Strings(subjectIDs)

	labDemand := 0
	for _, subjectID := range subjectIDs {
		needed := perSubject[subjectID]
		subject, _ := p.SubjectByID(subjectID)
		qualified := p.QualifiedTeachers(subjectID)

		// Pigeonhole lower bound: needed periods spread over the grid
		// cannot avoid this much concurrency.
		peak := ceilDiv(needed, totalSlots)
		capPerTeacher := weeklyCap(qualified, totalSlots)
		minTeachers := ceilDiv(needed, capPerTeacher)
		if peak > minTeachers {
			minTeachers = peak
		}

		demand := Demand{
			TotalPeriods:      needed,
			PeakConcurrent:    peak,
			MinTeachers:       minTeachers,
			QualifiedTeachers: len(qualified),
			RequiresLab:       subject != nil && subject.RequiresLab,
		}
		report.Demand[subjectID] = demand

		if len(qualified) == 0 {
			report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
				Kind:      "no_qualified_teacher",
				SubjectID: subjectID,
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("no teacher is qualified for subject %s", subjectID),
				Deficit:   minTeachers,
			})
		} else if minTeachers > len(qualified) {
			report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
				Kind:      "teacher_shortage",
				SubjectID: subjectID,
				Severity:  SeverityHigh,
				Message: fmt.Sprintf("subject %s needs at least %d teachers but only %d are qualified",
					subjectID, minTeachers, len(qualified)),
				Deficit: minTeachers - len(qualified),
			})
		}

		if demand.RequiresLab {
			labDemand += needed
		}
	}

	labs := p.RoomsOfType(timetable.RoomLab)
	if labDemand > 0 {
		if len(labs) == 0 {
			report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
				Kind:     "no_lab",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("%d weekly lab periods required but no lab room exists", labDemand),
				Deficit:  ceilDiv(labDemand, totalSlots),
			})
		} else if labDemand > len(labs)*totalSlots {
			report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
				Kind:     "lab_shortage",
				Severity: SeverityHigh,
				Message: fmt.Sprintf("%d weekly lab periods exceed capacity of %d lab rooms",
					labDemand, len(labs)),
				Deficit: ceilDiv(labDemand, totalSlots) - len(labs),
			})
		}
	}

	classIDs := make([]string, 0, len(perClass))
	for id := range perClass {
		classIDs = append(classIDs, id)
	}
	sort.Strings(classIDs)
	for _, classID := range classIDs {
		if perClass[classID] > totalSlots {
			report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
				Kind:     "grid_overflow",
				ClassID:  classID,
				Severity: SeverityCritical,
				Message: fmt.Sprintf("class %s requires %d weekly periods but the grid has %d slots",
					classID, perClass[classID], totalSlots),
				Deficit: perClass[classID] - totalSlots,
			})
		} else if perClass[classID] == totalSlots {
			report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
				Kind:     "grid_saturated",
				ClassID:  classID,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("class %s fills every slot of the grid, no slack remains", classID),
			})
		}
	}

	if len(p.Rooms) < len(p.Classes) {
		report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
			Kind:     "room_shortage",
			Severity: SeverityHigh,
			Message: fmt.Sprintf("%d classes cannot meet simultaneously in %d rooms",
				len(p.Classes), len(p.Rooms)),
			Deficit: len(p.Classes) - len(p.Rooms),
		})
	}

	penalty := 0.0
	for _, b := range report.Bottlenecks {
		switch b.Severity {
		case SeverityCritical:
			penalty += penaltyCritical
		case SeverityHigh:
			penalty += penaltyHigh
		default:
			penalty += penaltyMedium
		}
	}
	report.FeasibilityScore = math.Max(0, 100-penalty)

	a.logger.Debug("resource analysis complete",
		zap.Float64("feasibility", report.FeasibilityScore),
		zap.Int("bottlenecks", len(report.Bottlenecks)))
	return report
}

// weeklyCap is the highest weekly period cap among the qualified teachers;
// teachers without a cap can in principle fill the whole grid.
func weeklyCap(teachers []*timetable.Teacher, totalSlots int) int {
	cap := 0
	for _, t := range teachers {
		limit := t.Workload.MaxPeriodsPerWeek
		if limit <= 0 || limit > totalSlots {
			limit = totalSlots
		}
		if limit > cap {
			cap = limit
		}
	}
	if cap == 0 {
		cap = totalSlots
	}
	return cap
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
