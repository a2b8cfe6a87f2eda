package constraint

import (
	"math"
	"sort"

	"github.com/samber/lo"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// Sub-score names shared by the weight tables and Evaluation.SubScores.
const (
	ScoreTeacherPreference = "teacher_preference"
	ScoreGaps              = "gaps"
	ScoreWorkloadBalance   = "workload_balance"
	ScoreMovement          = "movement"
	ScoreUtilization       = "utilization"
	ScoreAdminPreference   = "admin_preference"

	WellnessDailyBalance = "daily_balance"
	WellnessWeeklySpread = "weekly_distribution"
	WellnessBreaks       = "break_adequacy"
	WellnessConsecutive  = "consecutive_limits"
	WellnessPrepTime     = "prep_time"
)

// Weights combines the soft sub-scores into the scalar quality score.
type Weights struct {
	TeacherPreference float64 `json:"teacherPreference"`
	Gaps              float64 `json:"gaps"`
	WorkloadBalance   float64 `json:"workloadBalance"`
	Movement          float64 `json:"movement"`
	Utilization       float64 `json:"utilization"`
	AdminPreference   float64 `json:"adminPreference"`

	// RenormalizeMissing excludes undefined sub-scores and rescales the
	// remaining weights instead of counting them as neutral 0.5.
	RenormalizeMissing bool `json:"renormalizeMissing"`
}

// DefaultWeights is the standard 25/20/20/15/10/10 table.
func DefaultWeights() Weights {
	return Weights{
		TeacherPreference: 0.25,
		Gaps:              0.20,
		WorkloadBalance:   0.20,
		Movement:          0.15,
		Utilization:       0.10,
		AdminPreference:   0.10,
	}
}

func (w Weights) table() map[string]float64 {
	return map[string]float64{
		ScoreTeacherPreference: w.TeacherPreference,
		ScoreGaps:              w.Gaps,
		ScoreWorkloadBalance:   w.WorkloadBalance,
		ScoreMovement:          w.Movement,
		ScoreUtilization:       w.Utilization,
		ScoreAdminPreference:   w.AdminPreference,
	}
}

// Validate rejects tables that do not sum to one.
func (w Weights) Validate() error {
	sum := lo.Sum(lo.Values(w.table()))
	if math.Abs(sum-1.0) > 1e-6 {
		return appErrors.Clone(appErrors.ErrInvalidWeights, "soft constraint weights must sum to 1")
	}
	return nil
}

// WellnessWeights combines the teacher wellness sub-scores. Reported
// alongside, never merged into, the main score.
type WellnessWeights struct {
	DailyBalance       float64 `json:"dailyBalance"`
	WeeklyDistribution float64 `json:"weeklyDistribution"`
	BreakAdequacy      float64 `json:"breakAdequacy"`
	ConsecutiveLimits  float64 `json:"consecutiveLimits"`
	PrepTime           float64 `json:"prepTime"`
}

// DefaultWellnessWeights is the standard 30/25/20/15/10 table.
func DefaultWellnessWeights() WellnessWeights {
	return WellnessWeights{
		DailyBalance:       0.30,
		WeeklyDistribution: 0.25,
		BreakAdequacy:      0.20,
		ConsecutiveLimits:  0.15,
		PrepTime:           0.10,
	}
}

func (w WellnessWeights) table() map[string]float64 {
	return map[string]float64{
		WellnessDailyBalance: w.DailyBalance,
		WellnessWeeklySpread: w.WeeklyDistribution,
		WellnessBreaks:       w.BreakAdequacy,
		WellnessConsecutive:  w.ConsecutiveLimits,
		WellnessPrepTime:     w.PrepTime,
	}
}

// Validate rejects tables that do not sum to one.
func (w WellnessWeights) Validate() error {
	sum := lo.Sum(lo.Values(w.table()))
	if math.Abs(sum-1.0) > 1e-6 {
		return appErrors.Clone(appErrors.ErrInvalidWeights, "wellness weights must sum to 1")
	}
	return nil
}

// combine folds defined sub-scores into one scalar. Undefined sub-scores
// (no data to judge, signalled by NaN) are either treated as neutral 0.5
// or excluded with renormalization. The fold runs in sorted key order:
// float addition is not associative, and a map-order sum would return
// ULP-different scores for the same solution across calls.
func combine(table map[string]float64, subs map[string]float64, renormalize bool) float64 {
	names := lo.Keys(table)
	sort.Strings(names)

	total := 0.0
	weightUsed := 0.0
	for _, name := range names {
		weight := table[name]
		value, ok := subs[name]
		if !ok || math.IsNaN(value) {
			if renormalize {
				continue
			}
			value = 0.5
		}
		total += weight * value
		weightUsed += weight
	}
	if weightUsed == 0 {
		return 0.5
	}
	return total / weightUsed
}
