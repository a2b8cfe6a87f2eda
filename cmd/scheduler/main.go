package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/pipeline"
	"github.com/noah-isme/sma-timetable-engine/internal/session"
	"github.com/noah-isme/sma-timetable-engine/internal/solver"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	"github.com/noah-isme/sma-timetable-engine/pkg/export"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
	"github.com/noah-isme/sma-timetable-engine/pkg/metrics"
)

func main() {
	var (
		problemPath = flag.String("problem", "", "path to the problem JSON file")
		seed        = flag.Int64("seed", 0, "random seed, 0 picks one from the clock")
		budget      = flag.Duration("budget", 0, "overall time budget, 0 means unbounded")
		csvPath     = flag.String("csv", "", "write the resulting timetable as CSV to this path")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address while running")
	)
	flag.Parse()

	if *problemPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	problem, err := loadProblem(*problemPath)
	if err != nil {
		logr.Sugar().Fatalw("failed to load problem", "path", *problemPath, "error", err)
	}

	m := metrics.New()
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logr.Sugar().Warnw("metrics server stopped", "error", err)
			}
		}()
	}

	engine, err := constraint.NewEngine(problem, constraint.Weights{}, constraint.WellnessWeights{}, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to build constraint engine", "error", err)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	runCtx := solver.NewContext(*seed, *budget, logr)

	orch := pipeline.New(problem, engine, cfg.Engine, logr, m)
	orch.OnProgress(func(stage pipeline.Stage, percent float64) {
		fmt.Fprintf(os.Stderr, "[%5.1f%%] %s\n", percent, stage)
	})

	result, err := orch.Run(runCtx)
	if err != nil {
		logr.Sugar().Errorw("generation failed", "stage", result.Stage, "error", err)
		for _, hint := range session.Suggestions(result.Report) {
			fmt.Fprintf(os.Stderr, "  suggestion: %s\n", hint)
		}
		os.Exit(1)
	}

	printGrid(problem, result.Solution)
	fmt.Printf("\nassignments: %d  hard violations: %d  soft score: %.1f  wellness: %.1f  elapsed: %s  seed: %d\n",
		result.Solution.Len(),
		result.Evaluation.HardCount(),
		result.Evaluation.SoftScore,
		result.Evaluation.WellnessScore,
		result.Elapsed.Round(time.Millisecond),
		*seed)

	if *csvPath != "" {
		if err := export.TimetableCSV(*csvPath, problem, result.Solution); err != nil {
			logr.Sugar().Fatalw("failed to write csv", "path", *csvPath, "error", err)
		}
		logr.Sugar().Infow("timetable exported", "path", *csvPath)
	}
}

// loadProblem reads a JSON problem file. Decoding goes through
// mapstructure keyed on the json tags so unknown fields surface as errors
// instead of being dropped silently.
func loadProblem(path string) (*timetable.Problem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse problem file: %w", err)
	}

	var p timetable.Problem
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &p,
		TagName:     "json",
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode problem file: %w", err)
	}
	return timetable.NewProblem(p)
}

// printGrid renders one week per class, days across, periods down.
func printGrid(p *timetable.Problem, s *timetable.Solution) {
	classIDs := s.ClassIDs()
	sort.Strings(classIDs)
	for _, classID := range classIDs {
		fmt.Printf("\n== class %s ==\n", classID)
		fmt.Printf("%-8s", "")
		for day := 0; day < p.DaysPerWeek; day++ {
			fmt.Printf("%-22s", fmt.Sprintf("day %d", day))
		}
		fmt.Println()
		for period := 1; period <= p.PeriodsPerDay; period++ {
			fmt.Printf("%-8s", fmt.Sprintf("p%d", period))
			for day := 0; day < p.DaysPerWeek; day++ {
				cell := "-"
				if a, ok := s.At(classID, timetable.TimeSlot{Day: day, Period: period}); ok {
					cell = fmt.Sprintf("%s/%s/%s", a.SubjectID, a.TeacherID, a.RoomID)
				}
				fmt.Printf("%-22s", cell)
			}
			fmt.Println()
		}
	}
}
