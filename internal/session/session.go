package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/analyzer"
	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/pipeline"
	"github.com/noah-isme/sma-timetable-engine/internal/solver"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/jobs"
	"github.com/noah-isme/sma-timetable-engine/pkg/metrics"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Record is the externally visible state of one generation session.
// Callers poll it while the run progresses in the background.
type Record struct {
	SessionID             string                          `json:"sessionId"`
	Status                Status                          `json:"status"`
	Progress              float64                         `json:"progress"`
	CurrentStage          string                          `json:"currentStage"`
	StartedAt             time.Time                       `json:"startedAt"`
	FinishedAt            time.Time                       `json:"finishedAt,omitempty"`
	GenerationTimeSeconds float64                         `json:"generationTimeSeconds"`
	Solution              *timetable.Solution             `json:"-"`
	EvaluationScore       float64                         `json:"evaluationScore"`
	HardViolations        int                             `json:"hardViolations"`
	Conflicts             []timetable.ConstraintViolation `json:"conflicts,omitempty"`
	Suggestions           []string                        `json:"suggestions,omitempty"`
	Error                 string                          `json:"error,omitempty"`
}

type entry struct {
	record  Record
	ctx     *solver.Context
	expires time.Time
}

// Registry keeps session records with TTL eviction. Finished records stay
// readable until their TTL lapses so late polls still see the outcome.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration

	done chan struct{}
	once sync.Once
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	r := &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go r.janitor()
	return r
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for id, e := range r.entries {
				if now.After(e.expires) {
					delete(r.entries, id)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Close stops the eviction loop.
func (r *Registry) Close() { r.once.Do(func() { close(r.done) }) }

func (r *Registry) put(rec Record, ctx *solver.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[rec.SessionID] = &entry{record: rec, ctx: ctx, expires: time.Now().Add(r.ttl)}
}

// Get returns a session snapshot by id.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || time.Now().After(e.expires) {
		return Record{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("session %s not found", id))
	}
	return e.record, nil
}

// update applies fn under the lock and refreshes the TTL.
func (r *Registry) update(id string, fn func(*Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		fn(&e.record)
		e.expires = time.Now().Add(r.ttl)
	}
}

// Cancel flips the session's cooperative cancellation flag. The running
// stage notices at its next iteration boundary and winds down with its
// best-so-far solution.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("session %s not found", id))
	}
	if e.ctx != nil {
		e.ctx.Cancel()
	}
	return nil
}

// Request carries everything one generation run needs.
type Request struct {
	Problem  *timetable.Problem
	Weights  constraint.Weights
	Wellness constraint.WellnessWeights
	Seed     int64
}

// Service runs generation sessions asynchronously on a worker queue and
// exposes their state through the registry.
type Service struct {
	registry *Registry
	queue    *jobs.Queue
	cfg      config.EngineConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewService(cfg config.EngineConfig, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		registry: NewRegistry(cfg.SessionTTL),
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
	s.queue = jobs.NewQueue("generation", s.handle, jobs.QueueConfig{
		Workers: cfg.Workers,
		Logger:  logger,
	})
	return s
}

// Start launches the queue workers.
func (s *Service) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop drains the queue and the registry janitor.
func (s *Service) Stop() {
	s.queue.Stop()
	s.registry.Close()
}

// Registry exposes session lookup and cancellation.
func (s *Service) Registry() *Registry { return s.registry }

// StartGeneration registers a new session and enqueues its run. It
// returns immediately with the session id to poll.
func (s *Service) StartGeneration(req Request) (string, error) {
	if req.Problem == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "problem is required")
	}
	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}

	id := uuid.NewString()
	runCtx := solver.NewContext(req.Seed, 0, s.logger.With(zap.String("session_id", id)))
	s.registry.put(Record{
		SessionID: id,
		Status:    StatusStarted,
		StartedAt: time.Now().UTC(),
	}, runCtx)

	err := s.queue.Enqueue(jobs.Job{ID: id, Type: "generate", Payload: req})
	if err != nil {
		s.registry.update(id, func(rec *Record) {
			rec.Status = StatusFailed
			rec.Error = err.Error()
		})
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, false, "enqueue generation run")
	}
	return id, nil
}

// handle is the queue handler: it runs the full pipeline and folds the
// outcome into the session record.
func (s *Service) handle(_ context.Context, job jobs.Job) error {
	req, ok := job.Payload.(Request)
	if !ok {
		return appErrors.Clone(appErrors.ErrInternal, "unexpected job payload")
	}

	s.registry.mu.RLock()
	e := s.registry.entries[job.ID]
	s.registry.mu.RUnlock()
	if e == nil {
		// Session evicted before the run started; nothing to report into.
		return nil
	}
	runCtx := e.ctx

	engine, err := constraint.NewEngine(req.Problem, req.Weights, req.Wellness, s.logger)
	if err != nil {
		s.finishWithResult(job.ID, StatusFailed, nil, err)
		return err
	}

	orch := pipeline.New(req.Problem, engine, s.cfg, s.logger, s.metrics)
	orch.OnProgress(func(stage pipeline.Stage, percent float64) {
		s.registry.update(job.ID, func(rec *Record) {
			rec.Status = StatusRunning
			rec.CurrentStage = string(stage)
			rec.Progress = percent
		})
	})

	result, runErr := orch.Run(runCtx)
	switch {
	case runErr != nil && appErrors.Is(runErr, appErrors.ErrCancelled):
		s.finishWithResult(job.ID, StatusCancelled, result, runErr)
	case runErr != nil:
		s.finishWithResult(job.ID, StatusFailed, result, runErr)
	default:
		s.finishWithResult(job.ID, StatusCompleted, result, nil)
	}
	return nil
}

func (s *Service) finishWithResult(id string, status Status, result *pipeline.Result, err error) {
	s.registry.update(id, func(rec *Record) {
		rec.Status = status
		rec.FinishedAt = time.Now().UTC()
		rec.GenerationTimeSeconds = rec.FinishedAt.Sub(rec.StartedAt).Seconds()
		if err != nil {
			rec.Error = err.Error()
		}
		if result == nil {
			return
		}
		rec.CurrentStage = string(result.Stage)
		if status == StatusCompleted {
			rec.Progress = 100
		}
		if result.Solution != nil {
			rec.Solution = result.Solution
			rec.EvaluationScore = result.Evaluation.SoftScore
			rec.HardViolations = result.Evaluation.HardCount()
			rec.Conflicts = result.Evaluation.HardViolations
		}
		rec.Suggestions = Suggestions(result.Report)
	})
	s.metrics.SessionFinished(string(status))
}

// Suggestions turns analyzer bottlenecks into operator-facing remediation
// hints, ordered as reported.
func Suggestions(report analyzer.Report) []string {
	var out []string
	for _, b := range report.Bottlenecks {
		switch b.Kind {
		case "no_qualified_teacher":
			out = append(out, fmt.Sprintf("qualify or hire a teacher for subject %s", b.SubjectID))
		case "teacher_shortage":
			out = append(out, fmt.Sprintf("subject %s needs %d more qualified teacher(s) or fewer required periods", b.SubjectID, b.Deficit))
		case "no_lab":
			out = append(out, "add at least one lab room or drop the lab requirement")
		case "lab_shortage":
			out = append(out, fmt.Sprintf("lab demand exceeds capacity by %d period(s); add a lab or stagger lab subjects", b.Deficit))
		case "grid_overflow":
			out = append(out, fmt.Sprintf("class %s requires more periods than the week holds; reduce its subject quotas", b.ClassID))
		case "room_shortage":
			out = append(out, fmt.Sprintf("peak concurrent demand exceeds room count by %d; add rooms or spread requirements", b.Deficit))
		default:
			out = append(out, b.Message)
		}
	}
	return out
}
