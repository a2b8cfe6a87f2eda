package editor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/metrics"
)

// Result is the verdict on one proposed edit. Violations are the hard
// blockers; Warnings are soft and wellness regressions the caller may
// override.
type Result struct {
	Valid        bool                            `json:"valid"`
	CanOverride  bool                            `json:"canOverride"`
	Violations   []timetable.ConstraintViolation `json:"violations,omitempty"`
	Warnings     []timetable.ConstraintViolation `json:"warnings,omitempty"`
	ScoreDelta   float64                         `json:"scoreDelta"`
	Alternatives []Alternative                   `json:"alternatives,omitempty"`
}

// Alternative is a nearby legal placement offered when the requested one
// is blocked.
type Alternative struct {
	Assignment timetable.Assignment `json:"assignment"`
	ScoreDelta float64              `json:"scoreDelta"`
}

// Config bounds the validator's cache and suggestion list.
type Config struct {
	CacheSize    int
	Alternatives int
}

// Validator answers "can I make this edit" against a committed timetable
// fast enough for interactive use. Results are cached by the change's
// canonical key; a commit invalidates only the entries whose touched
// resource-slot keys intersect the committed change.
type Validator struct {
	engine *constraint.Engine
	cfg    Config
	logger *zap.Logger
	m      *metrics.Metrics

	mu         sync.Mutex
	committed  *timetable.Solution
	bound      *constraint.DeltaEvaluator // carries the committed timetable's score totals
	generation uint64                     // bumped by Commit; stale verdicts are never cached
	cache      map[string]Result
	order      []string            // insertion order, for size-capped eviction
	byTouched  map[string][]string // resource-slot key -> cache keys

	hits  atomic.Uint64
	total atomic.Uint64
}

func NewValidator(engine *constraint.Engine, committed *timetable.Solution, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Validator {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	if cfg.Alternatives <= 0 {
		cfg.Alternatives = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if committed == nil {
		committed = timetable.NewSolution()
	}
	return &Validator{
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
		m:         m,
		committed: committed,
		bound:     engine.BindDelta(committed),
		cache:     make(map[string]Result),
		byTouched: make(map[string][]string),
	}
}

// Committed returns a snapshot of the current timetable.
func (v *Validator) Committed() *timetable.Solution {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.committed.Clone()
}

// ValidateChange evaluates one edit without applying it. Repeat probes of
// the same change hit the cache and skip constraint work entirely.
func (v *Validator) ValidateChange(ch timetable.Change) (Result, error) {
	start := time.Now()
	defer func() { v.m.ObserveValidate(time.Since(start)) }()

	if err := ch.Validate(); err != nil {
		return Result{}, err
	}
	key := ch.Key()

	v.mu.Lock()
	cached, ok := v.cache[key]
	v.mu.Unlock()

	total := v.total.Add(1)
	if ok {
		hits := v.hits.Add(1)
		v.m.CacheLookup(true, hits, total)
		return cached, nil
	}
	v.m.CacheLookup(false, v.hits.Load(), total)

	v.mu.Lock()
	bound := v.bound
	generation := v.generation
	v.mu.Unlock()

	res, err := v.evaluate(bound, ch)
	if err != nil {
		return Result{}, err
	}

	// A commit may have landed while we evaluated the old snapshot. The
	// verdict still reflects the timetable it was computed against, but
	// caching it would resurrect an entry the commit just invalidated.
	v.mu.Lock()
	if v.generation == generation {
		v.store(key, ch, res)
	}
	v.mu.Unlock()
	return res, nil
}

// evaluate runs the delta evaluation and classifies the outcome. The
// bound evaluator scopes the work to the change's touched rows, so a
// cache miss never costs a full timetable scan.
func (v *Validator) evaluate(bound *constraint.DeltaEvaluator, ch timetable.Change) (Result, error) {
	delta, err := bound.Evaluate(ch)
	if err != nil {
		return Result{}, err
	}

	res := Result{ScoreDelta: delta.ScoreDelta}
	for _, viol := range delta.Added {
		if viol.Severity == timetable.SeverityHard && !viol.CanOverride {
			res.Violations = append(res.Violations, viol)
		} else {
			res.Warnings = append(res.Warnings, viol)
		}
	}
	res.Valid = delta.Applicable && len(res.Violations) == 0
	res.CanOverride = len(res.Violations) == 0

	if !res.Valid && (ch.Op == timetable.ChangeAdd || ch.Op == timetable.ChangeReplace) {
		res.Alternatives = v.alternatives(bound, ch)
	}
	return res, nil
}

// store caches a result under size cap, indexing it by every touched
// resource-slot key for commit-time invalidation.
func (v *Validator) store(key string, ch timetable.Change, res Result) {
	if _, exists := v.cache[key]; exists {
		v.cache[key] = res
		return
	}
	for len(v.order) >= v.cfg.CacheSize {
		oldest := v.order[0]
		v.order = v.order[1:]
		delete(v.cache, oldest)
	}
	v.cache[key] = res
	v.order = append(v.order, key)
	for _, tk := range ch.TouchedKeys() {
		v.byTouched[tk] = append(v.byTouched[tk], key)
	}
}

// Commit applies a validated edit to the committed timetable. Commits are
// serialized; only cache entries touching the same resource-slot keys are
// dropped, so unrelated cached verdicts survive.
func (v *Validator) Commit(ch timetable.Change, override bool) (Result, error) {
	if err := ch.Validate(); err != nil {
		return Result{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	res, err := v.evaluate(v.bound, ch)
	if err != nil {
		return Result{}, err
	}
	if !res.Valid {
		return res, appErrors.Clone(appErrors.ErrMoveRejected, "change violates a hard constraint")
	}
	if len(res.Warnings) > 0 && !override {
		return res, appErrors.Clone(appErrors.ErrMoveRejected, "change degrades soft constraints; override required")
	}

	next := v.committed.Clone()
	if err := ch.ApplyTo(next); err != nil {
		return res, err
	}
	v.committed = next
	v.bound = v.engine.BindDelta(next)
	v.generation++
	v.invalidate(ch.TouchedKeys())

	v.logger.Debug("change committed",
		zap.String("op", string(ch.Op)),
		zap.Float64("score_delta", res.ScoreDelta),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

// invalidate drops every cached verdict that shares a touched key with
// the committed change. Caller holds the lock.
func (v *Validator) invalidate(touched []string) {
	stale := make(map[string]bool)
	for _, tk := range touched {
		for _, key := range v.byTouched[tk] {
			stale[key] = true
		}
		delete(v.byTouched, tk)
	}
	if len(stale) == 0 {
		return
	}
	for key := range stale {
		delete(v.cache, key)
	}
	kept := v.order[:0]
	for _, key := range v.order {
		if !stale[key] {
			kept = append(kept, key)
		}
	}
	v.order = kept
}

// alternatives probes nearby placements for a blocked edit: adjacent
// periods, other qualified teachers and other candidate rooms. Offers are
// legal by construction and sorted by soft-score gain.
func (v *Validator) alternatives(bound *constraint.DeltaEvaluator, ch timetable.Change) []Alternative {
	problem := v.engine.Problem()
	base := ch.Assignment

	var candidates []timetable.Assignment
	for _, offset := range []int{-1, 1, -2, 2} {
		alt := base
		alt.Slot.Period = base.Slot.Period + offset
		if alt.Slot.Period >= 1 && alt.Slot.Period <= problem.PeriodsPerDay {
			candidates = append(candidates, alt)
		}
	}
	for _, t := range problem.QualifiedTeachers(base.SubjectID) {
		if t.ID == base.TeacherID {
			continue
		}
		alt := base
		alt.TeacherID = t.ID
		candidates = append(candidates, alt)
	}
	if subject, ok := problem.SubjectByID(base.SubjectID); ok {
		for _, r := range problem.CandidateRooms(subject) {
			if r.ID == base.RoomID {
				continue
			}
			alt := base
			alt.RoomID = r.ID
			candidates = append(candidates, alt)
		}
	}

	var offers []Alternative
	for _, alt := range candidates {
		candidate := timetable.Change{Op: ch.Op, Assignment: alt, From: ch.From}
		delta, err := bound.Evaluate(candidate)
		if err != nil || !delta.Applicable || len(delta.AddedHard()) > 0 {
			continue
		}
		offers = append(offers, Alternative{Assignment: alt, ScoreDelta: delta.ScoreDelta})
	}
	sort.SliceStable(offers, func(i, j int) bool { return offers[i].ScoreDelta > offers[j].ScoreDelta })
	if len(offers) > v.cfg.Alternatives {
		offers = offers[:v.cfg.Alternatives]
	}
	return offers
}
