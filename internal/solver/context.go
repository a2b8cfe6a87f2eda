package solver

import (
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// Context carries everything one generation request's stages share: a
// single seeded random source, a cooperative cancellation flag and a time
// budget. Stages never own global state, so concurrent generation
// requests cannot interfere.
type Context struct {
	rng      *rand.Rand
	seed     int64
	deadline time.Time
	cancel   *atomic.Bool
	logger   *zap.Logger
}

// NewContext seeds a fresh context. A zero budget means no deadline.
func NewContext(seed int64, budget time.Duration, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}
	return &Context{
		rng:      rand.New(rand.NewSource(seed)),
		seed:     seed,
		deadline: deadline,
		cancel:   &atomic.Bool{},
		logger:   logger,
	}
}

// Child derives a stage context with its own budget. The random source and
// cancellation flag are shared so a single Cancel stops the whole run and
// determinism is preserved across stages.
func (c *Context) Child(budget time.Duration) *Context {
	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}
	return &Context{
		rng:      c.rng,
		seed:     c.seed,
		deadline: deadline,
		cancel:   c.cancel,
		logger:   c.logger,
	}
}

// Rand is the run's only random source. All shuffling is hoisted through
// it, which keeps runs reproducible under a fixed seed.
func (c *Context) Rand() *rand.Rand { return c.rng }

// Seed returns the seed the context was created with.
func (c *Context) Seed() int64 { return c.seed }

// Logger returns the run logger.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Cancel requests a cooperative stop. Solvers check Stopped at every
// iteration boundary and return their best-so-far result.
func (c *Context) Cancel() { c.cancel.Store(true) }

// Cancelled reports whether the caller aborted the run.
func (c *Context) Cancelled() bool { return c.cancel.Load() }

// Expired reports whether the stage's time budget ran out.
func (c *Context) Expired() bool {
	return !c.deadline.IsZero() && time.Now().After(c.deadline)
}

// Stopped reports whether the solver should wind down for any reason.
func (c *Context) Stopped() bool { return c.Cancelled() || c.Expired() }

// Err maps the stop reason onto the error taxonomy, nil when running.
func (c *Context) Err() error {
	if c.Cancelled() {
		return appErrors.ErrCancelled
	}
	if c.Expired() {
		return appErrors.ErrSolverTimeout
	}
	return nil
}
