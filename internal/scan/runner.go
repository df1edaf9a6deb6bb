package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/professor93/grblctl/internal/gcode"
	"github.com/professor93/grblctl/internal/metrics"
	"github.com/professor93/grblctl/pkg/constants"
)

var (
	ErrBusy       = errors.New("a scan is already running")
	ErrNotRunning = errors.New("no scan is running")
)

// Executor sends one line to the controller and waits for its acknowledgement.
type Executor interface {
	Exec(ctx context.Context, line string) ([]string, error)
}

// State of a scan job
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Job is a snapshot of a scan's progress.
type Job struct {
	ID         string       `json:"id,omitempty"`
	State      State        `json:"state"`
	Plan       Plan         `json:"plan"`
	Total      int          `json:"total"`
	Visited    int          `json:"visited"`
	Position   *gcode.Point `json:"position,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	Logger       *zap.Logger
	Acceleration float64 // mm/sec^2, used to estimate how long each move takes
	HomeFeed     float64 // mm/min
	TravelFeed   float64 // mm/min

	// Sleep waits out a move; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner executes one scan at a time.
type Runner struct {
	exec   Executor
	logger *zap.Logger
	cfg    RunnerConfig

	mu     sync.RWMutex
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner that drives exec.
func NewRunner(exec Executor, cfg *RunnerConfig) *Runner {
	c := RunnerConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.HomeFeed <= 0 {
		c.HomeFeed = constants.ScanHomeFeed
	}
	if c.TravelFeed <= 0 {
		c.TravelFeed = constants.ScanTravelFeed
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}

	return &Runner{
		exec:   exec,
		logger: c.Logger.With(zap.String("component", "scan")),
		cfg:    c,
		job:    Job{State: StateIdle},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches a scan in the background. The job outlives ctx's
// cancellation; use Stop to end it early.
func (r *Runner) Start(ctx context.Context, plan Plan) (Job, error) {
	plan, err := plan.Normalize()
	if err != nil {
		return Job{}, err
	}
	points, err := plan.Points()
	if err != nil {
		return Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.job.State == StateRunning {
		return r.job, ErrBusy
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now()
	r.job = Job{
		ID:        uuid.New().String(),
		State:     StateRunning,
		Plan:      plan,
		Total:     len(points),
		StartedAt: &now,
	}
	r.cancel = cancel
	r.done = make(chan struct{})

	r.logger.Info("Scan started",
		zap.String("job_id", r.job.ID),
		zap.Float64("x_range", plan.XRange),
		zap.Float64("y_range", plan.YRange),
		zap.Int("points", len(points)))

	go r.run(jobCtx, points, r.done)
	return r.job, nil
}

func (r *Runner) run(ctx context.Context, points []gcode.Point, done chan struct{}) {
	defer close(done)
	defer r.cancelJob()

	err := r.visit(ctx, points)

	r.mu.Lock()
	now := time.Now()
	r.job.FinishedAt = &now
	switch {
	case err == nil:
		r.job.State = StateCompleted
	case errors.Is(err, context.Canceled):
		r.job.State = StateStopped
	default:
		r.job.State = StateFailed
		r.job.Error = err.Error()
	}
	job := r.job
	r.mu.Unlock()

	metrics.ScanJobs.WithLabelValues(string(job.State)).Inc()
	r.logger.Info("Scan finished",
		zap.String("job_id", job.ID),
		zap.String("state", string(job.State)),
		zap.Int("visited", job.Visited),
		zap.Int("total", job.Total))
}

func (r *Runner) cancelJob() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) visit(ctx context.Context, points []gcode.Point) error {
	// The starting position is unknown; treat it as the origin.
	origin := gcode.Point{}
	if err := r.move(ctx, origin, origin, r.cfg.HomeFeed); err != nil {
		return err
	}

	prev := origin
	for _, p := range points {
		if err := r.move(ctx, prev, p, r.cfg.TravelFeed); err != nil {
			return err
		}
		prev = p

		metrics.ScanPointsTotal.Inc()
		r.mu.Lock()
		r.job.Visited++
		pos := p
		r.job.Position = &pos
		r.mu.Unlock()
	}

	return r.move(ctx, prev, origin, r.cfg.HomeFeed)
}

func (r *Runner) move(ctx context.Context, from, to gcode.Point, feed float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	move := gcode.LinearMove(to.X, to.Y, feed)
	if err := move.Validate(); err != nil {
		return fmt.Errorf("failed to move to (%g, %g): %w", to.X, to.Y, err)
	}
	if _, err := r.exec.Exec(ctx, move.String()); err != nil {
		return fmt.Errorf("failed to move to (%g, %g): %w", to.X, to.Y, err)
	}

	// ok only means the move was queued; wait for the axes to get there.
	return r.cfg.Sleep(ctx, gcode.MoveDuration(from, to, feed, r.cfg.Acceleration))
}

// Stop cancels the running scan and waits for it to wind down.
func (r *Runner) Stop(ctx context.Context) (Job, error) {
	r.mu.RLock()
	running := r.job.State == StateRunning
	cancel, done := r.cancel, r.done
	r.mu.RUnlock()

	if !running {
		return r.Status(), ErrNotRunning
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return r.Status(), ctx.Err()
	}
	return r.Status(), nil
}

// Status returns a snapshot of the current or last job.
func (r *Runner) Status() Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.job
}

// Wait blocks until the current job, if any, finishes.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any running job.
func (r *Runner) Close(ctx context.Context) error {
	if _, err := r.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}
