package transport

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Poller periodically asks the controller for a status report.
type Poller struct {
	cron   *cron.Cron
	worker *Worker
	logger *zap.Logger
	spec   string
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewPoller schedules `?` on the worker using a cron spec such as "@every 1s".
func NewPoller(w *Worker, spec string, logger *zap.Logger) (*Poller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "poller"))

	cl := cronLogger{s: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	p := &Poller{cron: c, worker: w, logger: logger, spec: spec}
	if _, err := c.AddFunc(spec, p.poll); err != nil {
		return nil, fmt.Errorf("failed to schedule status poll %q: %w", spec, err)
	}
	return p, nil
}

func (p *Poller) poll() {
	if err := p.worker.Poll(); err != nil {
		p.logger.Debug("Status poll failed", zap.Error(err))
	}
}

// Start begins polling in the background.
func (p *Poller) Start() {
	p.logger.Info("Status polling started", zap.String("schedule", p.spec))
	p.cron.Start()
}

// Stop halts polling and waits for a running poll to finish.
func (p *Poller) Stop(ctx context.Context) {
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
	}
}
