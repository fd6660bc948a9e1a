// Package sweeper runs periodic cleanup tasks: expired sessions in Redis
// and old rows of the login attempt log.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one cleanup step. It returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Sweeper runs every task once at Start and then on each tick.
type Sweeper struct {
	interval time.Duration
	timeout  time.Duration
	tasks    []Task
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Sweeper. Each run of a task is bounded by timeout.
func New(interval, timeout time.Duration, logger *zap.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{interval: interval, timeout: timeout, tasks: tasks, logger: logger}
}

// Start launches the loop. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval), zap.Int("tasks", len(s.tasks)))
}

// RunOnce runs every task sequentially. A failing task does not stop the
// others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		n, err := task.Run(tctx)
		cancel()
		if err != nil {
			s.logger.Warn("sweep failed", zap.String("task", task.Name), zap.Error(err))
			continue
		}
		if n > 0 {
			s.logger.Info("sweep removed items", zap.String("task", task.Name), zap.Int64("removed", n))
		}
	}
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
