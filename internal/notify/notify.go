// Package notify delivers login mail asynchronously so a slow or failing
// mail server never changes the outcome of an authentication call.
//
// Jobs are queued on a bounded channel and delivered by a single worker.
// Each delivery is retried with exponential backoff and a per-attempt
// timeout. Close stops intake and drains what is already queued.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Kind identifies the mail a Job produces.
type Kind uint8

const (
	// KindMFACode sends the one-time code after a correct password.
	KindMFACode Kind = iota + 1
	// KindLoginNotification reports a completed login.
	KindLoginNotification
)

func (k Kind) String() string {
	switch k {
	case KindMFACode:
		return "mfa_code"
	case KindLoginNotification:
		return "login_notification"
	default:
		return "unknown"
	}
}

// Job is one queued mail.
type Job struct {
	Kind   Kind
	Email  string
	Code   string
	Source string
}

// Mailer sends the two kinds of login mail.
type Mailer interface {
	SendMFACode(ctx context.Context, email, code string) error
	SendLoginNotification(ctx context.Context, email, source string) error
}

// Config controls buffering and retry behaviour.
type Config struct {
	BufferSize     int
	DropIfFull     bool
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
}

// Dispatcher queues jobs for a single delivery worker.
type Dispatcher struct {
	cfg    Config
	mailer Mailer
	logger *zap.Logger

	ch        chan Job
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
	mu        sync.RWMutex

	dropped atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher starts the delivery worker.
func NewDispatcher(cfg Config, mailer Mailer, logger *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		mailer: mailer,
		logger: logger,
		ch:     make(chan Job, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.ch:
			d.deliver(job)
		case <-d.done:
			for {
				select {
				case job := <-d.ch:
					d.deliver(job)
				default:
					return
				}
			}
		}
	}
}

// Enqueue queues job and reports whether it was accepted. With DropIfFull
// a full queue drops the job immediately; otherwise Enqueue waits for room
// until ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) bool {
	if d == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The read lock keeps Close from closing done between the closed check
	// and the send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		d.dropped.Add(1)
		return false
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- job:
			return true
		default:
			d.dropped.Add(1)
			d.logger.Warn("notification queue full, dropping job", zap.Stringer("kind", job.Kind))
			return false
		}
	}

	select {
	case d.ch <- job:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	}
}

func (d *Dispatcher) deliver(job Job) {
	if d.mailer == nil {
		d.failed.Add(1)
		return
	}

	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), retry.NewExponential(d.cfg.BaseBackoff))
	attempt := 0
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		if err := d.send(actx, job); err != nil {
			d.logger.Debug("notification attempt failed",
				zap.Stringer("kind", job.Kind),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification delivery failed",
			zap.Stringer("kind", job.Kind),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return
	}
	d.sent.Add(1)
}

func (d *Dispatcher) send(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindMFACode:
		return d.mailer.SendMFACode(ctx, job.Email, job.Code)
	case KindLoginNotification:
		return d.mailer.SendLoginNotification(ctx, job.Email, job.Source)
	default:
		return errors.New("notify: unknown job kind")
	}
}

// Close stops accepting jobs and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

// Dropped counts jobs that were never queued.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Sent counts delivered jobs.
func (d *Dispatcher) Sent() uint64 {
	if d == nil {
		return 0
	}
	return d.sent.Load()
}

// Failed counts jobs that exhausted their attempts.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
