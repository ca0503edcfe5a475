package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateStopped   State = "stopped"
)

var (
	ErrTimedOut       = errors.New("task did not complete before the polling deadline")
	ErrStopped        = errors.New("polling stopped")
	ErrAlreadyStarted = errors.New("poller already started")
)

// Querier fetches the current state of a task
type Querier interface {
	Query(ctx context.Context, taskID string) (*models.Task, error)
}

// QuerierFunc adapts a function to Querier
type QuerierFunc func(ctx context.Context, taskID string) (*models.Task, error)

func (f QuerierFunc) Query(ctx context.Context, taskID string) (*models.Task, error) {
	return f(ctx, taskID)
}

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
	// OnUpdate is called whenever a query returns a task that differs from the last one seen
	OnUpdate func(*models.Task)
}

// Poller queries one task until it has images, the deadline passes or it is stopped.
// A Poller runs once.
type Poller struct {
	taskID   string
	querier  Querier
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	onUpdate func(*models.Task)

	mu      sync.Mutex
	state   State
	last    *models.Task
	queries int

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func New(taskID string, q Querier, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Poller{
		taskID:   taskID,
		querier:  q,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("task_id", taskID)),
		onUpdate: opts.OnUpdate,
		state:    StateIdle,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start moves the poller from idle to polling. The first query is issued immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.state = StatePolling
	p.mu.Unlock()

	deadlineAt := p.clock.Now().Add(p.timeout)
	ticker := p.clock.NewTicker(p.interval)
	deadline := p.clock.NewTimer(p.timeout)

	p.logger.Debug("polling started", zap.Duration("interval", p.interval), zap.Duration("timeout", p.timeout))

	go p.loop(ctx, ticker, deadline, deadlineAt)
	return nil
}

// Stop ends polling and cancels an in-flight query. It is safe to call at any time and
// more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	idle := p.state == StateIdle
	if idle {
		p.state = StateStopped
	}
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if idle {
		close(p.done)
	}
}

// Done is closed when the poller reaches a terminal state
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the last task seen, if any
func (p *Poller) Result() *models.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last.Clone()
}

// Queries returns how many queries have been issued
func (p *Poller) Queries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

// Run starts the poller and blocks until it finishes. Cancelling ctx stops it.
func (p *Poller) Run(ctx context.Context) (*models.Task, error) {
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		p.Stop()
		<-p.done
	}

	switch p.State() {
	case StateCompleted:
		return p.Result(), nil
	case StateTimedOut:
		return p.Result(), ErrTimedOut
	default:
		return p.Result(), ErrStopped
	}
}

func (p *Poller) loop(ctx context.Context, ticker clock.Ticker, deadline clock.Timer, deadlineAt time.Time) {
	defer close(p.done)
	defer p.cancel()
	defer ticker.Stop()
	defer deadline.Stop()

	if p.poll(ctx) {
		p.finish(StateCompleted)
		return
	}
	if p.halted(ctx) {
		p.finish(StateStopped)
		return
	}

	for {
		select {
		case <-p.stopCh:
			p.finish(StateStopped)
			return
		case <-ctx.Done():
			p.finish(StateStopped)
			return
		case <-deadline.C():
			p.finish(StateTimedOut)
			return
		case <-ticker.C():
			if !p.clock.Now().Before(deadlineAt) {
				p.finish(StateTimedOut)
				return
			}
			if p.poll(ctx) {
				p.finish(StateCompleted)
				return
			}
			if p.halted(ctx) {
				p.finish(StateStopped)
				return
			}
		}
	}
}

// halted reports whether Stop was called or ctx was cancelled
func (p *Poller) halted(ctx context.Context) bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return ctx.Err() != nil
	}
}

// poll issues one query and reports whether the task now has images. Failures count as no update,
// and a result that arrives after Stop is discarded.
func (p *Poller) poll(ctx context.Context) bool {
	p.mu.Lock()
	p.queries++
	n := p.queries
	p.mu.Unlock()

	task, err := p.querier.Query(ctx, p.taskID)
	if p.halted(ctx) {
		return false
	}
	if err != nil {
		p.logger.Warn("status query failed", zap.Int("query", n), zap.Error(err))
		return false
	}
	if task == nil {
		return false
	}

	p.mu.Lock()
	changed := !sameSnapshot(p.last, task)
	p.last = task.Clone()
	p.mu.Unlock()

	if changed {
		p.logger.Debug("task updated",
			zap.Int("query", n),
			zap.String("status", string(task.Status)),
			zap.Int("images", len(task.Generated)),
		)
		if p.onUpdate != nil {
			p.onUpdate(task.Clone())
		}
	}

	return task.HasImages()
}

func (p *Poller) finish(s State) {
	p.mu.Lock()
	p.state = s
	queries := p.queries
	p.mu.Unlock()

	switch s {
	case StateCompleted:
		p.logger.Info("task completed", zap.Int("queries", queries))
	case StateTimedOut:
		p.logger.Warn("polling timed out", zap.Int("queries", queries), zap.Duration("timeout", p.timeout))
	default:
		p.logger.Debug("polling stopped", zap.Int("queries", queries))
	}
}

func sameSnapshot(a, b *models.Task) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Status != b.Status || len(a.Generated) != len(b.Generated) {
		return false
	}
	for i := range a.Generated {
		if a.Generated[i] != b.Generated[i] {
			return false
		}
	}
	return true
}

// Merged prefers a task from primary when it already carries images and otherwise asks
// fallback. A primary result is still returned when fallback fails.
func Merged(primary, fallback Querier) Querier {
	return QuerierFunc(func(ctx context.Context, taskID string) (*models.Task, error) {
		stored, storedErr := primary.Query(ctx, taskID)
		if storedErr == nil && stored.HasImages() {
			return stored, nil
		}

		polled, err := fallback.Query(ctx, taskID)
		if err != nil {
			if storedErr == nil && stored != nil {
				return stored, nil
			}
			return nil, fmt.Errorf("task %s: %w", taskID, err)
		}
		return polled, nil
	})
}
