// Package workerpool runs screening and analysis fan-out on a bounded set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrNotRunning = errors.New("pool not running")
	ErrQueueFull  = errors.New("task queue full, task dropped")
)

// Pool executes submitted tasks on a fixed number of workers. Stop drains the queue before
// returning.
type Pool struct {
	name       string
	workers    int
	taskQueue  chan Task
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	dropOnFull bool
	logger     *zap.Logger

	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// Task is one unit of work. Execute receives the context the task was submitted with.
type Task struct {
	ID      string
	Ctx     context.Context
	Execute func(ctx context.Context) error
}

type Result struct {
	TaskID string
	Error  error
}

type Config struct {
	Name       string
	Workers    int
	QueueSize  int
	DropOnFull bool
}

func DefaultConfig() Config {
	return Config{
		Name:      "default",
		Workers:   8,
		QueueSize: 256,
	}
}

// New builds a stopped pool. Non-positive sizes fall back to the defaults.
func New(cfg Config, logger *zap.Logger) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		name:       cfg.Name,
		workers:    cfg.Workers,
		taskQueue:  make(chan Task, cfg.QueueSize),
		dropOnFull: cfg.DropOnFull,
		logger:     logger.With(zap.String("pool", cfg.Name)),
	}
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pool %s already running", p.name)
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.running = true
	return nil
}

// Stop refuses new tasks, lets the workers finish everything already queued and waits for them.
// A stopped pool cannot be restarted.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Submit queues a task. It blocks while the queue is full unless the pool drops on full, and
// gives up when the task's context is done.
func (p *Pool) Submit(task Task) error {
	if task.Ctx == nil {
		task.Ctx = context.Background()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrNotRunning
	}

	if p.dropOnFull {
		select {
		case p.taskQueue <- task:
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-task.Ctx.Done():
		return task.Ctx.Err()
	}
}

// SubmitAsync submits a task and returns a channel that receives its result exactly once.
func (p *Pool) SubmitAsync(task Task) (<-chan Result, error) {
	resultCh := make(chan Result, 1)
	inner := task.Execute

	task.Execute = func(ctx context.Context) error {
		err := inner(ctx)
		resultCh <- Result{TaskID: task.ID, Error: err}
		close(resultCh)
		return err
	}

	if err := p.Submit(task); err != nil {
		return nil, err
	}
	return resultCh, nil
}

func (p *Pool) QueueDepth() int { return len(p.taskQueue) }

func (p *Pool) QueueCapacity() int { return cap(p.taskQueue) }

func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

type Stats struct {
	Name          string `json:"name"`
	Running       bool   `json:"running"`
	Workers       int    `json:"workers"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Completed     int64  `json:"completed"`
	Failed        int64  `json:"failed"`
	Panicked      int64  `json:"panicked"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Name:          p.name,
		Running:       p.IsRunning(),
		Workers:       p.workers,
		QueueDepth:    p.QueueDepth(),
		QueueCapacity: p.QueueCapacity(),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Panicked:      p.panicked.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("task panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
		}
	}()

	if err := task.Execute(task.Ctx); err != nil {
		p.failed.Add(1)
		p.logger.Debug("task failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// Map runs fn over every item on the pool and returns the outputs in input order. Items whose
// fn fails, or that could not be submitted, are reported in errs at the same index.
func Map[In, Out any](ctx context.Context, p *Pool, items []In, fn func(context.Context, In) (Out, error)) ([]Out, []error) {
	out := make([]Out, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		err := p.Submit(Task{
			ID:  fmt.Sprintf("%s-%d", p.name, i),
			Ctx: ctx,
			Execute: func(ctx context.Context) error {
				defer wg.Done()
				if err := ctx.Err(); err != nil {
					errs[i] = err
					return err
				}
				v, err := fn(ctx, item)
				out[i], errs[i] = v, err
				return err
			},
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	return out, errs
}
