package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-lifecycle/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDispatcherClosed is returned for tasks dispatched after Shutdown
var ErrDispatcherClosed = errors.New("dispatcher closed")

// runningTaskKey marks contexts of tasks executing on a dispatcher. Tasks
// they dispatch are still accepted while the dispatcher shuts down.
type runningTaskKey struct{}

// Task is one independently executed side effect of a status change
type Task struct {
	ID      string
	Name    string
	OrderID int64
	// MaxAttempts overrides the dispatcher default when positive. Tasks
	// that are not safe to repeat set it to 1.
	MaxAttempts int
	Run         func(ctx context.Context) error
}

// DispatcherOptions configures retry and timeout behaviour
type DispatcherOptions struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	// TaskTimeout bounds a single attempt; zero disables the bound.
	TaskTimeout time.Duration
	Logger      *zap.Logger
}

// Dispatcher runs side-effect tasks in the background. Each task gets its
// own goroutine so a slow or failing task never delays another.
type Dispatcher struct {
	maxAttempts  int
	retryBackoff time.Duration
	taskTimeout  time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a new side-effect dispatcher
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Dispatcher{
		maxAttempts:  maxAttempts,
		retryBackoff: opts.RetryBackoff,
		taskTimeout:  opts.TaskTimeout,
		logger:       logger,
	}
}

// Dispatch starts task without waiting for it. The task keeps the values
// of ctx (trace span, request ids) but not its cancellation. After Shutdown
// only tasks dispatched from a running task of this dispatcher are accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %q has no run function", task.Name)
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	d.mu.Lock()
	if d.closed && ctx.Value(runningTaskKey{}) != d {
		d.mu.Unlock()
		util.SideEffectTasksTotal.WithLabelValues(task.Name, "rejected").Inc()
		d.logger.Error("Side-effect task rejected, dispatcher closed",
			zap.String("task", task.Name),
			zap.Int64("order_id", task.OrderID))
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.execute(detached, task)
	}()
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, task Task) {
	ctx = context.WithValue(ctx, runningTaskKey{}, d)
	ctx, span := util.StartSpan(ctx, "Dispatcher."+task.Name)
	defer span.End()

	util.SideEffectTasksInFlight.Inc()
	defer util.SideEffectTasksInFlight.Dec()

	start := time.Now()
	defer func() {
		util.SideEffectTaskLatency.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())
	}()

	attempts := d.maxAttempts
	if task.MaxAttempts > 0 {
		attempts = task.MaxAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = d.attempt(ctx, task)
		if err == nil {
			util.SideEffectTasksTotal.WithLabelValues(task.Name, "success").Inc()
			return
		}

		d.logger.Warn("Side-effect task attempt failed",
			zap.String("task", task.Name),
			zap.String("task_id", task.ID),
			zap.Int64("order_id", task.OrderID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if attempt < attempts && d.retryBackoff > 0 {
			time.Sleep(time.Duration(attempt) * d.retryBackoff)
		}
	}

	util.RecordError(span, err)
	util.SideEffectTasksTotal.WithLabelValues(task.Name, "failed").Inc()
	d.logger.Error("Side-effect task failed",
		zap.String("task", task.Name),
		zap.String("task_id", task.ID),
		zap.Int64("order_id", task.OrderID),
		zap.Error(err))
}

func (d *Dispatcher) attempt(ctx context.Context, task Task) (err error) {
	if d.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return task.Run(ctx)
}

// Wait blocks until every dispatched task has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting new tasks and waits for in-flight ones, and the
// tasks they fan out, or for ctx
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
