// Package taskrunner runs independent tasks with bounded parallelism. Each task
// is retried with a linear backoff; a task that keeps failing yields a failed
// Result instead of stopping the others.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

type Options struct {
	Workers int
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number before each retry.
	RetryDelay time.Duration
	Log        *zap.Logger
}

// Result is the outcome of one task. A non-nil Err marks the task as failed
// after all attempts; Value is then the zero value.
type Result[T any] struct {
	Name     string
	Value    T
	Attempts int
	Err      error
}

func (r Result[T]) Failed() bool { return r.Err != nil }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// ErrPanic wraps a panic raised inside a task.
var ErrPanic = errors.New("task panicked")

// Run executes tasks and returns one Result per task, in task order.
func Run[T any](ctx context.Context, opts Options, tasks []Task[T]) []Result[T] {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result[T], len(tasks))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = runTask(ctx, opts, task, log.With(zap.String("task", task.Name)))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runTask[T any](ctx context.Context, opts Options, task Task[T], log *zap.Logger) Result[T] {
	res := Result[T]{Name: task.Name}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		v, err := safeCall(ctx, task)
		if err == nil {
			res.Value = v
			return res
		}
		var perm permanentError
		if errors.As(err, &perm) || attempt > retries {
			log.Error("task failed", zap.Int("attempts", attempt), zap.Error(err))
			res.Err = err
			return res
		}
		delay := opts.RetryDelay * time.Duration(attempt)
		log.Warn("task failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			res.Err = err
			return res
		}
	}
}

func safeCall[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task.Run(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
