// Package runner executes blocking SDK calls off the caller's path and
// guarantees that every dispatched operation emits exactly one terminal
// payload, under either its success or its failure method.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/metrics"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/payload"
)

// ErrClosed is reported for tasks submitted after Close.
var ErrClosed = errors.New("runner closed")

// Emitter delivers a terminal payload to the caller.
type Emitter interface {
	Emit(method string, body payload.Body)
}

// Work performs one SDK call. A nil body on success is sent as an empty
// success value.
type Work func(ctx context.Context) (payload.Body, error)

// Task is one asynchronous operation.
type Task struct {
	// Operation is the verb the method names derive from, e.g. "GetBalance".
	Operation string
	// Handle routes the payload back to the caller's object.
	Handle string
	// SuccessMethod and FailureMethod default to <Operation>Succeeded and
	// <Operation>Failed.
	SuccessMethod string
	FailureMethod string
	Work          Work
}

func (t Task) successMethod() string {
	if t.SuccessMethod != "" {
		return t.SuccessMethod
	}
	return payload.Succeeded(t.Operation)
}

func (t Task) failureMethod() string {
	if t.FailureMethod != "" {
		return t.FailureMethod
	}
	return payload.Failed(t.Operation)
}

// Config bounds the worker facility.
type Config struct {
	// MaxConcurrent caps simultaneously running SDK calls. 0 means unbounded.
	MaxConcurrent int
	// Timeout is applied to each call's context. 0 means none.
	Timeout time.Duration
	// CallsPerSecond paces SDK calls with a token bucket. 0 disables pacing.
	CallsPerSecond float64
	// Burst is the token bucket size; defaults to 1 when pacing is on.
	Burst int
}

// Runner schedules Tasks on independent goroutines. It never retries and
// offers no cancellation: a dispatched task runs to completion.
//
// Tasks on the same handle are not serialized; two concurrent operations on
// one account may interleave inside the SDK.
type Runner struct {
	emitter Emitter
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a Runner emitting through e. m may be nil.
func New(e Emitter, cfg Config, m *metrics.Metrics) *Runner {
	r := &Runner{
		emitter: e,
		timeout: cfg.Timeout,
		metrics: m,
		logger:  slog.Default().With("component", "runner"),
	}
	if cfg.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if cfg.CallsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}
	return r
}

// Go dispatches t and returns immediately. Waiting for a worker slot happens
// on the task's own goroutine, never on the caller's.
func (r *Runner) Go(t Task) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.Reject(t, ErrClosed)
		return
	}
	r.wg.Add(1)
	r.mu.RUnlock()

	id := ulid.Make()
	r.metrics.TaskStarted(t.Operation)
	r.logger.Debug("task dispatched", "task_id", id.String(), "operation", t.Operation, "handle", t.Handle)

	go r.run(id, t, time.Now())
}

// Reject emits the failure payload for t without scheduling a worker. It is
// used when validation on the dispatch path already determined the outcome.
func (r *Runner) Reject(t Task, err error) {
	r.metrics.TaskRejected(t.Operation)
	r.logger.Warn("task rejected", "operation", t.Operation, "handle", t.Handle, "error", err)
	r.emit(t.failureMethod(), payload.EncodeFailure(err, t.Handle))
}

// Wait blocks until every dispatched task has emitted its payload.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting tasks and waits for in-flight ones.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Runner) run(id ulid.ULID, t Task, start time.Time) {
	defer r.wg.Done()

	body, err := r.execute(t)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Error("task failed",
			"task_id", id.String(),
			"operation", t.Operation,
			"handle", t.Handle,
			"elapsed", elapsed,
			"error", err,
		)
		r.metrics.TaskFinished(t.Operation, metrics.OutcomeFailed, elapsed)
		r.emit(t.failureMethod(), payload.EncodeFailure(err, t.Handle))
		return
	}

	r.logger.Info("task succeeded",
		"task_id", id.String(),
		"operation", t.Operation,
		"handle", t.Handle,
		"elapsed", elapsed,
	)
	r.metrics.TaskFinished(t.Operation, metrics.OutcomeSucceeded, elapsed)
	r.emit(t.successMethod(), body)
}

func (r *Runner) execute(t Task) (body payload.Body, err error) {
	defer func() {
		if p := recover(); p != nil {
			body = nil
			err = fmt.Errorf("%s panicked: %v", t.Operation, p)
		}
	}()

	ctx := context.Background()
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire worker: %w", err)
		}
		defer r.sem.Release(1)
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pace sdk call: %w", err)
		}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	body, err = t.Work(ctx)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = payload.EncodeSuccess("", t.Handle)
	}
	return body, nil
}

// emit shields the worker from a misbehaving sink.
func (r *Runner) emit(method string, body payload.Body) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("emit panicked", "method", method, "panic", p)
		}
	}()
	r.emitter.Emit(method, body)
}
