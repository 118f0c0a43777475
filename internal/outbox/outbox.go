// Package outbox delivers fire-and-forget remote calls in order.
//
// Components enqueue a Job and return immediately; a single worker
// goroutine runs jobs one at a time. A failed job is logged and counted,
// never retried here: components whose state must reach the server
// (completions, quiz passes, time) re-derive and re-enqueue on their own.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/progsync/internal/metrics"
)

// DefaultJobTimeout bounds one job.
const DefaultJobTimeout = 15 * time.Second

// Job is one remote call.
type Job struct {
	// Op names the call for logs and metrics.
	Op string
	// Run performs the call.
	Run func(ctx context.Context) error
	// OnError, if set, is called from the worker when Run fails.
	OnError func(err error)
}

// Options configures an Outbox.
type Options struct {
	JobTimeout time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Outbox is an unbounded FIFO of jobs with a single worker.
//
// Thread-safety: Enqueue, Wait, Len and Close may be called from any
// goroutine.
type Outbox struct {
	mu      sync.Mutex
	jobs    []Job
	running bool
	closed  bool
	signal  chan struct{} // buffered, size 1
	idle    chan struct{} // closed when queue empty and no job running
	done    chan struct{}

	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts an outbox worker.
func New(opts Options) *Outbox {
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	o := &Outbox{
		jobs:    make([]Job, 0, 16),
		signal:  make(chan struct{}, 1),
		idle:    idle,
		done:    make(chan struct{}),
		timeout: timeout,
		log:     log.With("component", "outbox"),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	go o.loop()
	return o
}

// Enqueue adds a job to the back of the queue. It returns false once the
// outbox is closed; the job is dropped in that case.
func (o *Outbox) Enqueue(j Job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.log.Warn("job dropped after close", "op", j.Op)
		o.metrics.RemoteCall(j.Op, metrics.OutcomeDropped)
		return false
	}

	if len(o.jobs) == 0 && !o.running {
		o.idle = make(chan struct{})
	}
	o.jobs = append(o.jobs, j)
	o.metrics.SetOutboxDepth(len(o.jobs))

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of queued jobs, excluding one in progress.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.jobs)
}

// Wait blocks until every job enqueued so far has run, or ctx is done.
func (o *Outbox) Wait(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and drains the queue. If ctx ends first the
// queued jobs are abandoned and ctx.Err() is returned; a job already in
// flight is not cancelled and runs until it ends or hits the job timeout.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return nil
	}
	o.closed = true
	close(o.signal)
	o.mu.Unlock()

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		o.abandon()
		return ctx.Err()
	}
}

// abandon drops every queued job.
func (o *Outbox) abandon() {
	o.mu.Lock()
	dropped := o.jobs
	o.jobs = nil
	o.metrics.SetOutboxDepth(0)
	if !o.running {
		select {
		case <-o.idle:
		default:
			close(o.idle)
		}
	}
	o.mu.Unlock()

	for _, j := range dropped {
		o.log.Warn("job abandoned at close", "op", j.Op)
		o.metrics.RemoteCall(j.Op, metrics.OutcomeDropped)
	}
}

func (o *Outbox) loop() {
	defer close(o.done)
	defer o.cancel()

	for {
		j, ok := o.next()
		if ok {
			o.run(j)
			o.finish()
			continue
		}

		o.mu.Lock()
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-o.signal:
		case <-o.ctx.Done():
			return
		}
	}
}

// next pops the front job and marks the worker busy.
func (o *Outbox) next() (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.jobs) == 0 || o.ctx.Err() != nil {
		return Job{}, false
	}
	j := o.jobs[0]
	o.jobs[0] = Job{}
	if len(o.jobs) == 1 {
		o.jobs = o.jobs[:0]
	} else {
		o.jobs = o.jobs[1:]
	}
	o.running = true
	o.metrics.SetOutboxDepth(len(o.jobs))
	return j, true
}

func (o *Outbox) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	if len(o.jobs) == 0 {
		select {
		case <-o.idle:
		default:
			close(o.idle)
		}
	}
}

func (o *Outbox) run(j Job) {
	ctx, cancel := context.WithTimeout(o.ctx, o.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError{value: r}
			}
		}()
		return j.Run(ctx)
	}()
	if err == nil {
		return
	}
	o.log.Warn("remote call failed", "op", j.Op, "error", err)
	if j.OnError != nil {
		j.OnError(err)
	}
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("job panicked: %v", p.value)
}
