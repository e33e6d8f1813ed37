// Package job implements the job system from spec.md §4.10: a Job with an
// id, a Run method and a typed result, run by a JobRunner that owns a
// worker over bounded input/output queues so slow disk I/O never blocks
// the caller (the MultiPointWorker, per spec.md §5).
package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/bus"
)

// Job is one unit of asynchronous work dispatched by the acquisition
// worker: writing a frame to disk, building a preview, etc.
type Job interface {
	ID() string
	Run(ctx context.Context) (any, error)
}

// Result is posted to the output queue after a Job runs.
type Result struct {
	JobID  string
	Output any
	Err    error
}

// Runner owns one worker goroutine pulling from a bounded input queue and
// a drain goroutine pulling from a bounded output queue (spec.md §4.10).
// Dispatch is non-blocking: a full input queue is a dispatch failure, left
// to the caller to treat as an abort trigger, matching
// spec.md's "the worker treats that as a dispatch failure and requests
// abort" (here "the worker" is MultiPointWorker, the caller of Dispatch).
type Runner struct {
	input  chan Job
	output chan Result

	abortOnFailedJobs bool
	requestAbort      func(reason string)

	bus *bus.Bus

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	failures int
}

// NewRunner builds a stopped Runner with the given queue capacities.
// requestAbort may be nil if the caller doesn't want abort requests raised
// from failed-job draining.
func NewRunner(inputCapacity, outputCapacity int, abortOnFailedJobs bool, requestAbort func(reason string), b *bus.Bus) *Runner {
	return &Runner{
		input:             make(chan Job, inputCapacity),
		output:            make(chan Result, outputCapacity),
		abortOnFailedJobs: abortOnFailedJobs,
		requestAbort:      requestAbort,
		bus:               b,
	}
}

// Start launches the worker and output-drain goroutines. It is a no-op if
// already running.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.runWorker(ctx, stop)
	}()
	go func() {
		defer wg.Done()
		r.drainOutput(stop)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
}

// Stop signals both goroutines to exit and waits for them to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
}

// Dispatch enqueues job without blocking. It returns
// *acqerrors.DispatchFailure if the input queue is full.
func (r *Runner) Dispatch(j Job) error {
	select {
	case r.input <- j:
		return nil
	default:
		return &acqerrors.DispatchFailure{JobType: fmt.Sprintf("%T", j)}
	}
}

// FailureCount returns the number of jobs that have completed with a
// non-nil error so far.
func (r *Runner) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *Runner) runWorker(ctx context.Context, stop chan struct{}) {
	for {
		select {
		case j := <-r.input:
			out, err := j.Run(ctx)
			res := Result{JobID: j.ID(), Output: out, Err: err}
			select {
			case r.output <- res:
			default:
				acqlog.Logf("job: output queue full, dropping result for %s", j.ID())
			}
		case <-stop:
			return
		}
	}
}

// drainOutput drains the output queue, logging each failed job and, when
// abortOnFailedJobs is set, requesting an abort for every failure it
// observes (spec.md §4.10
// "policy flag abort_on_failed_jobs decides whether to request abort on
// any failure").
func (r *Runner) drainOutput(stop chan struct{}) {
	for {
		select {
		case res := <-r.output:
			if res.Err == nil {
				continue
			}
			r.mu.Lock()
			r.failures++
			r.mu.Unlock()
			acqlog.Logf("job: %s failed: %v", res.JobID, res.Err)
			if r.bus != nil {
				r.bus.Publish(bus.ControllerError{Controller: "JobRunner", Operation: res.JobID, Err: res.Err})
			}
			if r.abortOnFailedJobs && r.requestAbort != nil {
				r.requestAbort(fmt.Sprintf("job %s failed: %v", res.JobID, res.Err))
			}
		case <-stop:
			return
		}
	}
}
