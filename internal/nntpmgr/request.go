// Package nntpmgr implements C5: a bounded worker pool of nntpconn.Connections
// driven by a shared FIFO request queue, with lazy worker spawning and
// blocking/non-blocking submission.
package nntpmgr

import (
	"context"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/caronc/go-newsreap/internal/nntpconn"
)

// Task is the unit of work a Worker executes against its owned Connection.
type Task func(ctx context.Context, conn *nntpconn.Connection) (interface{}, error)

// Request wraps one Task with a completion event. Cancel before a Worker
// picks it up skips execution; Cancel mid-execution does not interrupt the
// in-flight NNTP command, but the result is discarded.
type Request struct {
	mu        sync.Mutex
	id        string
	task      Task
	done      chan struct{}
	result    interface{}
	err       error
	cancelled bool
	finished  bool
}

func NewRequest(task Task) *Request {
	return &Request{id: ksuid.New().String(), task: task, done: make(chan struct{})}
}

// ID is a k-sortable correlation ID for this Request, distinct from any
// NNTP Message-ID, used only to tie a worker's log lines for one Task back
// to the call that submitted it.
func (r *Request) ID() string { return r.id }

// Cancel marks the request cancelled. A worker that has not yet started it
// will skip execution entirely.
func (r *Request) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		r.cancelled = true
	}
}

func (r *Request) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Request) complete(result interface{}, err error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	if r.cancelled {
		result, err = nil, nil // cancelled mid-execution: the result is discarded
	}
	r.result = result
	r.err = err
	r.finished = true
	r.mu.Unlock()
	close(r.done)
}

// Wait blocks until the request completes (or was skipped for cancellation)
// and returns its result.
func (r *Request) Wait() (interface{}, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Done returns the completion channel for non-blocking callers that want to
// select on it alongside other events.
func (r *Request) Done() <-chan struct{} { return r.done }
