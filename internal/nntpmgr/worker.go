package nntpmgr

import (
	"context"
	"fmt"

	"github.com/caronc/go-newsreap/internal/logger"
	"github.com/caronc/go-newsreap/internal/nntpconn"
)

// tracker is the mutex-guarded bookkeeping of which workers are busy,
// consulted under lock by Put's lazy-spawn decision.
type tracker struct {
	mu        chan struct{} // binary semaphore used as a plain mutex
	total     int
	available int
}

func newTracker() *tracker {
	t := &tracker{mu: make(chan struct{}, 1)}
	t.mu <- struct{}{}
	return t
}

func (t *tracker) lock()   { <-t.mu }
func (t *tracker) unlock() { t.mu <- struct{}{} }

type worker struct {
	id      int
	conn    *nntpconn.Connection
	queue   <-chan *Request
	tracker *tracker
	exit    chan struct{}
	log     *logger.Logger
}

func newWorker(id int, cfg nntpconn.ServerConfig, queue <-chan *Request, tr *tracker, log *logger.Logger) (*worker, error) {
	conn := nntpconn.New(cfg)
	if err := conn.Connect(context.Background()); err != nil {
		return nil, fmt.Errorf("nntpmgr: worker %d: %w", id, err)
	}
	return &worker{id: id, conn: conn, queue: queue, tracker: tr, exit: make(chan struct{}), log: log}, nil
}

// run drains the queue until a sentinel (nil Request) or exit signal is
// received, marking itself busy/available in the shared tracker around each
// Task execution.
func (w *worker) run() {
	for {
		select {
		case <-w.exit:
			return
		case req, ok := <-w.queue:
			if !ok || req == nil {
				return
			}

			w.tracker.lock()
			w.tracker.available--
			w.tracker.unlock()

			if !req.isCancelled() {
				result, err := req.task(context.Background(), w.conn)
				if err != nil && w.log != nil {
					w.log.Error("request %s on worker %d failed: %v", req.ID(), w.id, err)
				}
				req.complete(result, err)
			} else {
				req.complete(nil, nil)
			}

			w.tracker.lock()
			w.tracker.available++
			w.tracker.unlock()
		}
	}
}

func (w *worker) close() {
	close(w.exit)
	w.conn.Close()
}
