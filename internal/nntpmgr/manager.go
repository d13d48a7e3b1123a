package nntpmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caronc/go-newsreap/internal/codec"
	"github.com/caronc/go-newsreap/internal/content"
	"github.com/caronc/go-newsreap/internal/logger"
	"github.com/caronc/go-newsreap/internal/nntpconn"
)

// Manager maintains a bounded pool of Connections and an equally bounded
// set of Workers, lazily spawned up to threads as load demands.
type Manager struct {
	mu      sync.Mutex
	cfg     nntpconn.ServerConfig
	threads int
	queue   chan *Request
	tracker *tracker
	workers []*worker
	closed  bool
	log     *logger.Logger
}

// SetLogger attaches a Logger used to report worker-spawn failures; a
// Manager with no Logger attached stays silent and relies on its errors'
// return paths.
func (m *Manager) SetLogger(l *logger.Logger) { m.log = l }

func NewManager(cfg nntpconn.ServerConfig, threads int) *Manager {
	if threads <= 0 {
		threads = 1
	}
	return &Manager{
		cfg:     cfg,
		threads: threads,
		queue:   make(chan *Request, threads*4),
		tracker: newTracker(),
	}
}

// growTo ensures at least n workers exist, capped at threads, spawning new
// Connections synchronously (each performs its own handshake before joining
// the pool).
func (m *Manager) growTo(n int) error {
	if n > m.threads {
		n = m.threads
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.workers) < n {
		id := len(m.workers)
		w, err := newWorker(id, m.cfg, m.queue, m.tracker, m.log)
		if err != nil {
			if m.log != nil {
				m.log.Error("spawn worker %d: %v", id, err)
			}
			return err
		}

		m.tracker.lock()
		m.tracker.total++
		m.tracker.available++
		m.tracker.unlock()

		m.workers = append(m.workers, w)
		go w.run()
	}
	return nil
}

// maybeSpawn implements the lazy-spawn policy: under the tracker lock, if no
// worker is available and the pool has not reached threads, spawn one more
// before the request is enqueued.
func (m *Manager) maybeSpawn() {
	m.tracker.lock()
	needSpawn := m.tracker.available == 0 && m.tracker.total < m.threads
	m.tracker.unlock()

	if needSpawn {
		m.growTo(len(m.workers) + 1)
	}
}

// Put enqueues req, spawning a worker first if the pool is saturated and
// below capacity. blocking callers wait for the result; non-blocking
// callers get the Request back immediately to poll or Wait on later.
func (m *Manager) Put(req *Request, blocking bool) (interface{}, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("nntpmgr: manager closed")
	}
	m.mu.Unlock()

	if len(m.workers) == 0 {
		if err := m.growTo(1); err != nil {
			return nil, err
		}
	}
	m.maybeSpawn()

	m.queue <- req

	if blocking {
		return req.Wait()
	}
	return req, nil
}

// Close drains the queue, signals every worker to exit via a sentinel,
// joins them, and closes their connections.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	workers := m.workers
	m.mu.Unlock()

	for range workers {
		m.queue <- nil // sentinel
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.close()
		}(w)
	}
	wg.Wait()
}

// TotalCapacity returns the configured worker ceiling.
func (m *Manager) TotalCapacity() int { return m.threads }

// Stats is a point-in-time snapshot of the worker pool for introspection.
type Stats struct {
	ServerID  string
	Total     int
	Available int
	Capacity  int
	QueueLen  int
}

// Snapshot reports the current worker counts without blocking on the queue.
func (m *Manager) Snapshot() Stats {
	m.tracker.lock()
	total, available := m.tracker.total, m.tracker.available
	m.tracker.unlock()

	return Stats{
		ServerID:  m.cfg.ID,
		Total:     total,
		Available: available,
		Capacity:  m.threads,
		QueueLen:  len(m.queue),
	}
}

type groupResult struct {
	count, low, high int64
	name             string
}

func (m *Manager) Group(name string) (count, low, high int64, group string, err error) {
	req := NewRequest(func(_ context.Context, c *nntpconn.Connection) (interface{}, error) {
		count, low, high, group, err := c.Group(name)
		return groupResult{count, low, high, group}, err
	})
	res, err := m.Put(req, true)
	if err != nil {
		return 0, 0, 0, name, err
	}
	gr := res.(groupResult)
	return gr.count, gr.low, gr.high, gr.name, nil
}

func (m *Manager) Groups(filter string, useRegexp bool, lazy bool) ([]*codec.GroupRecord, error) {
	req := NewRequest(func(_ context.Context, c *nntpconn.Connection) (interface{}, error) {
		return c.Groups(filter, useRegexp, lazy)
	})
	res, err := m.Put(req, true)
	if err != nil {
		return nil, err
	}
	return res.([]*codec.GroupRecord), nil
}

func (m *Manager) Stat(id, group string, full bool) (*nntpconn.HeaderResult, error) {
	req := NewRequest(func(_ context.Context, c *nntpconn.Connection) (interface{}, error) {
		return c.Stat(id, full, group)
	})
	res, err := m.Put(req, true)
	if err != nil {
		return nil, err
	}
	return res.(*nntpconn.HeaderResult), nil
}

func (m *Manager) Xover(group string, start, end int64, sort codec.SortPolicy) ([]*codec.OverviewRecord, error) {
	req := NewRequest(func(_ context.Context, c *nntpconn.Connection) (interface{}, error) {
		return c.Xover(group, start, end, sort)
	})
	res, err := m.Put(req, true)
	if err != nil {
		return nil, err
	}
	return res.([]*codec.OverviewRecord), nil
}

func (m *Manager) SeekByDate(ref time.Time, group string) (int64, error) {
	req := NewRequest(func(ctx context.Context, c *nntpconn.Connection) (interface{}, error) {
		return c.SeekByDate(ctx, ref, group)
	})
	res, err := m.Put(req, true)
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// Get fetches one Message-ID's decoded Contents.
func (m *Manager) Get(id, workDir, group string) ([]*content.Content, error) {
	req := NewRequest(func(_ context.Context, c *nntpconn.Connection) (interface{}, error) {
		return c.Get(id, workDir, group)
	})
	res, err := m.Put(req, true)
	if err != nil {
		return nil, err
	}
	return res.([]*content.Content), nil
}

// Post submits one article's header/body lines.
func (m *Manager) Post(headerLines, bodyLines []string) error {
	req := NewRequest(func(_ context.Context, c *nntpconn.Connection) (interface{}, error) {
		return nil, c.Post(headerLines, bodyLines)
	})
	_, err := m.Put(req, true)
	return err
}

// ArticleRef is one item in a batch fetch: a Message-ID plus the article's
// own index, used so batch callers can load each response back into its
// source Article by asserting ArticleNo equality.
type ArticleRef struct {
	ArticleNo int
	MessageID string
	Groups    []string
}

// ArticleResult pairs a fetched ArticleRef with its decoded Contents.
type ArticleResult struct {
	ArticleNo int
	Contents  []*content.Content
	Err       error
}

// GetBatch grows the pool up to min(len(refs), threads) Workers, then
// enqueues one Request per article, returning results in input order. This
// backs the NZB-level get() described in the spec's Manager section.
func (m *Manager) GetBatch(ctx context.Context, refs []ArticleRef, workDir string) ([]ArticleResult, error) {
	want := len(refs)
	if want > m.threads {
		want = m.threads
	}
	if err := m.growTo(want); err != nil {
		return nil, err
	}

	results := make([]ArticleResult, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			group := ""
			if len(ref.Groups) > 0 {
				group = ref.Groups[0]
			}
			req := NewRequest(func(_ context.Context, c *nntpconn.Connection) (interface{}, error) {
				return c.Get(ref.MessageID, workDir, group)
			})
			res, err := m.Put(req, true)
			results[i] = ArticleResult{ArticleNo: ref.ArticleNo, Err: err}
			if err == nil {
				results[i].Contents = res.([]*content.Content)
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
