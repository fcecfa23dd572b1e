package invoker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// job is one queued dispatch request.
type job struct {
	sessionID string
	threadID  int
}

// Pool is the in-process Invoker: a bounded worker pool consuming a queue
// of (session-id, thread-id), following spec 4.6's "In-process" reference
// backend. Grounded on pkg/fpm/pool.WorkerPool's fixed-worker-count startup
// and runtime.GoroutineManager's worker-loop-over-a-channel shape.
type Pool struct {
	run       RunFunc
	queue     chan job
	workers   int
	wg        sync.WaitGroup
	stop      chan struct{}
	startedAt time.Time
	active    atomic.Int64
	accepted  atomic.Uint64
}

// NewPool builds a Pool with workers goroutines consuming a queue of depth
// queueSize. Call Start before the first Invoke.
func NewPool(run RunFunc, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Pool{
		run:     run,
		queue:   make(chan job, queueSize),
		workers: workers,
		stop:    make(chan struct{}),
	}
}

// Start spawns the pool's fixed worker goroutines.
func (p *Pool) Start() {
	log.Printf("invoker: starting in-process pool with %d workers", p.workers)
	p.startedAt = time.Now()
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

// Stop signals every worker to exit after it finishes its current job and
// waits for them to do so.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case j := <-p.queue:
			p.active.Add(1)
			p.accepted.Add(1)
			if err := p.run(context.Background(), j.sessionID, j.threadID); err != nil {
				log.Printf("invoker: worker %d: session=%s thread=%d: %v", id, j.sessionID, j.threadID, err)
			}
			p.active.Add(-1)
		}
	}
}

// Invoke enqueues (sessionID, threadID), blocking if the queue is full
// until a slot frees up or ctx is done.
func (p *Pool) Invoke(ctx context.Context, sessionID string, threadID int) error {
	select {
	case p.queue <- job{sessionID: sessionID, threadID: threadID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a snapshot of pool occupancy, modeled on
// pkg/fpm/status.Status's idle/active/total process counters, adapted from
// OS processes to goroutine workers draining a channel.
type Stats struct {
	StartTime       time.Time
	Workers         int
	ActiveWorkers   int
	IdleWorkers     int
	QueueLen        int
	QueueCap        int
	AcceptedJobs    uint64
}

// Stats returns a point-in-time snapshot of the pool's occupancy.
func (p *Pool) Stats() Stats {
	active := int(p.active.Load())
	return Stats{
		StartTime:     p.startedAt,
		Workers:       p.workers,
		ActiveWorkers: active,
		IdleWorkers:   p.workers - active,
		QueueLen:      len(p.queue),
		QueueCap:      cap(p.queue),
		AcceptedJobs:  p.accepted.Load(),
	}
}
