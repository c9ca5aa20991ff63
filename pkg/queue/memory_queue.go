package queue

import (
	"context"
	"log"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used when Redis is not configured and in
// tests. Jobs do not survive a restart.
type MemoryQueue struct {
	jobs     chan SyncJob
	inflight map[string]struct{}
	mu       sync.Mutex
	handler  Handler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

func NewMemoryQueue() *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		jobs:     make(chan SyncJob, 256),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue adds a job unless one with the same key is already waiting or
// running. The key is claimed under the lock, so concurrent enqueues for the
// same pair cannot both slip through.
func (q *MemoryQueue) Enqueue(ctx context.Context, job SyncJob) (bool, error) {
	q.mu.Lock()
	if _, exists := q.inflight[job.Key()]; exists {
		q.mu.Unlock()
		return false, nil
	}
	q.inflight[job.Key()] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return true, nil
	default:
		q.release(job.Key())
		log.Printf("[Queue] Job buffer full, dropping sync job for %s", job.Key())
		return false, nil
	}
}

func (q *MemoryQueue) Start(handler Handler) {
	q.handler = handler
	q.wg.Add(1)
	go q.run()
}

func (q *MemoryQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

func (q *MemoryQueue) process(job SyncJob) {
	defer q.release(job.Key())

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		job.Attempt = attempt
		err := q.handler(q.ctx, job)
		if err == nil {
			return
		}
		log.Printf("[Queue] Sync job %s attempt %d/%d failed: %v", job.Key(), attempt, MaxAttempts, err)
		if attempt == MaxAttempts {
			log.Printf("[Queue] Sync job %s exhausted retries, dropping", job.Key())
			return
		}
		select {
		case <-q.ctx.Done():
			return
		case <-time.After(Backoff(attempt)):
		}
	}
}

func (q *MemoryQueue) release(key string) {
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

// InflightCount reports the number of waiting or running jobs.
func (q *MemoryQueue) InflightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) Close() error {
	q.once.Do(q.cancel)
	q.wg.Wait()
	return nil
}
