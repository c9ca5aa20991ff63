package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisJobList    = "safe:sync:jobs"
	redisDedupKey   = "safe:sync:inflight:"
	redisDedupTTL   = 30 * time.Minute
	redisPopTimeout = 5 * time.Second
)

// RedisQueue is a Redis-backed Queue. De-duplication uses SETNX on a per-key
// marker, so the "at most one in-flight job per pair" invariant holds across
// processes without a read-then-enqueue race.
type RedisQueue struct {
	client  *redis.Client
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job SyncJob) (bool, error) {
	// The dedup marker expires on its own so a crashed worker cannot block the
	// pair forever.
	claimed, err := q.client.SetNX(ctx, redisDedupKey+job.Key(), "1", redisDedupTTL).Result()
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		q.client.Del(ctx, redisDedupKey+job.Key())
		return false, err
	}
	if err := q.client.LPush(ctx, redisJobList, payload).Err(); err != nil {
		q.client.Del(ctx, redisDedupKey+job.Key())
		return false, err
	}
	return true, nil
}

func (q *RedisQueue) Start(handler Handler) {
	q.handler = handler
	q.wg.Add(1)
	go q.run()
}

func (q *RedisQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		result, err := q.client.BRPop(q.ctx, redisPopTimeout, redisJobList).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Printf("[Queue] Failed to pop sync job: %v", err)
			time.Sleep(time.Second)
			continue
		}

		// BRPop returns [list, value]
		var job SyncJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("[Queue] Dropping malformed sync job: %v", err)
			continue
		}
		q.process(job)
	}
}

func (q *RedisQueue) process(job SyncJob) {
	defer q.client.Del(context.Background(), redisDedupKey+job.Key())

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

func (q *RedisQueue) Close() error {
	q.once.Do(q.cancel)
	q.wg.Wait()
	return nil
}
