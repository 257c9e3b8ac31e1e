package workflow

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	voiceredis "github.com/ClareAI/astra-voice-receptionist/pkg/redis"
)

// Queue is the durable job queue (spec.md §4.H "Job queue"): Redis-backed
// when reachable, falling back to an in-memory FIFO when it isn't so a
// store outage never drops a job.
type Queue struct {
	redis     *voiceredis.RedisService
	readyKey  string
	delayKey  string

	mu       sync.Mutex
	inMemory *list.List // fallback FIFO of domain.Job
}

// NewQueue constructs a Queue. redisSvc may be nil, in which case the queue
// runs purely in-memory.
func NewQueue(redisSvc *voiceredis.RedisService) *Queue {
	return &Queue{
		redis:    redisSvc,
		readyKey: "astra_workflow_queue:ready",
		delayKey: "astra_workflow_queue:delayed",
		inMemory: list.New(),
	}
}

// Enqueue pushes a job onto the immediate work queue, or its delayed
// not-before set if NotBefore is in the future.
func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	if !job.NotBefore.IsZero() && job.NotBefore.After(time.Now()) {
		return q.enqueueDelayed(ctx, job)
	}
	return q.enqueueReady(ctx, job)
}

func (q *Queue) enqueueReady(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if q.redis != nil {
		if err := q.redis.LPushJob(ctx, q.readyKey, string(payload)); err == nil {
			return nil
		}
		// fall through to in-memory on store failure
	}

	q.mu.Lock()
	q.inMemory.PushBack(job)
	q.mu.Unlock()
	return nil
}

func (q *Queue) enqueueDelayed(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if q.redis != nil {
		if err := q.redis.ZAddJob(ctx, q.delayKey, float64(job.NotBefore.Unix()), string(payload)); err == nil {
			return nil
		}
	}

	// In-memory fallback has no delayed tier; schedule a one-shot timer that
	// pushes it onto the ready list once due.
	delay := time.Until(job.NotBefore)
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.inMemory.PushBack(job)
		q.mu.Unlock()
	})
	return nil
}

// PromoteDue moves any delayed jobs whose not-before has passed onto the
// ready queue. Called periodically by the Engine's worker loop.
func (q *Queue) PromoteDue(ctx context.Context) error {
	if q.redis == nil {
		return nil
	}
	payloads, err := q.redis.ZPopDueJobs(ctx, q.delayKey, float64(time.Now().Unix()), 100)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		if err := q.redis.LPushJob(ctx, q.readyKey, p); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue blocks up to timeout for the next ready job, preferring the
// durable store and falling back to the in-memory list.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Job, bool) {
	if q.redis != nil {
		payload, err := q.redis.BRPopJob(ctx, q.readyKey, timeout)
		if err == nil && payload != "" {
			var job domain.Job
			if json.Unmarshal([]byte(payload), &job) == nil {
				return &job, true
			}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.inMemory.Front()
	if front == nil {
		return nil, false
	}
	q.inMemory.Remove(front)
	job := front.Value.(domain.Job)
	return &job, true
}

// Len reports the number of ready jobs pending across the KV store and the
// in-memory fallback.
func (q *Queue) Len(ctx context.Context) int64 {
	var n int64
	if q.redis != nil {
		if c, err := q.redis.QueueLen(ctx, q.readyKey); err == nil {
			n += c
		}
	}
	q.mu.Lock()
	n += int64(q.inMemory.Len())
	q.mu.Unlock()
	return n
}
