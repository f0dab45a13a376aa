package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix     = "job:"
	jobQueueKey      = "job_queue"
	jobProcessingKey = "job_processing"

	defaultMaxRetries = 3
	jobTTL            = 24 * time.Hour
	pollInterval      = 500 * time.Millisecond
)

// Handler processes one delivered job. Returning an error requeues the job
// until its retry budget runs out.
type Handler func(ctx context.Context, job *Job) error

// Queue is a durable redis-backed work queue with at-least-once delivery.
// Pending job ids live in a list; in-flight ids move to a processing list so
// a crashed worker's jobs can be swept back.
type Queue struct {
	client   *redis.Client
	workers  int
	handlers map[string]Handler
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}
	return &Queue{
		client:   client,
		workers:  workers,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

// Register binds a handler to a topic. Must be called before Start.
func (q *Queue) Register(topic string, handler Handler) {
	q.handlers[topic] = handler
}

// Enqueue stores the job and pushes it onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, topic string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:         uuid.New().String(),
		Topic:      topic,
		Payload:    raw,
		Status:     JobStatusPending,
		MaxRetries: defaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := q.saveJob(ctx, job); err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, jobQueueKey, job.ID).Err(); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	log.Printf("Job queue starting %d workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, time.Minute)
}

func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
	log.Println("Job queue stopped")
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		processed, err := q.processOne(ctx)
		if err != nil {
			log.Printf("Worker %d: %v", id, err)
		}
		if !processed {
			select {
			case <-q.stopCh:
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

// processOne moves one pending job to the processing list and runs its
// handler. Returns false when the queue is empty.
func (q *Queue) processOne(ctx context.Context) (bool, error) {
	jobID, err := q.client.RPopLPush(ctx, jobQueueKey, jobProcessingKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		q.client.LRem(ctx, jobProcessingKey, 1, jobID)
		return true, err
	}

	handler, ok := q.handlers[job.Topic]
	if !ok {
		q.client.LRem(ctx, jobProcessingKey, 1, jobID)
		return true, fmt.Errorf("no handler for topic %q", job.Topic)
	}

	job.Status = JobStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.saveJob(ctx, job); err != nil {
		log.Printf("Could not mark job %s processing: %v", job.ID, err)
	}

	if err := handler(ctx, job); err != nil {
		q.handleFailure(ctx, job, err)
		return true, nil
	}

	job.Status = JobStatusCompleted
	job.UpdatedAt = time.Now().UTC()
	if err := q.saveJob(ctx, job); err != nil {
		log.Printf("Could not mark job %s completed: %v", job.ID, err)
	}
	q.client.LRem(ctx, jobProcessingKey, 1, jobID)
	return true, nil
}

func (q *Queue) handleFailure(ctx context.Context, job *Job, cause error) {
	job.RetryCount++
	job.ErrorMsg = cause.Error()
	job.UpdatedAt = time.Now().UTC()

	if job.RetryCount < job.MaxRetries {
		job.Status = JobStatusPending
		if err := q.saveJob(ctx, job); err != nil {
			log.Printf("Could not save retry for job %s: %v", job.ID, err)
		}
		q.client.LPush(ctx, jobQueueKey, job.ID)
		log.Printf("Job %s (%s) failed, retry %d/%d: %v", job.ID, job.Topic, job.RetryCount, job.MaxRetries, cause)
	} else {
		job.Status = JobStatusFailed
		if err := q.saveJob(ctx, job); err != nil {
			log.Printf("Could not save failed job %s: %v", job.ID, err)
		}
		log.Printf("Job %s (%s) permanently failed after %d retries: %v", job.ID, job.Topic, job.RetryCount, cause)
	}
	q.client.LRem(ctx, jobProcessingKey, 1, job.ID)
}

// stuckSweeper requeues jobs that have sat in the processing list past
// maxAge, recovering work lost to a crashed worker.
func (q *Queue) stuckSweeper(maxAge, interval time.Duration) {
	defer q.wg.Done()
	ctx := context.Background()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			ids, err := q.client.LRange(ctx, jobProcessingKey, 0, -1).Result()
			if err != nil {
				log.Printf("Stuck sweeper: %v", err)
				continue
			}
			for _, id := range ids {
				job, err := q.loadJob(ctx, id)
				if err != nil {
					q.client.LRem(ctx, jobProcessingKey, 1, id)
					continue
				}
				if time.Since(job.UpdatedAt) < maxAge {
					continue
				}
				log.Printf("Requeueing stuck job %s (%s)", job.ID, job.Topic)
				q.client.LRem(ctx, jobProcessingKey, 1, id)
				job.Status = JobStatusPending
				job.UpdatedAt = time.Now().UTC()
				if err := q.saveJob(ctx, job); err != nil {
					continue
				}
				q.client.LPush(ctx, jobQueueKey, id)
			}
		}
	}
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL).Err(); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}
