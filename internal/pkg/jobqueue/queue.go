package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes; list, zset and stats keys are namespaced per queue ("webhooks:job_queue")
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobDelayedKey    = "job_delayed"
	JobStatsKey      = "job_stats"
	JobRefKeyPrefix  = "job_ref:"

	// Job settings
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour // Jobs expire after 24 hours

	DefaultQueueName = "default"
)

// Handler runs one job. Returning an error fails the attempt; wrap it with Permanent to skip retries.
type Handler func(ctx context.Context, job *Job) error

// Options tune a queue beyond its name and worker count.
type Options struct {
	RetryPolicy     RetryPolicy
	PollInterval    time.Duration // how often due retries are promoted
	StuckAfter      time.Duration // processing age after which the sweeper requeues a job
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration // grace for in-flight jobs before their context is cancelled
}

func (o *Options) withDefaults() {
	if o.RetryPolicy.MaxAttempts <= 0 {
		o.RetryPolicy = DefaultRetryPolicy()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.StuckAfter <= 0 {
		o.StuckAfter = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
}

// Queue is a named durable job queue on Redis. Jobs live under job:<id>; ids move between the
// pending list, the processing list and the delayed zset of the queue.
type Queue struct {
	name       string
	client     *redis.Client
	workers    int
	opts       Options
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	jobCtx     context.Context
	cancelJobs context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[JobType]Handler
}

// NewQueue creates a new named job queue
func NewQueue(client *redis.Client, name string, workers int, opts Options) *Queue {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}
	if name == "" {
		name = DefaultQueueName
	}
	opts.withDefaults()

	return &Queue{
		name:       name,
		client:     client,
		workers:    workers,
		opts:       opts,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
		handlers:   make(map[JobType]Handler),
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) RetryPolicy() RetryPolicy { return q.opts.RetryPolicy }

func (q *Queue) pendingKey() string    { return q.name + ":" + JobQueueKey }
func (q *Queue) processingKey() string { return q.name + ":" + JobProcessingKey }
func (q *Queue) delayedKey() string    { return q.name + ":" + JobDelayedKey }
func (q *Queue) statsKey() string      { return q.name + ":" + JobStatsKey }
func (q *Queue) refKey(ref string) string {
	return q.name + ":" + JobRefKeyPrefix + ref
}

// RegisterHandler binds a job type to its handler. Registering a type twice replaces the handler.
func (q *Queue) RegisterHandler(jobType JobType, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handlerFor(jobType JobType) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	q.jobCtx, q.cancelJobs = context.WithCancel(context.Background())
	log.Infof("[JobQueue:%s] Starting %d workers", q.name, q.workers)

	// Initialize worker pool
	for len(q.workerPool) > 0 {
		<-q.workerPool
	}
	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(2)
	go q.delayedPromoter()
	go q.stuckSweeper()
}

// Stop stops the workers. In-flight jobs get ShutdownTimeout to finish before their context is
// cancelled, so an interrupted handler rolls back instead of committing half its work.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Infof("[JobQueue:%s] Stopping workers...", q.name)
	close(q.stopCh)
	q.running = false

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(q.opts.ShutdownTimeout):
		log.Warnf("[JobQueue:%s] Workers still busy after %s, cancelling in-flight jobs", q.name, q.opts.ShutdownTimeout)
		q.cancelJobs()
		<-done
	}
	q.cancelJobs()
	log.Infof("[JobQueue:%s] All workers stopped", q.name)
}

// IsRunning returns whether the workers are running
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// delayedPromoter moves due retries from the delayed zset back onto the pending list
func (q *Queue) delayedPromoter() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if _, err := q.PromoteDueJobs(context.Background(), time.Now()); err != nil {
				log.Errorf("[JobQueue:%s] Promoting delayed jobs failed: %v", q.name, err)
			}
		}
	}
}

// PromoteDueJobs pushes every delayed job whose run time is at or before now back to pending.
// ZREM decides ownership so two instances never promote the same job twice.
func (q *Queue) PromoteDueJobs(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.pendingKey(), id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	if promoted > 0 {
		log.Debugf("[JobQueue:%s] Promoted %d delayed jobs", q.name, promoted)
	}
	return promoted, nil
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than StuckAfter
func (q *Queue) stuckSweeper() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if _, err := q.RecoverStuckJobs(context.Background(), time.Now()); err != nil {
				log.Errorf("[JobQueue:%s] Sweeper error: %v", q.name, err)
			}
		}
	}
}

// RecoverStuckJobs requeues jobs that have been processing longer than StuckAfter, typically
// because the worker holding them crashed.
func (q *Queue) RecoverStuckJobs(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// Job data missing or corrupt; drop the dangling id
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue:%s] Sweeper could not load %s: %v", q.name, id, err)
			}
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			continue
		}

		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= q.opts.StuckAfter {
			continue
		}

		log.Warnf("[JobQueue:%s] Recovering stuck job %s (type=%s), age=%s", q.name, job.ID, job.Type, now.Sub(started))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
		if err := q.client.RPush(ctx, q.pendingKey(), id).Err(); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Debugf("[JobQueue:%s] Worker %d started", q.name, id)

	for {
		select {
		case <-q.stopCh:
			log.Debugf("[JobQueue:%s] Worker %d stopping", q.name, id)
			return
		default:
			// Acquire worker slot
			<-q.workerPool

			job, err := q.dequeueJob(q.jobCtx)
			if err != nil {
				if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
					log.Errorf("[JobQueue:%s] Worker %d: Error dequeuing job: %v", q.name, id, err)
					time.Sleep(time.Second)
				}
				q.workerPool <- struct{}{}
				continue
			}

			if job != nil {
				log.Infof("[JobQueue:%s] Worker %d processing job %s (Type: %s)", q.name, id, job.ID, job.Type)
				q.processJob(q.jobCtx, job)
			}

			// Release worker slot
			q.workerPool <- struct{}{}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	return q.enqueue(ctx, "", jobType, payload)
}

// EnqueueRefJob adds a job and points ref at it, so HasLiveJob(ref) can tell later whether the
// work for ref is still in flight. A newer job for the same ref replaces the pointer.
func (q *Queue) EnqueueRefJob(ctx context.Context, ref string, jobType JobType, payload map[string]interface{}) (*Job, error) {
	if ref == "" {
		return nil, errors.New("empty job ref")
	}
	return q.enqueue(ctx, ref, jobType, payload)
}

// HasLiveJob reports whether the job last enqueued under ref is pending, running or waiting for
// a retry. Completed jobs are deleted and failed jobs are final, so both report false.
func (q *Queue) HasLiveJob(ctx context.Context, ref string) (bool, error) {
	jobID, err := q.client.Get(ctx, q.refKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job, err := q.GetJob(ctx, jobID)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch job.Status {
	case JobStatusPending, JobStatusProcessing, JobStatusRetrying:
		return true, nil
	default:
		return false, nil
	}
}

func (q *Queue) enqueue(ctx context.Context, ref string, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Queue:      q.name,
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: q.opts.RetryPolicy.MaxAttempts,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, q.pendingKey(), job.ID)
	pipe.HIncrBy(ctx, q.statsKey(), string(JobStatusPending), 1)
	if ref != "" {
		pipe.Set(ctx, q.refKey(ref), job.ID, JobTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue:%s] Enqueued job %s (Type: %s)", q.name, job.ID, job.Type)
	return job, nil
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.client.LRem(ctx, q.processingKey(), 1, jobID)
		return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
	}
	return job, nil
}

// processJob runs a single job and books the outcome
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	if h, ok := q.handlerFor(job.Type); ok {
		err = q.runHandler(ctx, h, job)
	} else {
		err = Permanent(fmt.Errorf("unknown job type: %s", job.Type))
	}

	if err != nil {
		log.Errorf("[JobQueue:%s] Job %s failed: %v", q.name, job.ID, err)
		job.MarkAsFailed(err.Error())

		if !errors.Is(err, ErrPermanent) && job.IsRetryable() {
			delay := q.opts.RetryPolicy.Delay(job.RetryCount)
			runAt := time.Now().Add(delay)
			log.Infof("[JobQueue:%s] Retrying job %s in %s (Attempt %d/%d)", q.name, job.ID, delay, job.RetryCount+1, job.MaxRetries)
			job.MarkAsRetrying(runAt)
			q.updateJob(ctx, job)
			q.scheduleRetry(ctx, job.ID, runAt)
			q.updateJobStats(ctx, JobStatusRetrying, 1)
		} else {
			log.Errorf("[JobQueue:%s] Job %s permanently failed after %d attempts", q.name, job.ID, job.RetryCount)
			q.updateJob(ctx, job)
			q.updateJobStats(ctx, JobStatusFailed, 1)
		}
	} else {
		log.Infof("[JobQueue:%s] Job %s completed successfully", q.name, job.ID)
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job.ID)
	}

	q.removeFromProcessing(ctx, job.ID)
}

// runHandler converts handler panics into failed attempts.
func (q *Queue) runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

// scheduleRetry parks the job in the delayed zset scored by its due time (unix millis)
func (q *Queue) scheduleRetry(ctx context.Context, jobID string, runAt time.Time) {
	// A cancelled worker context must not lose the retry
	ctx = context.WithoutCancel(ctx)
	err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: jobID,
	}).Err()
	if err != nil {
		log.Errorf("[JobQueue:%s] Failed to schedule retry for job %s: %v", q.name, jobID, err)
	}
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue:%s] Failed to marshal job %s: %v", q.name, job.ID, err)
		return
	}

	if err := q.client.Set(context.WithoutCancel(ctx), JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to update job %s: %v", q.name, job.ID, err)
	}
}

// removeFromProcessing removes a job from the processing queue
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(context.WithoutCancel(ctx), q.processingKey(), 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to remove job %s from processing queue: %v", q.name, jobID, err)
	}
}

// removeCompletedJob completely removes a completed job from Redis
func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(context.WithoutCancel(ctx), JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to remove completed job %s from Redis: %v", q.name, jobID, err)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(context.WithoutCancel(ctx), q.statsKey(), string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to update job stats: %v", q.name, err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, q.statsKey()).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = countInt
		}
	}
	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processingKey()).Result()
}

// GetDelayedSize returns the number of jobs waiting for a retry
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey()).Result()
}

// Snapshot collects sizes and counters for monitoring.
type Snapshot struct {
	Name       string              `json:"name"`
	Pending    int64               `json:"pending"`
	Processing int64               `json:"processing"`
	Delayed    int64               `json:"delayed"`
	Stats      map[JobStatus]int64 `json:"stats"`
}

func (q *Queue) Snapshot(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{Name: q.name}
	var err error
	if s.Pending, err = q.GetQueueSize(ctx); err != nil {
		return nil, err
	}
	if s.Processing, err = q.GetProcessingSize(ctx); err != nil {
		return nil, err
	}
	if s.Delayed, err = q.GetDelayedSize(ctx); err != nil {
		return nil, err
	}
	if s.Stats, err = q.GetJobStats(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
