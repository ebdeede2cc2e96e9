package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/camden-git/albumconverter/database"
	"github.com/camden-git/albumconverter/logger"
	"go.uber.org/zap"
)

var (
	ErrQueueFull     = errors.New("job queue full")
	ErrQueueStopped  = errors.New("job queue stopped")
	ErrAlreadyQueued = errors.New("album already queued")
)

// JobRunner executes conversion jobs. RunJob must return promptly once ctx
// is cancelled.
type JobRunner interface {
	RunJob(ctx context.Context, job database.ConversionJob) error
	PrepareResume(job database.ConversionJob) error
	FailJob(job database.ConversionJob, reason string)
}

// ConversionQueue is a fixed pool of workers fed by a bounded channel. Job
// state lives in the conversion_jobs table; the channel only holds ids of
// work that is ready to run.
type ConversionQueue struct {
	JobQueue chan database.ConversionJob
	DB       *sql.DB
	Runner   JobRunner
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[uint]string // album id -> job id
	Mutex    sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

func NewConversionQueue(db *sql.DB, runner JobRunner, queueSize, numWorkers int) *ConversionQueue {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &ConversionQueue{
		JobQueue: make(chan database.ConversionJob, queueSize),
		DB:       db,
		Runner:   runner,
		StopChan: make(chan struct{}),
		Pending:  make(map[uint]string),
		ctx:      ctx,
		cancel:   cancel,
	}
	q.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go q.worker(i)
	}
	logger.Info("started conversion workers",
		zap.Int("workers", numWorkers),
		zap.Int("queue_size", queueSize))
	return q
}

// Enqueue hands a job to the workers without blocking.
func (q *ConversionQueue) Enqueue(job database.ConversionJob) error {
	q.Mutex.Lock()
	defer q.Mutex.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if existing, ok := q.Pending[job.AlbumID]; ok {
		return fmt.Errorf("%w: album %d has job %s", ErrAlreadyQueued, job.AlbumID, existing)
	}

	select {
	case q.JobQueue <- job:
		q.Pending[job.AlbumID] = job.ID
		logger.Debug("conversion job queued", zap.String("job_id", job.ID), zap.Uint("album_id", job.AlbumID))
		return nil
	default:
		logger.Warn("conversion queue full, job rejected",
			zap.String("job_id", job.ID),
			zap.Uint("album_id", job.AlbumID))
		return ErrQueueFull
	}
}

// Recover queues again every job left queued or running by a previous
// process. Jobs that do not fit in the queue are failed.
func (q *ConversionQueue) Recover() (int, error) {
	jobs, err := database.ListUnfinishedJobs(q.DB)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, job := range jobs {
		if q.isPending(job.AlbumID) {
			q.Runner.FailJob(job, "superseded by an older unfinished job")
			continue
		}
		if err := q.Runner.PrepareResume(job); err != nil {
			logger.Warn("cannot resume conversion job",
				zap.String("job_id", job.ID),
				zap.Uint("album_id", job.AlbumID),
				zap.Error(err))
			continue
		}
		if err := q.Enqueue(job); err != nil {
			if errors.Is(err, ErrAlreadyQueued) {
				q.Runner.FailJob(job, "superseded by a newer job")
				continue
			}
			q.Runner.FailJob(job, "could not be resumed: "+err.Error())
			continue
		}
		resumed++
	}
	if resumed > 0 {
		logger.Info("resumed unfinished conversion jobs", zap.Int("count", resumed))
	}
	return resumed, nil
}

func (q *ConversionQueue) isPending(albumID uint) bool {
	q.Mutex.Lock()
	defer q.Mutex.Unlock()
	_, ok := q.Pending[albumID]
	return ok
}

// PendingCount returns the number of jobs queued or running.
func (q *ConversionQueue) PendingCount() int {
	q.Mutex.Lock()
	defer q.Mutex.Unlock()
	return len(q.Pending)
}

func (q *ConversionQueue) worker(id int) {
	defer q.Wg.Done()

	logger.Debug("conversion worker started", zap.Int("worker", id))
	for {
		select {
		case job := <-q.JobQueue:
			q.run(id, job)
		case <-q.StopChan:
			logger.Debug("conversion worker stopping", zap.Int("worker", id))
			return
		}
	}
}

func (q *ConversionQueue) run(id int, job database.ConversionJob) {
	defer func() {
		q.Mutex.Lock()
		if q.Pending[job.AlbumID] == job.ID {
			delete(q.Pending, job.AlbumID)
		}
		q.Mutex.Unlock()
	}()

	// stopping: leave the row queued for the next process
	if q.ctx.Err() != nil {
		return
	}

	logger.Info("worker picked up conversion job",
		zap.Int("worker", id),
		zap.String("job_id", job.ID),
		zap.Uint("album_id", job.AlbumID))
	if err := q.Runner.RunJob(q.ctx, job); err != nil {
		logger.Warn("conversion job ended with error",
			zap.Int("worker", id),
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

// Stop cancels running jobs, which are requeued in the database, and waits
// for the workers to exit.
func (q *ConversionQueue) Stop() {
	q.Mutex.Lock()
	if q.stopped {
		q.Mutex.Unlock()
		return
	}
	q.stopped = true
	q.Mutex.Unlock()

	q.cancel()
	close(q.StopChan)
	q.Wg.Wait()
	logger.Info("conversion workers stopped")
}
