package workers

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/camden-git/albumconverter/database"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	ran      []string
	resumed  []string
	failed   map[string]string
	block    chan struct{}
	started  chan string
	resumeFn func(job database.ConversionJob) error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failed: map[string]string{}, started: make(chan string, 16)}
}

func (r *fakeRunner) RunJob(ctx context.Context, job database.ConversionJob) error {
	r.started <- job.ID
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.ran = append(r.ran, job.ID)
	r.mu.Unlock()
	return nil
}

func (r *fakeRunner) PrepareResume(job database.ConversionJob) error {
	if r.resumeFn != nil {
		if err := r.resumeFn(job); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.resumed = append(r.resumed, job.ID)
	r.mu.Unlock()
	return nil
}

func (r *fakeRunner) FailJob(job database.ConversionJob, reason string) {
	r.mu.Lock()
	r.failed[job.ID] = reason
	r.mu.Unlock()
}

func (r *fakeRunner) ranJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func openJobsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "jobs.db"), "silent")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func TestConversionQueue_RunsJobs(t *testing.T) {
	runner := newFakeRunner()
	q := NewConversionQueue(openJobsDB(t), runner, 4, 2)
	defer q.Stop()

	require.NoError(t, q.Enqueue(database.ConversionJob{ID: "j1", AlbumID: 1}))
	require.NoError(t, q.Enqueue(database.ConversionJob{ID: "j2", AlbumID: 2}))

	require.Eventually(t, func() bool { return len(runner.ranJobs()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"j1", "j2"}, runner.ranJobs())
	require.Eventually(t, func() bool { return q.PendingCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestConversionQueue_DedupAndFull(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	q := NewConversionQueue(openJobsDB(t), runner, 1, 1)
	defer q.Stop()
	defer close(runner.block)

	require.NoError(t, q.Enqueue(database.ConversionJob{ID: "j1", AlbumID: 1}))
	<-runner.started

	require.ErrorIs(t, q.Enqueue(database.ConversionJob{ID: "j1b", AlbumID: 1}), ErrAlreadyQueued)
	require.NoError(t, q.Enqueue(database.ConversionJob{ID: "j2", AlbumID: 2}))
	require.ErrorIs(t, q.Enqueue(database.ConversionJob{ID: "j3", AlbumID: 3}), ErrQueueFull)
	require.Equal(t, 2, q.PendingCount())
}

func TestConversionQueue_StopCancelsRunningJobs(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	q := NewConversionQueue(openJobsDB(t), runner, 2, 1)

	require.NoError(t, q.Enqueue(database.ConversionJob{ID: "j1", AlbumID: 1}))
	<-runner.started

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	require.Empty(t, runner.ranJobs())
	require.ErrorIs(t, q.Enqueue(database.ConversionJob{ID: "j2", AlbumID: 2}), ErrQueueStopped)
	q.Stop()
}

func TestConversionQueue_Recover(t *testing.T) {
	db := openJobsDB(t)
	queued, err := database.CreateJob(db, 1, database.JobModeAsync)
	require.NoError(t, err)
	running, err := database.CreateJob(db, 2, database.JobModeSync)
	require.NoError(t, err)
	require.NoError(t, database.MarkJobRunning(db, running.ID))
	done, err := database.CreateJob(db, 3, database.JobModeAsync)
	require.NoError(t, err)
	require.NoError(t, database.FinishJob(db, done.ID, database.JobStatusDone, 1, 1, ""))
	duplicate, err := database.CreateJob(db, 1, database.JobModeAsync)
	require.NoError(t, err)

	runner := newFakeRunner()
	runner.block = make(chan struct{})
	q := NewConversionQueue(db, runner, 8, 1)
	defer q.Stop()
	defer close(runner.block)

	resumed, err := q.Recover()
	require.NoError(t, err)
	require.Equal(t, 2, resumed)
	require.NotContains(t, runner.resumed, done.ID)
	require.Len(t, runner.failed, 1)
	require.Contains(t, runner.failed, duplicate.ID, "the older job of album 1 wins")
	require.NotContains(t, runner.failed, queued.ID)
	require.NotContains(t, runner.resumed, duplicate.ID)
}

func TestConversionQueue_RecoverSkipsUnresumable(t *testing.T) {
	db := openJobsDB(t)
	_, err := database.CreateJob(db, 9, database.JobModeAsync)
	require.NoError(t, err)

	runner := newFakeRunner()
	runner.resumeFn = func(database.ConversionJob) error { return sql.ErrNoRows }
	q := NewConversionQueue(db, runner, 2, 1)
	defer q.Stop()

	resumed, err := q.Recover()
	require.NoError(t, err)
	require.Zero(t, resumed)
	require.Zero(t, q.PendingCount())
}
