package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/camden-git/albumconverter/config"
	"github.com/camden-git/albumconverter/database"
	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/models"
	"github.com/camden-git/albumconverter/realtime"
	"github.com/camden-git/albumconverter/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobQueue hands asynchronous conversion jobs to background workers.
type JobQueue interface {
	Enqueue(job database.ConversionJob) error
}

// StartResult describes an accepted conversion request. Outcome is only set
// for synchronous runs.
type StartResult struct {
	AlbumID uint
	Job     database.ConversionJob
	Async   bool
	Outcome *media.ResizeResult
}

// ConversionService runs the resize pipeline for albums and performs the
// directory swap once a run succeeds.
type ConversionService struct {
	albums   repository.AlbumRepositoryInterface
	jobs     *sql.DB
	store    media.Store
	resizer  *media.Resizer
	notifier Notifier
	queue    JobQueue
	now      func() time.Time
}

func NewConversionService(albums repository.AlbumRepositoryInterface, jobs *sql.DB, store media.Store, resizer *media.Resizer, notifier Notifier) *ConversionService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ConversionService{
		albums:   albums,
		jobs:     jobs,
		store:    store,
		resizer:  resizer,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetQueue wires the worker pool used for asynchronous starts.
func (s *ConversionService) SetQueue(q JobQueue) {
	s.queue = q
}

// Start validates the album, claims it for conversion and either runs the
// conversion inline (async=false, bounded by ctx) or queues it.
func (s *ConversionService) Start(ctx context.Context, albumID uint, async bool) (StartResult, error) {
	result := StartResult{AlbumID: albumID, Async: async}

	album, err := s.albums.GetByID(albumID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return result, ErrAlbumNotFound
		}
		return result, err
	}
	if album.IsConverting() {
		return result, repository.ErrConversionInProgress
	}

	if !dirExists(album.OldPath) {
		if err := s.albums.MarkError(album.ID, ErrSourceMissing.Error()); err != nil {
			logger.Warn("failed to mark album error", zap.Uint("album_id", album.ID), zap.Error(err))
		}
		return result, ErrSourceMissing
	}

	if err := s.albums.TryStartConversion(album.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return result, ErrAlbumNotFound
		}
		return result, err
	}

	mode := database.JobModeSync
	if async {
		mode = database.JobModeAsync
	}
	job, err := database.CreateJob(s.jobs, album.ID, mode)
	if err != nil {
		s.markError(album.ID, "could not record conversion job")
		return result, err
	}
	result.Job = job

	s.notifier.Broadcast(realtime.Event{
		Type:    realtime.EventConversionStarted,
		AlbumID: album.ID,
		JobID:   job.ID,
		Status:  models.StatusConverting,
		Total:   album.FileCount,
	})

	if async {
		if s.queue == nil {
			err = errors.New("no worker pool configured")
		} else {
			err = s.queue.Enqueue(job)
		}
		if err != nil {
			s.markError(album.ID, ErrQueueFull.Error())
			s.finishJob(job.ID, database.JobStatusFailed, 0, 0, err.Error())
			return result, fmt.Errorf("%w: %v", ErrQueueFull, err)
		}
		logger.Info("conversion queued", zap.Uint("album_id", album.ID), zap.String("job_id", job.ID))
		return result, nil
	}

	outcome, err := s.execute(ctx, album, job, false)
	result.Outcome = &outcome
	return result, err
}

// RunJob executes a queued job. If ctx ends mid-run the job goes back to
// queued and the album stays claimed so the next start resumes it.
func (s *ConversionService) RunJob(ctx context.Context, job database.ConversionJob) error {
	album, err := s.albums.GetByID(job.AlbumID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.finishJob(job.ID, database.JobStatusFailed, 0, 0, ErrAlbumNotFound.Error())
			return ErrAlbumNotFound
		}
		return err
	}
	_, err = s.execute(ctx, album, job, true)
	return err
}

// PrepareResume reclaims the album of an unfinished job before it is queued
// again after a restart.
func (s *ConversionService) PrepareResume(job database.ConversionJob) error {
	if _, err := s.albums.GetByID(job.AlbumID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.finishJob(job.ID, database.JobStatusFailed, 0, 0, ErrAlbumNotFound.Error())
			return ErrAlbumNotFound
		}
		return err
	}
	if err := database.RequeueJob(s.jobs, job.ID); err != nil {
		return err
	}
	return s.albums.RestartConversion(job.AlbumID)
}

// FailJob marks a job that will never run, along with its album.
func (s *ConversionService) FailJob(job database.ConversionJob, reason string) {
	s.markError(job.AlbumID, reason)
	s.finishJob(job.ID, database.JobStatusFailed, 0, 0, reason)
}

func (s *ConversionService) execute(ctx context.Context, album *models.Album, job database.ConversionJob, requeueOnCancel bool) (media.ResizeResult, error) {
	if err := database.MarkJobRunning(s.jobs, job.ID); err != nil {
		logger.Warn("failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
	}

	outcome, err := s.run(ctx, album, job.ID)
	switch {
	case err == nil:
		s.finishJob(job.ID, database.JobStatusDone, outcome.Converted, outcome.Total, "")
	case requeueOnCancel && ctx.Err() != nil:
		if rqErr := database.RequeueJob(s.jobs, job.ID); rqErr != nil {
			logger.Warn("failed to requeue interrupted job", zap.String("job_id", job.ID), zap.Error(rqErr))
		}
		logger.Info("conversion interrupted, job requeued",
			zap.Uint("album_id", album.ID),
			zap.String("job_id", job.ID))
	default:
		if ctx.Err() != nil {
			s.markError(album.ID, "conversion interrupted: "+ctx.Err().Error())
		}
		s.finishJob(job.ID, database.JobStatusFailed, outcome.Converted, outcome.Total, err.Error())
	}
	return outcome, err
}

// resizedDirFor returns the sibling directory the converted files are written to.
func resizedDirFor(src string) string {
	src = filepath.Clean(src)
	return filepath.Join(filepath.Dir(src), filepath.Base(src)+config.ResizedDirSuffix)
}

// run converts the album into a sibling directory, then swaps it into place.
// Failures other than ctx cancellation leave the album in the error state.
func (s *ConversionService) run(ctx context.Context, album *models.Album, jobID string) (outcome media.ResizeResult, err error) {
	src := filepath.Clean(album.OldPath)
	out := resizedDirFor(src)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("conversion panicked",
				zap.Uint("album_id", album.ID),
				zap.Any("panic", r))
			s.removeOutput(out)
			s.markError(album.ID, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("conversion of album %d panicked: %v", album.ID, r)
		}
	}()

	if !dirExists(src) {
		s.markError(album.ID, ErrSourceMissing.Error())
		return outcome, ErrSourceMissing
	}

	// left over by an earlier crashed run
	s.removeOutput(out)

	logger.Info("conversion started",
		zap.Uint("album_id", album.ID),
		zap.String("job_id", jobID),
		zap.String("src", src))

	outcome, err = s.resizer.ResizeDir(ctx, src, out, func(p media.Progress) {
		if uerr := s.albums.UpdateProgress(album.ID, p.Percent, p.Index, p.FileName); uerr != nil {
			logger.Warn("failed to persist conversion progress",
				zap.Uint("album_id", album.ID),
				zap.Error(uerr))
		}
		s.notifier.Broadcast(realtime.Event{
			Type:      realtime.EventConversionProgress,
			AlbumID:   album.ID,
			JobID:     jobID,
			Status:    models.StatusConverting,
			Progress:  p.Percent,
			FileIndex: p.Index,
			FileName:  p.FileName,
			Total:     p.Total,
		})
	})
	if err != nil {
		s.removeOutput(out)
		if ctx.Err() == nil {
			s.fail(album.ID, jobID, err.Error())
		}
		return outcome, err
	}

	if outcome.Converted == 0 {
		s.removeOutput(out)
		msg := ErrNothingConverted.Error()
		if len(outcome.Errors) > 0 {
			msg += ": " + strings.Join(outcome.Errors, "; ")
		}
		s.fail(album.ID, jobID, msg)
		return outcome, ErrNothingConverted
	}

	if err := s.swapDirs(src, out); err != nil {
		s.removeOutput(out)
		s.fail(album.ID, jobID, err.Error())
		return outcome, err
	}

	if err := s.albums.MarkCompleted(album.ID, s.now()); err != nil {
		s.markError(album.ID, "converted files are in place but the album could not be updated")
		return outcome, err
	}
	s.notifier.Broadcast(realtime.Event{
		Type:     realtime.EventConversionCompleted,
		AlbumID:  album.ID,
		JobID:    jobID,
		Status:   models.StatusCompleted,
		Progress: 100,
		Total:    outcome.Total,
	})
	logger.Info("conversion completed",
		zap.Uint("album_id", album.ID),
		zap.Int("converted", outcome.Converted),
		zap.Int("total", outcome.Total),
		zap.Int("failed", outcome.Failed))
	return outcome, nil
}

// swapDirs replaces src with out. src is first parked under a temporary name
// so it can be restored if the second rename fails.
func (s *ConversionService) swapDirs(src, out string) error {
	parked := filepath.Join(filepath.Dir(src), "."+filepath.Base(src)+".old-"+uuid.NewString())
	if err := os.Rename(src, parked); err != nil {
		return fmt.Errorf("failed to move original directory aside: %w", err)
	}
	if err := os.Rename(out, src); err != nil {
		if rbErr := os.Rename(parked, src); rbErr != nil {
			logger.Error("failed to restore original directory",
				zap.String("dir", src),
				zap.String("parked", parked),
				zap.Error(rbErr))
		}
		return fmt.Errorf("failed to move converted directory into place: %w", err)
	}
	if err := s.store.RemoveAll(parked); err != nil {
		logger.Warn("failed to remove original directory", zap.String("dir", parked), zap.Error(err))
	}
	return nil
}

func (s *ConversionService) fail(albumID uint, jobID, msg string) {
	s.markError(albumID, msg)
	s.notifier.Broadcast(realtime.Event{
		Type:    realtime.EventConversionFailed,
		AlbumID: albumID,
		JobID:   jobID,
		Status:  models.StatusError,
		Error:   msg,
	})
	logger.Warn("conversion failed", zap.Uint("album_id", albumID), zap.String("error", msg))
}

func (s *ConversionService) markError(albumID uint, msg string) {
	if err := s.albums.MarkError(albumID, msg); err != nil {
		logger.Warn("failed to mark album error", zap.Uint("album_id", albumID), zap.Error(err))
	}
}

func (s *ConversionService) finishJob(jobID, status string, converted, total int, msg string) {
	if err := database.FinishJob(s.jobs, jobID, status, converted, total, msg); err != nil {
		logger.Warn("failed to finish job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *ConversionService) removeOutput(dir string) {
	if !dirExists(dir) {
		return
	}
	if err := s.store.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove conversion output", zap.String("dir", dir), zap.Error(err))
	}
}

// LatestJob returns the newest job of an album, or nil when there is none.
func (s *ConversionService) LatestJob(albumID uint) (*database.ConversionJob, error) {
	job, err := database.LatestJobForAlbum(s.jobs, albumID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
