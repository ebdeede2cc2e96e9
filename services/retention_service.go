package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/repository"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// RetentionEntry is one album considered by a sweep.
type RetentionEntry struct {
	AlbumID   uint      `json:"album_id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Created   time.Time `json:"created"`
	AgeDays   int       `json:"age_days"`
	SizeBytes int64     `json:"size_bytes"`
	Status    string    `json:"status"`
	Deleted   bool      `json:"deleted"`
	Error     string    `json:"error,omitempty"`
}

// RetentionReport summarises a sweep. In dry-run mode nothing is deleted and
// ReclaimedBytes is what a real run would free.
type RetentionReport struct {
	Days           int              `json:"days"`
	Cutoff         time.Time        `json:"cutoff"`
	DryRun         bool             `json:"dry_run"`
	Entries        []RetentionEntry `json:"entries"`
	Deleted        int              `json:"deleted"`
	Errors         int              `json:"errors"`
	ReclaimedBytes int64            `json:"reclaimed_bytes"`
}

// Summary is a one-line human readable description of the report.
func (r RetentionReport) Summary() string {
	if r.DryRun {
		would := 0
		for _, e := range r.Entries {
			if e.Error == "" {
				would++
			}
		}
		return fmt.Sprintf("%d album(s) older than %d days would be deleted, freeing %s",
			would, r.Days, humanize.Bytes(uint64(r.ReclaimedBytes)))
	}
	return fmt.Sprintf("%d album(s) deleted, %d error(s), %s freed",
		r.Deleted, r.Errors, humanize.Bytes(uint64(r.ReclaimedBytes)))
}

// RetentionService deletes albums older than a number of days.
type RetentionService struct {
	albums   repository.AlbumRepositoryInterface
	albumSvc *AlbumService
	store    media.Store
	now      func() time.Time
}

func NewRetentionService(albums repository.AlbumRepositoryInterface, albumSvc *AlbumService, store media.Store) *RetentionService {
	return &RetentionService{albums: albums, albumSvc: albumSvc, store: store, now: time.Now}
}

const skippedConverting = "skipped: conversion in progress"

// Sweep finds albums created more than days ago and deletes their directory
// and record unless dryRun is set. Albums with a running conversion are
// reported but kept.
func (s *RetentionService) Sweep(ctx context.Context, days int, dryRun bool) (RetentionReport, error) {
	if days <= 0 {
		return RetentionReport{}, fmt.Errorf("retention days must be positive, got %d", days)
	}

	now := s.now()
	report := RetentionReport{
		Days:   days,
		Cutoff: now.AddDate(0, 0, -days),
		DryRun: dryRun,
	}

	albums, err := s.albums.ListOlderThan(report.Cutoff)
	if err != nil {
		return report, err
	}

	for _, album := range albums {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		entry := RetentionEntry{
			AlbumID: album.ID,
			Name:    album.Name,
			Path:    album.OldPath,
			Created: album.Date,
			AgeDays: int(now.Sub(album.Date).Hours() / 24),
			Status:  album.ConversionStatus,
		}
		shared, err := s.albumSvc.sharesDirectory(&album)
		if err != nil {
			return report, err
		}
		if _, statErr := os.Stat(album.OldPath); statErr == nil && !shared {
			size, sizeErr := s.store.DirSize(album.OldPath)
			if sizeErr != nil {
				logger.Warn("retention: failed to size album directory",
					zap.Uint("album_id", album.ID),
					zap.Error(sizeErr))
			}
			entry.SizeBytes = size
		}

		if dryRun {
			if album.IsConverting() {
				entry.Error = skippedConverting
				report.Entries = append(report.Entries, entry)
				continue
			}
			report.ReclaimedBytes += entry.SizeBytes
			report.Entries = append(report.Entries, entry)
			continue
		}

		if _, err := s.albumSvc.Delete(album.ID); err != nil {
			if errors.Is(err, repository.ErrConversionInProgress) {
				entry.Error = skippedConverting
			} else {
				entry.Error = err.Error()
				report.Errors++
			}
			logger.Warn("retention: album not deleted",
				zap.Uint("album_id", album.ID),
				zap.String("reason", entry.Error))
		} else {
			entry.Deleted = true
			report.Deleted++
			report.ReclaimedBytes += entry.SizeBytes
		}
		report.Entries = append(report.Entries, entry)
	}

	logger.Info("retention sweep finished",
		zap.Int("days", days),
		zap.Bool("dry_run", dryRun),
		zap.Int("candidates", len(report.Entries)),
		zap.Int("deleted", report.Deleted),
		zap.Int("errors", report.Errors),
		zap.Int64("reclaimed_bytes", report.ReclaimedBytes))
	return report, nil
}
