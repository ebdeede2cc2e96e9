package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/camden-git/albumconverter/database"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/models"
	"github.com/camden-git/albumconverter/realtime"
	"github.com/camden-git/albumconverter/repository"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func TestConversion_ZipUploadEndToEnd(t *testing.T) {
	f := newFixture(t)

	album, saved, err := f.albums.Create("Summer 2024", nil, zipOf(t, "summer.zip", map[string][]byte{
		"a.jpg":     encodeImage(t, 2000, 1000, imaging.JPEG),
		"notes.txt": []byte("not an image"),
	}))
	require.NoError(t, err)
	require.Equal(t, 1, saved.Accepted)
	require.Equal(t, 1, album.FileCount)
	require.Equal(t, models.StatusPending, album.ConversionStatus)

	res, err := f.conversion.Start(context.Background(), album.ID, false)
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	require.Equal(t, 1, res.Outcome.Converted)

	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.ConversionStatus)
	require.Equal(t, 100, got.ConversionProgress)
	require.NotNil(t, got.ConversionDate)
	require.Equal(t, album.OldPath, got.OldPath)

	entries, err := os.ReadDir(got.OldPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.jpg", entries[0].Name())
	require.Equal(t, 1920, imageSize(t, filepath.Join(got.OldPath, "a.jpg")).X)
	require.Equal(t, 960, imageSize(t, filepath.Join(got.OldPath, "a.jpg")).Y)

	require.NoDirExists(t, resizedDirFor(got.OldPath))
	siblings, err := os.ReadDir(filepath.Dir(got.OldPath))
	require.NoError(t, err)
	require.Len(t, siblings, 1, "no parked or resized directories are left behind")

	job, err := f.conversion.LatestJob(album.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, database.JobStatusDone, job.Status)
	require.Equal(t, database.JobModeSync, job.Mode)

	types := f.notifier.types()
	require.Equal(t, realtime.EventConversionStarted, types[0])
	require.Equal(t, realtime.EventConversionCompleted, types[len(types)-1])
}

func TestConversion_ZeroImagesEndsInError(t *testing.T) {
	f := newFixture(t)
	album, _, err := f.albums.Create("Only text", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)

	// replace the only image with something that is not an image
	require.NoError(t, os.Remove(filepath.Join(album.OldPath, "a.jpg")))
	require.NoError(t, os.WriteFile(filepath.Join(album.OldPath, "readme.txt"), []byte("x"), 0644))

	_, err = f.conversion.Start(context.Background(), album.ID, false)
	require.Error(t, err)

	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.ConversionStatus)
	require.NotNil(t, got.ConversionError)
	require.DirExists(t, got.OldPath, "the source directory is kept on failure")
	require.NoDirExists(t, resizedDirFor(got.OldPath))

	job, err := f.conversion.LatestJob(album.ID)
	require.NoError(t, err)
	require.Equal(t, database.JobStatusFailed, job.Status)
}

func TestConversion_UndecodableImagesEndInError(t *testing.T) {
	f := newFixture(t)
	album, _, err := f.albums.Create("Broken", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(album.OldPath, "a.jpg"), []byte("garbage"), 0644))

	_, err = f.conversion.Start(context.Background(), album.ID, false)
	require.ErrorIs(t, err, ErrNothingConverted)

	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.ConversionStatus)
	require.Equal(t, 100, got.ConversionProgress, "the failed file still counts as processed")
}

func TestConversion_StartErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.conversion.Start(context.Background(), 404, false)
	require.ErrorIs(t, err, ErrAlbumNotFound)

	album, _, err := f.albums.Create("Gone", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(album.OldPath))

	_, err = f.conversion.Start(context.Background(), album.ID, false)
	require.ErrorIs(t, err, ErrSourceMissing)
	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.ConversionStatus)
}

func TestConversion_AsyncQueuesJob(t *testing.T) {
	f := newFixture(t)
	q := &fakeQueue{}
	f.conversion.SetQueue(q)

	album, _, err := f.albums.Create("Async", []media.Upload{upload("a.png", encodeImage(t, 30, 20, imaging.PNG))}, nil)
	require.NoError(t, err)

	res, err := f.conversion.Start(context.Background(), album.ID, true)
	require.NoError(t, err)
	require.True(t, res.Async)
	require.Nil(t, res.Outcome)
	require.Len(t, q.jobs, 1)
	require.Equal(t, res.Job.ID, q.jobs[0].ID)

	_, err = f.conversion.Start(context.Background(), album.ID, true)
	require.ErrorIs(t, err, repository.ErrConversionInProgress)

	require.NoError(t, f.conversion.RunJob(context.Background(), q.jobs[0]))
	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.ConversionStatus)
	require.FileExists(t, filepath.Join(got.OldPath, "a.jpg"))
	require.NoFileExists(t, filepath.Join(got.OldPath, "a.png"))
}

func TestConversion_SameDirectoryAlbumsDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	q := &fakeQueue{}
	f.conversion.SetQueue(q)

	first, _, err := f.albums.Create("Trip", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)
	second, _, err := f.albums.Create("Trip", []media.Upload{upload("b.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)
	require.Equal(t, first.OldPath, second.OldPath)

	_, err = f.conversion.Start(context.Background(), first.ID, true)
	require.NoError(t, err)

	_, err = f.conversion.Start(context.Background(), second.ID, false)
	require.ErrorIs(t, err, repository.ErrConversionInProgress)
	got, err := f.albumsRepo.GetByID(second.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.ConversionStatus)

	require.NoError(t, f.conversion.RunJob(context.Background(), q.jobs[0]))
	_, err = f.conversion.Start(context.Background(), second.ID, false)
	require.NoError(t, err)
}

func TestConversion_QueueFull(t *testing.T) {
	f := newFixture(t)
	f.conversion.SetQueue(&fakeQueue{err: errors.New("full")})

	album, _, err := f.albums.Create("Busy", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)

	_, err = f.conversion.Start(context.Background(), album.ID, true)
	require.ErrorIs(t, err, ErrQueueFull)

	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.ConversionStatus)
}

func TestConversion_CancelledJobIsRequeued(t *testing.T) {
	f := newFixture(t)
	q := &fakeQueue{}
	f.conversion.SetQueue(q)

	album, _, err := f.albums.Create("Shutdown", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)
	_, err = f.conversion.Start(context.Background(), album.ID, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.conversion.RunJob(ctx, q.jobs[0])
	require.ErrorIs(t, err, context.Canceled)

	job, err := database.GetJob(f.jobs, q.jobs[0].ID)
	require.NoError(t, err)
	require.Equal(t, database.JobStatusQueued, job.Status)

	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusConverting, got.ConversionStatus)
	require.FileExists(t, filepath.Join(got.OldPath, "a.jpg"))

	require.NoError(t, f.conversion.PrepareResume(job))
	require.NoError(t, f.conversion.RunJob(context.Background(), job))
	got, err = f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.ConversionStatus)
}

func TestConversion_SyncCancelledMarksError(t *testing.T) {
	f := newFixture(t)
	album, _, err := f.albums.Create("Timeout", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.conversion.Start(ctx, album.ID, false)
	require.ErrorIs(t, err, context.Canceled)

	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.ConversionStatus)
	require.DirExists(t, got.OldPath)
}

func TestConversion_StaleOutputIsReplaced(t *testing.T) {
	f := newFixture(t)
	album, _, err := f.albums.Create("Stale", []media.Upload{upload("a.jpg", encodeImage(t, 10, 10, imaging.JPEG))}, nil)
	require.NoError(t, err)

	stale := resizedDirFor(album.OldPath)
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "old.jpg"), []byte("stale"), 0644))

	_, err = f.conversion.Start(context.Background(), album.ID, false)
	require.NoError(t, err)

	got, err := f.albumsRepo.GetByID(album.ID)
	require.NoError(t, err)
	require.NoFileExists(t, filepath.Join(got.OldPath, "old.jpg"))
	require.FileExists(t, filepath.Join(got.OldPath, "a.jpg"))
}

func TestResizedDirFor(t *testing.T) {
	require.Equal(t, filepath.Join("x", "albums", "trip_resized"), resizedDirFor(filepath.Join("x", "albums", "trip")+string(filepath.Separator)))
}
