package services

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/camden-git/albumconverter/database"
	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/models"
	"github.com/camden-git/albumconverter/realtime"
	"github.com/camden-git/albumconverter/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxAlbumNameLength bounds the user-supplied album name.
const MaxAlbumNameLength = 255

// Notifier receives album and conversion events, typically the websocket hub.
type Notifier interface {
	Broadcast(event realtime.Event)
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(realtime.Event) {}

// AlbumService owns album creation and removal, keeping the record and the
// directory on disk in step.
type AlbumService struct {
	albums       repository.AlbumRepositoryInterface
	jobs         *sql.DB
	store        media.Store
	materializer *media.Materializer
	notifier     Notifier
}

func NewAlbumService(albums repository.AlbumRepositoryInterface, jobs *sql.DB, store media.Store, notifier Notifier) *AlbumService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &AlbumService{
		albums:       albums,
		jobs:         jobs,
		store:        store,
		materializer: media.NewMaterializer(store),
		notifier:     notifier,
	}
}

// SanitizeAlbumName trims name and replaces path separators so it can be used
// as a directory name.
func SanitizeAlbumName(name string) string {
	name = strings.TrimSpace(name)
	return strings.NewReplacer("/", "-", `\`, "-").Replace(name)
}

// Create stores the uploads and records a pending album. An upload with no
// usable image returns ErrNoValidFiles and creates nothing.
func (s *AlbumService) Create(name string, photos []media.Upload, archive *media.Upload) (*models.Album, media.SaveResult, error) {
	verr := &ValidationError{}
	clean := SanitizeAlbumName(name)
	switch {
	case clean == "":
		verr.add("name", "this field is required")
	case len(clean) > MaxAlbumNameLength:
		verr.add("name", fmt.Sprintf("ensure this value has at most %d characters", MaxAlbumNameLength))
	case clean == "." || clean == "..":
		verr.add("name", ErrInvalidAlbumName.Error())
	}
	if len(photos) == 0 && archive == nil {
		verr.add("photos", "select photos or a compressed file")
	}
	if err := verr.orNil(); err != nil {
		return nil, media.SaveResult{}, err
	}

	saved, err := s.materializer.Save(clean, photos, archive)
	if err != nil {
		return nil, saved, fmt.Errorf("failed to store upload for album %s: %w", clean, err)
	}
	if saved.Accepted == 0 {
		return nil, saved, ErrNoValidFiles
	}

	album := &models.Album{
		Name:             clean,
		OldPath:          saved.Dir,
		Date:             time.Now(),
		FileCount:        saved.Accepted,
		ConversionStatus: models.StatusPending,
	}
	if err := s.albums.Create(album); err != nil {
		return nil, saved, err
	}

	logger.Info("album created",
		zap.Uint("album_id", album.ID),
		zap.String("name", album.Name),
		zap.Int("files", album.FileCount))
	return album, saved, nil
}

func (s *AlbumService) List() ([]models.Album, error) {
	return s.albums.ListAll()
}

// Get maps a missing record to ErrAlbumNotFound.
func (s *AlbumService) Get(id uint) (*models.Album, error) {
	album, err := s.albums.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlbumNotFound
		}
		return nil, err
	}
	return album, nil
}

// Delete removes the album directory, then its record and job history.
// Albums with a running conversion are refused. A directory that another
// album was created into as well is left on disk.
func (s *AlbumService) Delete(id uint) (*models.Album, error) {
	album, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if album.IsConverting() {
		return album, repository.ErrConversionInProgress
	}

	shared, err := s.sharesDirectory(album)
	if err != nil {
		return album, err
	}
	if shared {
		logger.Info("album directory still used by another album, keeping it",
			zap.Uint("album_id", id),
			zap.String("path", album.OldPath))
	} else if _, statErr := os.Stat(album.OldPath); statErr == nil {
		if err := s.store.RemoveAll(album.OldPath); err != nil {
			return album, fmt.Errorf("failed to remove directory of album %d: %w", id, err)
		}
	}

	if err := s.albums.Delete(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return album, ErrAlbumNotFound
		}
		return album, err
	}
	if s.jobs != nil {
		if err := database.DeleteJobsForAlbum(s.jobs, id); err != nil {
			logger.Warn("failed to delete job history of album", zap.Uint("album_id", id), zap.Error(err))
		}
	}

	s.notifier.Broadcast(realtime.Event{Type: realtime.EventAlbumDeleted, AlbumID: id})
	logger.Info("album deleted", zap.Uint("album_id", id), zap.String("path", album.OldPath))
	return album, nil
}

// sharesDirectory reports whether another album record uses the source
// directory of album.
func (s *AlbumService) sharesDirectory(album *models.Album) (bool, error) {
	n, err := s.albums.CountSharingPath(album.OldPath, album.ID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
