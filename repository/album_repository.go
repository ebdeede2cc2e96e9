package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/albumconverter/models"
	"gorm.io/gorm"
)

// ErrConversionInProgress is returned by TryStartConversion when another run
// already owns the album.
var ErrConversionInProgress = errors.New("conversion already in progress")

// AlbumRepository handles database operations for Album entities
type AlbumRepository struct {
	DB *gorm.DB
}

// NewAlbumRepository creates a new instance of AlbumRepository
func NewAlbumRepository(db *gorm.DB) *AlbumRepository {
	return &AlbumRepository{DB: db}
}

// Create creates a new album record in the database
func (r *AlbumRepository) Create(album *models.Album) error {
	if album.Date.IsZero() {
		album.Date = time.Now()
	}
	if album.ConversionStatus == "" {
		album.ConversionStatus = models.StatusPending
	}

	err := r.DB.Create(album).Error
	if err != nil {
		return fmt.Errorf("failed to create album %s: %w", album.Name, err)
	}
	return nil
}

// ListAll retrieves all albums, newest first
func (r *AlbumRepository) ListAll() ([]models.Album, error) {
	var albums []models.Album
	err := r.DB.Order("date DESC").Order("id DESC").Find(&albums).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}
	return albums, nil
}

// ListOlderThan retrieves albums created before cutoff, oldest first
func (r *AlbumRepository) ListOlderThan(cutoff time.Time) ([]models.Album, error) {
	var albums []models.Album
	err := r.DB.Where("date < ?", cutoff).Order("date ASC").Find(&albums).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list albums older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return albums, nil
}

// GetByID retrieves an album by its ID
func (r *AlbumRepository) GetByID(id uint) (*models.Album, error) {
	var album models.Album
	err := r.DB.First(&album, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get album by ID %d: %w", id, err)
	}
	return &album, nil
}

func (r *AlbumRepository) update(albumID uint, op string, updates map[string]interface{}) error {
	result := r.DB.Model(&models.Album{}).Where("id = ?", albumID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to %s for album ID %d: %w", op, albumID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateProgress stores the per-file progress pointer of a running conversion
func (r *AlbumRepository) UpdateProgress(albumID uint, progress, index int, fileName string) error {
	return r.update(albumID, "update progress", map[string]interface{}{
		"conversion_progress": progress,
		"current_file_index":  index,
		"current_file_name":   fileName,
	})
}

// TryStartConversion moves the album to converting and resets its progress
// fields in a single conditional UPDATE. A second caller racing on the same
// album, or on another album with the same source directory, gets
// ErrConversionInProgress.
func (r *AlbumRepository) TryStartConversion(albumID uint) error {
	result := r.DB.Model(&models.Album{}).
		Where("id = ? AND conversion_status <> ?", albumID, models.StatusConverting).
		// albums sharing a source directory never convert at the same time
		Where("NOT EXISTS (SELECT 1 FROM albums AS other WHERE other.old_path = albums.old_path AND other.id <> albums.id AND other.conversion_status = ?)",
			models.StatusConverting).
		Updates(map[string]interface{}{
			"conversion_status":   models.StatusConverting,
			"conversion_progress": 0,
			"current_file_index":  0,
			"current_file_name":   "",
			"conversion_error":    gorm.Expr("NULL"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to start conversion for album ID %d: %w", albumID, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.DB.Model(&models.Album{}).Where("id = ?", albumID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check album ID %d: %w", albumID, err)
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return ErrConversionInProgress
}

// CountSharingPath counts albums other than excludeID whose source directory
// is path.
func (r *AlbumRepository) CountSharingPath(path string, excludeID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&models.Album{}).Where("old_path = ? AND id <> ?", path, excludeID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count albums sharing %s: %w", path, err)
	}
	return count, nil
}

// RestartConversion resets the progress of an album that is already marked
// converting, used when an interrupted job is resumed.
func (r *AlbumRepository) RestartConversion(albumID uint) error {
	return r.update(albumID, "restart conversion", map[string]interface{}{
		"conversion_status":   models.StatusConverting,
		"conversion_progress": 0,
		"current_file_index":  0,
		"current_file_name":   "",
		"conversion_error":    gorm.Expr("NULL"),
	})
}

// MarkCompleted records a successful conversion finishing at the given time
func (r *AlbumRepository) MarkCompleted(albumID uint, at time.Time) error {
	return r.update(albumID, "mark conversion completed", map[string]interface{}{
		"conversion_status":   models.StatusCompleted,
		"conversion_progress": 100,
		"conversion_date":     at,
		"conversion_error":    gorm.Expr("NULL"),
	})
}

// MarkError records a failed conversion. Progress fields are left as they were
// so a poller can see how far the run got.
func (r *AlbumRepository) MarkError(albumID uint, message string) error {
	return r.update(albumID, "mark conversion error", map[string]interface{}{
		"conversion_status": models.StatusError,
		"conversion_error":  message,
	})
}

// Delete removes an album by its ID
func (r *AlbumRepository) Delete(id uint) error {
	result := r.DB.Delete(&models.Album{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete album ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
