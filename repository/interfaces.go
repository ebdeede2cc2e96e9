package repository

import (
	"time"

	"github.com/camden-git/albumconverter/models"
)

// AlbumRepositoryInterface defines the methods for album data operations
type AlbumRepositoryInterface interface {
	Create(album *models.Album) error
	ListAll() ([]models.Album, error)
	ListOlderThan(cutoff time.Time) ([]models.Album, error)
	GetByID(id uint) (*models.Album, error)
	UpdateProgress(albumID uint, progress, index int, fileName string) error
	TryStartConversion(albumID uint) error
	CountSharingPath(path string, excludeID uint) (int64, error)
	RestartConversion(albumID uint) error
	MarkCompleted(albumID uint, at time.Time) error
	MarkError(albumID uint, message string) error
	Delete(id uint) error
}

// UserRepository defines the methods for user data operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
	SetApproval(username string, approved bool, admin *bool) error
	Delete(id uint) error
	ListAll() ([]models.User, error)
}

var _ AlbumRepositoryInterface = (*AlbumRepository)(nil)
