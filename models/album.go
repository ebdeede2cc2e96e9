package models

import "time"

const (
	StatusPending    = "pending"
	StatusConverting = "converting"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Album is one uploaded collection of images and the state of its most
// recent conversion run. It corresponds to the 'albums' table.
type Album struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string     `gorm:"not null;size:255" json:"name"`
	OldPath            string     `gorm:"not null" json:"old_path"`
	NewPath            *string    `gorm:"" json:"new_path,omitempty"` // Nullable, unused after the in-place swap
	Date               time.Time  `gorm:"not null;index" json:"date"`
	FileCount          int        `gorm:"not null;default:0" json:"file_count"`
	ConversionDate     *time.Time `gorm:"" json:"conversion_date,omitempty"` // set on successful completion only
	ConversionStatus   string     `gorm:"not null;default:pending;size:20" json:"conversion_status"`
	ConversionProgress int        `gorm:"not null;default:0" json:"conversion_progress"`
	CurrentFileIndex   int        `gorm:"not null;default:0" json:"current_file_index"`
	CurrentFileName    string     `gorm:"not null;default:''" json:"current_file_name"`
	ConversionError    *string    `gorm:"" json:"conversion_error,omitempty"` // Nullable
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (Album) TableName() string {
	return "albums"
}

// IsConverting reports whether a run currently owns the album's progress fields.
func (a *Album) IsConverting() bool {
	return a.ConversionStatus == StatusConverting
}
