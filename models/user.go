package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is an account. Only approved users may sign in.
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Username     string    `json:"username" gorm:"uniqueIndex;not null;size:150"`
	Email        string    `json:"email" gorm:"not null;default:''"`
	FirstName    string    `json:"first_name" gorm:"not null;default:''"`
	LastName     string    `json:"last_name" gorm:"not null;default:''"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Approved     bool      `json:"approved" gorm:"not null;default:false"`
	IsAdmin      bool      `json:"is_admin" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (User) TableName() string {
	return "users"
}

// SetPassword hashes the given password and sets it on the user model.
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword verifies if the given password matches the user's hashed password.
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}
