package services

import (
	"errors"
	"strings"
)

var (
	ErrAlbumNotFound      = errors.New("album not found")
	ErrSourceMissing      = errors.New("album source directory is missing")
	ErrNothingConverted   = errors.New("no image could be converted")
	ErrQueueFull          = errors.New("conversion queue is full")
	ErrNoValidFiles       = errors.New("no valid file uploaded")
	ErrInvalidAlbumName   = errors.New("invalid album name")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotApproved        = errors.New("account not approved")
	ErrInvalidToken       = errors.New("invalid session token")
)

// ValidationError carries field-level messages for a rejected form.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
