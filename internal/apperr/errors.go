// Package apperr holds the error values shared across service layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// ArtifactNotFoundError reports that no record exists for ID.
type ArtifactNotFoundError struct {
	ID string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not found", e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *ArtifactNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound returns an *ArtifactNotFoundError for id.
func NotFound(id string) error {
	return &ArtifactNotFoundError{ID: id}
}
