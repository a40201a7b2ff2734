package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestEntityNotFoundError(t *testing.T) {
	err := NewEntityNotFoundError("library", 42)

	expectedMsg := "library entity with ID 42 not found"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, err.Error())
	}

	if !errors.Is(err, ErrEntityNotFound) {
		t.Error("Expected error to match ErrEntityNotFound sentinel")
	}

	if errors.Is(err, ErrStorage) {
		t.Error("Error should not match ErrStorage")
	}

	keyErr := NewEntityKeyNotFoundError("reference", "/music/a.mp3")
	expectedMsg = "reference entity '/music/a.mp3' not found"
	if keyErr.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, keyErr.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("limit", "must be positive")

	expectedMsg := "validation error for field 'limit': must be positive"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, err.Error())
	}

	noField := NewValidationError("", "bad request")
	if noField.Error() != "validation error: bad request" {
		t.Errorf("Unexpected message: %s", noField.Error())
	}

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("Expected error to match ErrInvalidInput sentinel")
	}
}

func TestOrphanPostingError(t *testing.T) {
	err := NewOrphanPostingError("library", []int64{3, 9})

	if !errors.Is(err, ErrIndexInconsistency) {
		t.Error("Expected error to match ErrIndexInconsistency sentinel")
	}
	expectedMsg := "2 orphan posting owner(s) in library index: [3 9]"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, err.Error())
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := NewStorageError("replace postings", cause)

	if !errors.Is(err, ErrStorage) {
		t.Error("Expected error to match ErrStorage sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to unwrap to its cause")
	}

	wrapped := fmt.Errorf("rebuild failed: %w", err)
	if !errors.Is(wrapped, ErrStorage) {
		t.Error("Expected wrapped error to match ErrStorage sentinel")
	}

	if NewStorageError("noop", nil) != nil {
		t.Error("Expected nil error for nil cause")
	}
}

func TestJobNotFoundError(t *testing.T) {
	jobID := "job-456"
	err := NewJobNotFoundError(jobID)

	expectedMsg := "job with ID 'job-456' not found"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, err.Error())
	}

	if !errors.Is(err, ErrJobNotFound) {
		t.Error("Expected error to match ErrJobNotFound sentinel")
	}
}
