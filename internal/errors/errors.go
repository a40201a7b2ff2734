package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrEntityNotFound is returned when a library file or reference is not found
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrIndexInconsistency is returned when a posting points at an entity that no longer exists
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrStorage is returned when the persistence backend rejects a read or write
	ErrStorage = errors.New("storage failure")

	// ErrJobNotFound is returned when a job is not found
	ErrJobNotFound = errors.New("job not found")
)

// EntityNotFoundError represents a missing entity with context
type EntityNotFoundError struct {
	Class string
	ID    int64
	Key   string
}

func (e *EntityNotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s entity '%s' not found", e.Class, e.Key)
	}
	return fmt.Sprintf("%s entity with ID %d not found", e.Class, e.ID)
}

func (e *EntityNotFoundError) Is(target error) bool {
	return target == ErrEntityNotFound
}

// NewEntityNotFoundError creates a new EntityNotFoundError for an entity ID
func NewEntityNotFoundError(class string, id int64) *EntityNotFoundError {
	return &EntityNotFoundError{Class: class, ID: id}
}

// NewEntityKeyNotFoundError creates a new EntityNotFoundError for a natural key such as a path
func NewEntityKeyNotFoundError(class, key string) *EntityNotFoundError {
	return &EntityNotFoundError{Class: class, Key: key}
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// OrphanPostingError reports postings that reference entities absent from the store
type OrphanPostingError struct {
	Class     string
	EntityIDs []int64
}

func (e *OrphanPostingError) Error() string {
	return fmt.Sprintf("%d orphan posting owner(s) in %s index: %v", len(e.EntityIDs), e.Class, e.EntityIDs)
}

func (e *OrphanPostingError) Is(target error) bool {
	return target == ErrIndexInconsistency
}

// NewOrphanPostingError creates a new OrphanPostingError
func NewOrphanPostingError(class string, entityIDs []int64) *OrphanPostingError {
	return &OrphanPostingError{Class: class, EntityIDs: entityIDs}
}

// StorageError wraps a failure of the persistence backend
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation '%s' failed: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// JobNotFoundError represents a job not found error with context
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job with ID '%s' not found", e.JobID)
}

func (e *JobNotFoundError) Is(target error) bool {
	return target == ErrJobNotFound
}

// NewJobNotFoundError creates a new JobNotFoundError
func NewJobNotFoundError(jobID string) *JobNotFoundError {
	return &JobNotFoundError{JobID: jobID}
}
