// Package api exposes the reconciler over HTTP with gin.
package api

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-track-reconciler/model"
	"github.com/gcbaptista/go-track-reconciler/services"
)

// Request bounds.
const (
	MaxSearchLimit = 1000
	MaxBatchSize   = 10000
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of validation operations
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// AddError adds a validation error to the result
func (vr *ValidationResult) AddError(field, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// ValidateEntityID parses a positive numeric entity ID path parameter.
func ValidateEntityID(raw string) (int64, *ValidationResult) {
	result := &ValidationResult{Valid: true}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		result.AddError("id", fmt.Sprintf("'%s' is not a valid entity ID", raw))
		return 0, result
	}
	return id, result
}

func validateThreshold(result *ValidationResult, field string, threshold float64) {
	if threshold < 0 || threshold > 1 {
		result.AddError(field, "Threshold must be between 0 and 1")
	}
}

// ValidateSearchOptions validates paging, threshold and scope of a search.
func ValidateSearchOptions(field string, opts services.SearchOptions) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if opts.Limit < 0 || opts.Limit > MaxSearchLimit {
		result.AddError(field+"limit", fmt.Sprintf("Limit must be between 0 and %d", MaxSearchLimit))
	}
	if opts.Offset < 0 {
		result.AddError(field+"offset", "Offset must not be negative")
	}
	validateThreshold(result, field+"fuzzy_threshold", opts.FuzzyThreshold)
	if _, err := services.ParseScope(string(opts.Scope)); err != nil {
		result.AddError(field+"scope", err.Error())
	}
	return result
}

// ValidateLibraryFiles validates a batch of library files.
func ValidateLibraryFiles(files []model.LibraryFile) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if len(files) == 0 {
		result.AddError("files", "At least one library file is required")
		return result
	}
	if len(files) > MaxBatchSize {
		result.AddError("files", fmt.Sprintf("At most %d library files per request", MaxBatchSize))
		return result
	}

	seen := make(map[string]int, len(files))
	for i, f := range files {
		field := fmt.Sprintf("files[%d]", i)
		if f.Path == "" {
			result.AddError(field+".path", "Path is required")
			continue
		}
		if first, dup := seen[f.Path]; dup {
			result.AddError(field+".path", fmt.Sprintf("Duplicate path, already given at files[%d]", first))
			continue
		}
		seen[f.Path] = i
		if f.Size < 0 {
			result.AddError(field+".size", "Size must not be negative")
		}
	}
	return result
}

// ValidateReferences validates a batch of references.
func ValidateReferences(refs []model.Reference) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if len(refs) == 0 {
		result.AddError("references", "At least one reference is required")
		return result
	}
	if len(refs) > MaxBatchSize {
		result.AddError("references", fmt.Sprintf("At most %d references per request", MaxBatchSize))
		return result
	}

	seen := make(map[string]int, len(refs))
	for i, r := range refs {
		field := fmt.Sprintf("references[%d]", i)
		if r.Path == "" {
			result.AddError(field+".path", "Path is required")
			continue
		}
		if !r.SourceKind.Valid() {
			result.AddError(field+".source_kind", fmt.Sprintf("Source kind must be '%s' or '%s'", model.SourcePlaylist, model.SourceHistory))
			continue
		}
		if first, dup := seen[r.Key()]; dup {
			result.AddError(field+".path", fmt.Sprintf("Duplicate reference, already given at references[%d]", first))
			continue
		}
		seen[r.Key()] = i
	}
	return result
}

// ValidateMatchRequest validates the options of a matching run.
func ValidateMatchRequest(req MatchRequest) *ValidationResult {
	result := &ValidationResult{Valid: true}
	validateThreshold(result, "fuzzy_threshold", req.FuzzyThreshold)
	if req.Limit < 0 {
		result.AddError("limit", "Limit must not be negative")
	}
	return result
}

// SendValidationError sends a validation error response
func SendValidationError(c *gin.Context, result *ValidationResult) {
	SendStructuredValidationError(c, result)
}

// ValidateJSONBinding validates JSON binding and returns a standardized error
func ValidateJSONBinding(c *gin.Context, target interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if err := c.ShouldBindJSON(target); err != nil {
		result.AddError("request_body", "Invalid request body: "+err.Error())
	}

	return result
}
