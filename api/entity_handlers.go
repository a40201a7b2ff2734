package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-track-reconciler/index"
	"github.com/gcbaptista/go-track-reconciler/model"
)

// AddLibraryFilesHandler adds or updates library files. Accepts a single
// file object or an array of them.
func (api *API) AddLibraryFilesHandler(c *gin.Context) {
	var files []model.LibraryFile
	if !bindOneOrMany(c, &files) {
		return
	}

	if result := ValidateLibraryFiles(files); result.HasErrors() {
		SendValidationError(c, result)
		return
	}

	stored, err := api.engine.AddLibraryFiles(c.Request.Context(), files)
	if err != nil {
		SendEngineError(c, "add library files", ErrorCodeIndexingFailed, err)
		return
	}

	log.Printf("Info: Stored %d library files", len(stored))
	c.JSON(http.StatusOK, gin.H{
		"message": "Library files added/updated",
		"count":   len(stored),
		"files":   stored,
	})
}

// GetLibraryFileHandler returns one library file.
func (api *API) GetLibraryFileHandler(c *gin.Context) {
	id, result := ValidateEntityID(c.Param("id"))
	if result.HasErrors() {
		SendValidationError(c, result)
		return
	}

	file, err := api.engine.GetLibraryFile(c.Request.Context(), id)
	if err != nil {
		SendEngineError(c, "get library file", ErrorCodeInternalError, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// DeleteLibraryFileHandler deletes a library file and its postings.
func (api *API) DeleteLibraryFileHandler(c *gin.Context) {
	id, result := ValidateEntityID(c.Param("id"))
	if result.HasErrors() {
		SendValidationError(c, result)
		return
	}

	if err := api.engine.RemoveLibraryFile(c.Request.Context(), id); err != nil {
		SendEngineError(c, "delete library file", ErrorCodeIndexingFailed, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Library file deleted", "id": id})
}

// AddReferencesHandler adds or updates references. Accepts a single
// reference object or an array of them. Match state sent by the client is
// ignored.
func (api *API) AddReferencesHandler(c *gin.Context) {
	var refs []model.Reference
	if !bindOneOrMany(c, &refs) {
		return
	}

	if result := ValidateReferences(refs); result.HasErrors() {
		SendValidationError(c, result)
		return
	}
	for i := range refs {
		refs[i].Matched = false
		refs[i].MatchedEntityID = 0
		refs[i].MatchStage = ""
		refs[i].MatchScore = 0
	}

	stored, err := api.engine.AddReferences(c.Request.Context(), refs)
	if err != nil {
		SendEngineError(c, "add references", ErrorCodeIndexingFailed, err)
		return
	}

	log.Printf("Info: Stored %d references", len(stored))
	c.JSON(http.StatusOK, gin.H{
		"message":    "References added/updated",
		"count":      len(stored),
		"references": stored,
	})
}

// GetReferenceHandler returns one reference with its match state.
func (api *API) GetReferenceHandler(c *gin.Context) {
	id, result := ValidateEntityID(c.Param("id"))
	if result.HasErrors() {
		SendValidationError(c, result)
		return
	}

	ref, err := api.engine.GetReference(c.Request.Context(), id)
	if err != nil {
		SendEngineError(c, "get reference", ErrorCodeInternalError, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

// DeleteReferenceHandler deletes a reference and its postings.
func (api *API) DeleteReferenceHandler(c *gin.Context) {
	id, result := ValidateEntityID(c.Param("id"))
	if result.HasErrors() {
		SendValidationError(c, result)
		return
	}

	if err := api.engine.RemoveReference(c.Request.Context(), id); err != nil {
		SendEngineError(c, "delete reference", ErrorCodeIndexingFailed, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reference deleted", "id": id})
}

// FindByNameHandler returns a handler listing the entities of class whose
// normalized name contains the ?contains= fragment.
// Query: contains (required), limit (optional, 0 means no limit)
func (api *API) FindByNameHandler(class index.EntityClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		contains := c.Query("contains")
		result := &ValidationResult{Valid: true}
		if contains == "" {
			result.AddError("contains", "Query parameter 'contains' is required")
		}
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 || parsed > MaxSearchLimit {
				result.AddError("limit", "Limit must be between 0 and "+strconv.Itoa(MaxSearchLimit))
			}
			limit = parsed
		}
		if result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		entities, err := api.engine.FindByName(c.Request.Context(), class, contains, limit)
		if err != nil {
			SendEngineError(c, "find by name", ErrorCodeSearchFailed, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"class":    class,
			"contains": contains,
			"entities": entities,
			"total":    len(entities),
		})
	}
}
