package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-track-reconciler/services"
)

// SearchRequest defines the structure for search queries.
type SearchRequest struct {
	Query          string         `json:"query"`
	Limit          int            `json:"limit,omitempty"`
	Offset         int            `json:"offset,omitempty"`
	FuzzyThreshold float64        `json:"fuzzy_threshold,omitempty"`
	Scope          services.Scope `json:"scope,omitempty"`
}

func (r SearchRequest) options() services.SearchOptions {
	return services.SearchOptions{
		Limit:          r.Limit,
		Offset:         r.Offset,
		FuzzyThreshold: r.FuzzyThreshold,
		Scope:          r.Scope,
	}
}

// MultiSearchRequest represents the JSON request for multi-search
type MultiSearchRequest struct {
	Queries []NamedSearchRequest `json:"queries" binding:"required"`
}

// NamedSearchRequest represents a single named search query in the request
type NamedSearchRequest struct {
	Name string `json:"name" binding:"required"`
	SearchRequest
}

// SearchHandler handles search requests. A query without matches answers
// 200 with an empty hit list.
// Request Body: SearchRequest
func (api *API) SearchHandler(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendError(c, http.StatusBadRequest, ErrorCodeInvalidQuery, "Invalid request body: "+err.Error())
		return
	}

	if result := ValidateSearchOptions("", req.options()); result.HasErrors() {
		SendValidationError(c, result)
		return
	}

	results, err := api.engine.Search(c.Request.Context(), req.Query, req.options())
	if err != nil {
		SendEngineError(c, "search", ErrorCodeSearchFailed, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// MultiSearchHandler runs several named searches in one request.
// Request Body: MultiSearchRequest
func (api *API) MultiSearchHandler(c *gin.Context) {
	var req MultiSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendError(c, http.StatusBadRequest, ErrorCodeInvalidQuery, "Invalid request body: "+err.Error())
		return
	}

	validation := &ValidationResult{Valid: true}
	if len(req.Queries) == 0 {
		validation.AddError("queries", "At least one query is required")
	}
	query := services.MultiSearchQuery{Queries: make([]services.NamedSearchQuery, 0, len(req.Queries))}
	for i, q := range req.Queries {
		field := fmt.Sprintf("queries[%d].", i)
		if q.Name == "" {
			validation.AddError(field+"name", "Query name is required")
		}
		for _, e := range ValidateSearchOptions(field, q.options()).Errors {
			validation.AddError(e.Field, e.Message)
		}
		query.Queries = append(query.Queries, services.NamedSearchQuery{
			Name:    q.Name,
			Query:   q.Query,
			Options: q.options(),
		})
	}
	if validation.HasErrors() {
		SendValidationError(c, validation)
		return
	}

	results, err := api.engine.MultiSearch(c.Request.Context(), query)
	if err != nil {
		SendEngineError(c, "multi-search", ErrorCodeSearchFailed, err)
		return
	}

	c.JSON(http.StatusOK, results)
}
