package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RebuildRequest configures an index rebuild.
type RebuildRequest struct {
	Resume bool `json:"resume"`
}

// MatchRequest configures a matching run. Zero values use the configured
// defaults.
type MatchRequest struct {
	FuzzyThreshold float64 `json:"fuzzy_threshold,omitempty"`
	Limit          int     `json:"limit,omitempty"`
}

// bindOptional binds a JSON body that may be empty.
func bindOptional(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		SendInvalidJSONError(c, err)
		return false
	}
	return true
}

// RebuildIndexHandler starts a background rebuild of both indexes.
// Request Body (optional): RebuildRequest
func (api *API) RebuildIndexHandler(c *gin.Context) {
	var req RebuildRequest
	if !bindOptional(c, &req) {
		return
	}

	jobID, err := api.engine.ReindexAllAsync(req.Resume)
	if err != nil {
		SendJobExecutionError(c, "reindex", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"message": "Index rebuild started",
		"job_id":  jobID,
		"resume":  req.Resume,
	})
}

// RepairIndexHandler starts a background sweep of orphan postings.
func (api *API) RepairIndexHandler(c *gin.Context) {
	jobID, err := api.engine.RepairIndexAsync()
	if err != nil {
		SendJobExecutionError(c, "repair index", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"message": "Index repair started",
		"job_id":  jobID,
	})
}

// RunMatchingHandler starts a background matching run. The job result holds
// the per-stage report.
// Request Body (optional): MatchRequest
func (api *API) RunMatchingHandler(c *gin.Context) {
	var req MatchRequest
	if !bindOptional(c, &req) {
		return
	}
	if result := ValidateMatchRequest(req); result.HasErrors() {
		SendValidationError(c, result)
		return
	}

	jobID, err := api.engine.RunMatchingPipelineAsync(req.FuzzyThreshold, req.Limit)
	if err != nil {
		SendJobExecutionError(c, "matching", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"message": "Matching run started",
		"job_id":  jobID,
	})
}

// GetMatchStatisticsHandler returns the match state summary.
func (api *API) GetMatchStatisticsHandler(c *gin.Context) {
	stats, err := api.engine.GetMatchStatistics(c.Request.Context())
	if err != nil {
		SendEngineError(c, "read match statistics", ErrorCodeMatchingFailed, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
