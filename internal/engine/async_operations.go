package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/gcbaptista/go-track-reconciler/internal/jobs"
	"github.com/gcbaptista/go-track-reconciler/model"
	"github.com/gcbaptista/go-track-reconciler/services"
)

const scopeAll = string(services.ScopeAll)

// ReindexAllAsync rebuilds both indexes in a background job.
func (e *Engine) ReindexAllAsync(resume bool) (string, error) {
	jobID := e.jobManager.CreateJob(model.JobTypeReindex, scopeAll, map[string]string{
		"operation": "reindex_all",
		"resume":    strconv.FormatBool(resume),
	})

	err := e.jobManager.ExecuteJob(jobID, func(ctx context.Context, job model.Job) (interface{}, error) {
		return e.executeReindexJob(ctx, resume, job.ID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to start reindex job: %w", err)
	}

	return jobID, nil
}

// executeReindexJob executes the reindex job.
func (e *Engine) executeReindexJob(ctx context.Context, resume bool, jobID string) (interface{}, error) {
	e.jobManager.UpdateJobProgress(jobID, 0, 0, "Starting reindex")

	reports, err := e.reindexAll(ctx, resume, func(processed, total int, message string) {
		e.jobManager.UpdateJobProgress(jobID, processed, total, message)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Reindexed %d entity classes (async, resume: %t).", len(reports), resume)
	return reports, nil
}

// RepairIndexAsync removes orphan postings in a background job.
func (e *Engine) RepairIndexAsync() (string, error) {
	jobID := e.jobManager.CreateJob(model.JobTypeRepairIndex, scopeAll, map[string]string{
		"operation": "repair_index",
	})

	err := e.jobManager.ExecuteJob(jobID, func(ctx context.Context, job model.Job) (interface{}, error) {
		repaired, err := e.RepairIndex(ctx)
		if err != nil {
			return nil, err
		}
		log.Printf("Repaired index (async): %v", repaired)
		return repaired, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to start repair index job: %w", err)
	}

	return jobID, nil
}

// RunMatchingPipelineAsync runs the matching pipeline in a background job.
// The job result is the pipeline report.
func (e *Engine) RunMatchingPipelineAsync(threshold float64, limit int) (string, error) {
	jobID := e.jobManager.CreateJob(model.JobTypeMatching, scopeAll, map[string]string{
		"operation":       "run_matching",
		"fuzzy_threshold": strconv.FormatFloat(threshold, 'f', -1, 64),
		"limit":           strconv.Itoa(limit),
	})

	err := e.jobManager.ExecuteJob(jobID, func(ctx context.Context, job model.Job) (interface{}, error) {
		return e.executeMatchingJob(ctx, threshold, limit, job.ID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to start matching job: %w", err)
	}

	return jobID, nil
}

// executeMatchingJob executes the matching job.
func (e *Engine) executeMatchingJob(ctx context.Context, threshold float64, limit int, jobID string) (interface{}, error) {
	report, err := e.runMatching(ctx, services.MatchOptions{
		FuzzyThreshold: threshold,
		Limit:          limit,
		Progress: func(current, total int, message string) {
			e.jobManager.UpdateJobProgress(jobID, current, total, message)
		},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Matching run %s finished (async): %d/%d matched.", report.RunID, report.Statistics.Matched, report.Statistics.Total)
	return report, nil
}

// GetJob returns the job with the given ID.
func (e *Engine) GetJob(jobID string) (*model.Job, error) {
	return e.jobManager.GetJob(jobID)
}

// ListJobs returns jobs of a scope ("" for all), optionally filtered by status.
func (e *Engine) ListJobs(scope string, status *model.JobStatus) []*model.Job {
	return e.jobManager.ListJobs(scope, status)
}

// CancelJob cancels a running job.
func (e *Engine) CancelJob(jobID string) error {
	return e.jobManager.CancelJob(jobID)
}

// GetJobMetrics returns job performance metrics.
func (e *Engine) GetJobMetrics() jobs.JobMetricsData {
	return e.jobManager.GetMetrics()
}

// GetJobSuccessRate returns the overall job success rate.
func (e *Engine) GetJobSuccessRate() float64 {
	return e.jobManager.GetJobSuccessRate()
}

// GetCurrentWorkload returns the number of pending and running jobs.
func (e *Engine) GetCurrentWorkload() int64 {
	return e.jobManager.GetCurrentWorkload()
}
