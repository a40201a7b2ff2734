package jobs

import (
	"sync"
	"time"

	"github.com/gcbaptista/go-track-reconciler/model"
)

// recentRuns bounds the execution times kept per job type.
const recentRuns = 100

// JobTypeMetrics counts the jobs of one type: reindex, repair_index or
// matching.
type JobTypeMetrics struct {
	Created       int64         `json:"created"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Cancelled     int64         `json:"cancelled"`
	RecentAverage time.Duration `json:"recent_average_ns"` // Over the last completed runs
	LastFinished  time.Time     `json:"last_finished,omitempty"`
}

// JobMetricsData is a point-in-time copy of the collector.
type JobMetricsData struct {
	JobsCreated          int64                            `json:"jobs_created"`
	JobsCompleted        int64                            `json:"jobs_completed"`
	JobsFailed           int64                            `json:"jobs_failed"`
	JobsCancelled        int64                            `json:"jobs_cancelled"`
	SuccessRate          float64                          `json:"success_rate"`
	CurrentWorkload      int64                            `json:"current_workload"`
	TotalExecutionTime   time.Duration                    `json:"total_execution_time_ns"`
	AverageExecutionTime time.Duration                    `json:"average_execution_time_ns"`
	ByType               map[model.JobType]JobTypeMetrics `json:"by_type"`
	JobsByStatus         map[model.JobStatus]int64        `json:"jobs_by_status"`
	LastUpdated          time.Time                        `json:"last_updated"`
}

type typeCounters struct {
	JobTypeMetrics
	recent []time.Duration
}

// JobMetrics collects counters for reindex, repair and matching jobs.
type JobMetrics struct {
	mu             sync.RWMutex
	created        int64
	completed      int64
	failed         int64
	cancelled      int64
	totalExecution time.Duration
	byType         map[model.JobType]*typeCounters
	byStatus       map[model.JobStatus]int64
	lastUpdated    time.Time
}

// NewJobMetrics creates an empty collector.
func NewJobMetrics() *JobMetrics {
	return &JobMetrics{
		byType:      make(map[model.JobType]*typeCounters),
		byStatus:    make(map[model.JobStatus]int64),
		lastUpdated: time.Now(),
	}
}

func (m *JobMetrics) typeLocked(jobType model.JobType) *typeCounters {
	tc, ok := m.byType[jobType]
	if !ok {
		tc = &typeCounters{}
		m.byType[jobType] = tc
	}
	return tc
}

// RecordJobCreated counts a new pending job.
func (m *JobMetrics) RecordJobCreated(jobType model.JobType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.created++
	m.typeLocked(jobType).Created++
	m.byStatus[model.JobStatusPending]++
	m.lastUpdated = time.Now()
}

// RecordJobStatusChange moves one job between status counters.
func (m *JobMetrics) RecordJobStatusChange(oldStatus, newStatus model.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if oldStatus != "" && m.byStatus[oldStatus] > 0 {
		m.byStatus[oldStatus]--
	}
	m.byStatus[newStatus]++
	m.lastUpdated = time.Now()
}

// RecordJobCompleted counts a completed job and its execution time.
func (m *JobMetrics) RecordJobCompleted(jobType model.JobType, executionTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completed++
	m.totalExecution += executionTime

	tc := m.typeLocked(jobType)
	tc.Completed++
	tc.recent = append(tc.recent, executionTime)
	if len(tc.recent) > recentRuns {
		tc.recent = tc.recent[len(tc.recent)-recentRuns:]
	}
	tc.LastFinished = time.Now()
	m.lastUpdated = tc.LastFinished
}

// RecordJobFailed counts a failed job.
func (m *JobMetrics) RecordJobFailed(jobType model.JobType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failed++
	tc := m.typeLocked(jobType)
	tc.Failed++
	tc.LastFinished = time.Now()
	m.lastUpdated = tc.LastFinished
}

// RecordJobCancelled counts a job stopped by CancelJob or shutdown.
func (m *JobMetrics) RecordJobCancelled(jobType model.JobType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelled++
	tc := m.typeLocked(jobType)
	tc.Cancelled++
	tc.LastFinished = time.Now()
	m.lastUpdated = tc.LastFinished
}

// GetMetrics returns a copy of the current counters.
func (m *JobMetrics) GetMetrics() JobMetricsData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[model.JobType]JobTypeMetrics, len(m.byType))
	for jobType, tc := range m.byType {
		snapshot := tc.JobTypeMetrics
		snapshot.RecentAverage = average(tc.recent)
		byType[jobType] = snapshot
	}
	byStatus := make(map[model.JobStatus]int64, len(m.byStatus))
	for status, n := range m.byStatus {
		byStatus[status] = n
	}

	var avg time.Duration
	if m.completed > 0 {
		avg = m.totalExecution / time.Duration(m.completed)
	}

	return JobMetricsData{
		JobsCreated:          m.created,
		JobsCompleted:        m.completed,
		JobsFailed:           m.failed,
		JobsCancelled:        m.cancelled,
		SuccessRate:          m.successRateLocked(),
		CurrentWorkload:      m.currentWorkloadLocked(),
		TotalExecutionTime:   m.totalExecution,
		AverageExecutionTime: avg,
		ByType:               byType,
		JobsByStatus:         byStatus,
		LastUpdated:          m.lastUpdated,
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

// GetSuccessRate returns completed / (completed + failed), or 1 before any
// job has finished. Cancelled jobs do not count.
func (m *JobMetrics) GetSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successRateLocked()
}

func (m *JobMetrics) successRateLocked() float64 {
	finished := m.completed + m.failed
	if finished == 0 {
		return 1.0
	}
	return float64(m.completed) / float64(finished)
}

// GetCurrentWorkload returns the number of pending, running and cancelling jobs.
func (m *JobMetrics) GetCurrentWorkload() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentWorkloadLocked()
}

func (m *JobMetrics) currentWorkloadLocked() int64 {
	return m.byStatus[model.JobStatusPending] + m.byStatus[model.JobStatusRunning] + m.byStatus[model.JobStatusCancelling]
}
