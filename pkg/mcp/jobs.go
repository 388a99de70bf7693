package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether the job still holds the crawl slot
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background crawl over a projects file
type Job struct {
	ID             string    `json:"id"`
	ProjectsFile   string    `json:"projects_file"`
	Resume         bool      `json:"resume"`
	Status         JobStatus `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	ProjectsTotal  int       `json:"projects_total"`
	ProjectsDone   int       `json:"projects_done"`
	CurrentProject string    `json:"current_project,omitempty"`
	PendingFetches int       `json:"pending_fetches"`
	PagesTotal     int       `json:"pages_total"`
	ErrorMessage   string    `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobProgress is a progress update for a running job
type JobProgress struct {
	ProjectsDone   int
	CurrentProject string
	PendingFetches int
	PagesTotal     int
}

// JobManager tracks crawl jobs. At most one job is active at a time, since every
// job shares the same state directory.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	active string
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a new pending job. If another job is still active it is
// returned instead, with created=false.
func (m *JobManager) CreateJob(projectsFile string, resume bool, projectsTotal int) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.jobs[m.active]; existing != nil && existing.Status.IsActive() {
		return existing.snapshot(), false
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:            uuid.New().String(),
		ProjectsFile:  projectsFile,
		Resume:        resume,
		Status:        JobStatusPending,
		StartedAt:     time.Now(),
		ProjectsTotal: projectsTotal,
		ctx:           ctx,
		cancel:        cancel,
	}
	m.jobs[job.ID] = job
	m.active = job.ID
	return job.snapshot(), true
}

// snapshot copies the exported fields so callers never race with updates
func (j *Job) snapshot() *Job {
	c := *j
	c.ctx, c.cancel = nil, nil
	return &c
}

// GetJob returns a copy of the job, or nil if unknown
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.snapshot()
	}
	return nil
}

// ActiveJob returns a copy of the active job, or nil
func (m *JobManager) ActiveJob() *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[m.active]; ok && job.Status.IsActive() {
		return job.snapshot()
	}
	return nil
}

// UpdateStatus moves a job to status. Terminal statuses are final and release the active slot.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.IsActive() {
		return
	}
	job.Status = status
	if !status.IsActive() {
		job.CompletedAt = time.Now()
		job.cancel()
		if m.active == jobID {
			m.active = ""
		}
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// UpdateProgress records the latest progress of a job
func (m *JobManager) UpdateProgress(jobID string, p JobProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		job.ProjectsDone = p.ProjectsDone
		job.CurrentProject = p.CurrentProject
		job.PendingFetches = p.PendingFetches
		job.PagesTotal = p.PagesTotal
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.IsActive() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	if m.active == jobID {
		m.active = ""
	}
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.IsActive() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.active = ""
}

// GetContext returns the context a job's crawl runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
