package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeProcessMessage parses an inbound message and commits the result.
	JobTypeProcessMessage JobType = "process_message"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ProcessMessageJob is one chat message or receipt waiting to be parsed and
// committed to the ledger.
type ProcessMessageJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Text is the user's message. May be empty when a receipt is attached.
	Text string `json:"text,omitempty"`

	// ReceiptURI is the gs:// URI of an archived receipt image.
	ReceiptURI string `json:"receipt_uri,omitempty"`

	// ImageMIMEType is the content type of the receipt.
	ImageMIMEType string `json:"image_mime_type,omitempty"`

	// Image holds the receipt bytes when no archive bucket is configured.
	Image []byte `json:"-"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// Result is the commit outcome once the job has run.
	Result *domain.CommitResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ProcessMessageJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ProcessMessageJob) GetType() JobType {
	return JobTypeProcessMessage
}

// GetStatus implements the Job interface.
func (j *ProcessMessageJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishMessage publishes a message processing job.
	PublishMessage(ctx context.Context, job *ProcessMessageJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// Errors are retried unless wrapped with Permanent.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ProcessMessageJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ProcessMessageJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessMessageJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// ErrJobNotFound is returned by stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. Anything that may have written to the
// ledger is permanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
