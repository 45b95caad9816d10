package job

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type State string

const (
	Pending    State = "pending"
	Queued     State = "queued"
	Processing State = "processing"
	Completed  State = "completed"
	Failed     State = "failed"
)

// DefaultMaxRetries bounds automatic re-attempts of a failed job.
const DefaultMaxRetries = 3

// Terminal reports whether s can still change automatically. Failed is
// terminal only once retries are exhausted, see Job.Terminal.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

var transitions = map[State][]State{
	Pending:    {Queued},
	Queued:     {Processing, Failed},
	Processing: {Completed, Failed, Queued},
	Failed:     {Queued},
}

func canMove(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// Result summarises a completed job.
type Result struct {
	Qualities       []string `json:"qualities"`
	ManifestKey     string   `json:"manifestKey"`
	DurationSeconds float64  `json:"durationSeconds"`
	ThumbnailKeys   []string `json:"thumbnailKeys"`
}

type Job struct {
	ID              string     `json:"id"`
	SourceAssetID   string     `json:"sourceAssetId"`
	OwnerID         string     `json:"ownerId"`
	State           State      `json:"state"`
	Ladder          []string   `json:"ladder,omitempty"`
	ProgressPercent float64    `json:"progressPercent"`
	CurrentStep     string     `json:"currentStep,omitempty"`
	OverallStep     string     `json:"overallStep,omitempty"`
	RetryCount      int        `json:"retryCount"`
	MaxRetries      int        `json:"maxRetries"`
	Error           string     `json:"error,omitempty"`
	Result          *Result    `json:"result,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	NextAttemptAt   *time.Time `json:"nextAttemptAt,omitempty"`
}

func New(sourceAssetID, ownerID string, maxRetries int) *Job {
	now := time.Now().UTC()

	return &Job{
		ID:            uuid.New().String(),
		SourceAssetID: sourceAssetID,
		OwnerID:       ownerID,
		State:         Pending,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (j *Job) move(to State) error {
	if !canMove(j.State, to) {
		return errors.Errorf("job %s: invalid transition %s -> %s", j.ID, j.State, to)
	}

	j.State = to
	j.UpdatedAt = time.Now().UTC()

	return nil
}

// MarkQueued accepts a pending job into the queue.
func (j *Job) MarkQueued() error {
	if j.State != Pending {
		return errors.Errorf("job %s: only pending jobs can be queued, got %s", j.ID, j.State)
	}

	return j.move(Queued)
}

// MarkProcessing starts an attempt.
func (j *Job) MarkProcessing() error {
	if err := j.move(Processing); err != nil {
		return err
	}

	j.NextAttemptAt = nil
	j.ProgressPercent = 0
	j.CurrentStep = ""
	j.OverallStep = ""

	return nil
}

func (j *Job) MarkCompleted(result Result) error {
	if err := j.move(Completed); err != nil {
		return err
	}

	j.Result = &result
	j.Error = ""

	return nil
}

// MarkFailed ends the attempt with cause.
func (j *Job) MarkFailed(cause error) error {
	if err := j.move(Failed); err != nil {
		return err
	}

	if cause != nil {
		j.Error = cause.Error()
	}

	return nil
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// ScheduleRetry moves a failed job back to the queue and returns the
// number of the retry being scheduled, starting at 1.
func (j *Job) ScheduleRetry(at time.Time) (int, error) {
	if j.State != Failed {
		return 0, errors.Errorf("job %s: only failed jobs can be retried, got %s", j.ID, j.State)
	}

	if !j.CanRetry() {
		return 0, errors.Errorf("job %s: retries exhausted (%d/%d)", j.ID, j.RetryCount, j.MaxRetries)
	}

	if err := j.move(Queued); err != nil {
		return 0, err
	}

	j.RetryCount++
	j.Error = ""
	at = at.UTC()
	j.NextAttemptAt = &at

	return j.RetryCount, nil
}

// Interrupt puts a job whose attempt was stopped by a shutdown back in the
// queue without consuming a retry.
func (j *Job) Interrupt() error {
	if j.State != Processing {
		return errors.Errorf("job %s: only processing jobs can be interrupted, got %s", j.ID, j.State)
	}

	return j.move(Queued)
}

// Terminal reports whether the job reached a state with no automatic way
// out.
func (j *Job) Terminal() bool {
	switch j.State {
	case Completed:
		return true
	case Failed:
		return !j.CanRetry()
	}

	return false
}

// Progress records the active sub-phase.
func (j *Job) Progress(percent float64, currentStep, overallStep string) {
	j.ProgressPercent = percent
	j.CurrentStep = currentStep
	j.OverallStep = overallStep
	j.UpdatedAt = time.Now().UTC()
}

// Status is what polling clients see.
type Status struct {
	ID              string  `json:"id" yaml:"id"`
	OwnerID         string  `json:"ownerId" yaml:"ownerId"`
	State           State   `json:"state" yaml:"state"`
	ProgressPercent float64 `json:"progressPercent" yaml:"progressPercent"`
	CurrentStep     string  `json:"currentStep,omitempty" yaml:"currentStep,omitempty"`
	OverallStep     string  `json:"overallStep,omitempty" yaml:"overallStep,omitempty"`
	RetryCount      int     `json:"retryCount" yaml:"retryCount"`
	Result          *Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error           string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func (j *Job) Status() Status {
	s := Status{
		ID:              j.ID,
		OwnerID:         j.OwnerID,
		State:           j.State,
		ProgressPercent: j.ProgressPercent,
		CurrentStep:     j.CurrentStep,
		OverallStep:     j.OverallStep,
		RetryCount:      j.RetryCount,
	}

	switch j.State {
	case Completed:
		s.Result = j.Result
	case Failed:
		s.Error = j.Error
	}

	return s
}
