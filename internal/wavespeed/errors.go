package wavespeed

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderSubmission marks every rejection of a job submission.
	ErrProviderSubmission = errors.New("provider rejected the job submission")
	// ErrMissingJobID is returned when a 2xx submission response carries no job id.
	ErrMissingJobID = errors.New("provider response has no job id")
	// ErrNoOutputProduced is returned when a job completes with an empty output list.
	ErrNoOutputProduced = errors.New("provider completed the job without output")
	// ErrProviderJobFailed marks a job the provider reported as failed.
	ErrProviderJobFailed = errors.New("provider job failed")
	// ErrPollTimeout marks a job that never reached a terminal state within the attempt budget.
	ErrPollTimeout = errors.New("provider job did not finish in time")
)

// ProviderError carries a non-2xx answer from the provider, message kept verbatim.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return ErrProviderSubmission }

type JobFailedError struct {
	RequestID string
	Reason    string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.RequestID, e.Reason)
}

func (e *JobFailedError) Unwrap() error { return ErrProviderJobFailed }

type PollTimeoutError struct {
	RequestID      string
	Attempts       int
	ElapsedSeconds int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s still pending after %d polls (%ds)", e.RequestID, e.Attempts, e.ElapsedSeconds)
}

func (e *PollTimeoutError) Unwrap() error { return ErrPollTimeout }
