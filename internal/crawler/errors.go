package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCrawlInProgress is wrapped by AlreadyRunningError.
	ErrCrawlInProgress = errors.New("crawl already in progress")
	// ErrInvalidTransition rejects job updates leaving a terminal state.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrExtractionEmpty marks a fetched page that yielded no usable fields.
	ErrExtractionEmpty = errors.New("no product data extracted")
	// ErrRenderTimeout is returned when a required element never appeared.
	ErrRenderTimeout = errors.New("timed out waiting for page element")
	// ErrPolicyDenied is wrapped by PolicyDeniedError.
	ErrPolicyDenied = errors.New("disallowed by robots policy")
)

// PolicyDeniedError carries the disallow rule that refused a fetch.
type PolicyDeniedError struct {
	URL  string
	Rule string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("%s: %s (rule %q)", ErrPolicyDenied, e.URL, e.Rule)
}

func (e *PolicyDeniedError) Unwrap() error { return ErrPolicyDenied }

// AlreadyRunningError is returned when a crawl is requested while another job runs.
type AlreadyRunningError struct {
	JobID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s: job %s is running", ErrCrawlInProgress, e.JobID)
}

func (e *AlreadyRunningError) Unwrap() error { return ErrCrawlInProgress }
