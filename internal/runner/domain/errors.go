package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job id is unknown to the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an update would move a job
	// backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Failure kinds recorded on jobs that reached error. Validation failures
// are surfaced synchronously at submission and never create a job.
const (
	FailureValidation       = "validation"
	FailureInteraction      = "interaction"
	FailureDetectionTimeout = "detection_timeout"
	FailureWorkerFault      = "worker_fault"
)

// Failure is the classified reason a job ended in error.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return f.Kind + ": " + f.Message
}

// NewFailure builds a classified failure from an underlying error.
func NewFailure(kind string, err error) *Failure {
	return &Failure{Kind: kind, Message: err.Error()}
}

// ValidationError reports a malformed submission. It is returned to the
// caller before any job record exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks submission parameters before a job is accepted.
func (p Params) Validate() error {
	if p.Prompt == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if p.StoryID == "" {
		return &ValidationError{Field: "story_id", Reason: "must not be empty"}
	}
	if p.Scene < 1 {
		return &ValidationError{Field: "scene", Reason: "must be >= 1"}
	}
	if n := len(p.FrameImages); n != 0 && n != 2 {
		return &ValidationError{Field: "frame_images", Reason: "must contain exactly two images when present"}
	}
	return nil
}
