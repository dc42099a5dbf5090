package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownNode      = errors.New("node not found in workflow document")
	ErrExecutionTimeout = errors.New("timed out waiting for execution to complete")
	ErrHistoryNotFound  = errors.New("no history entry for job")
	ErrNoArtifacts      = errors.New("execution produced no artifacts")
)

// ConfigError reports unusable stored configuration. Fatal for the
// request; never retried.
type ConfigError struct {
	Mode   GenerationMode
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s configuration: %s: %v", e.Mode, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s configuration: %s", e.Mode, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MappingError reports a rule that could not be applied to the
// workflow document. Indicates misconfiguration, fatal per request.
type MappingError struct {
	RuleIndex int
	NodeID    string
	Reason    string
	Err       error
}

func (e *MappingError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("mapping rule %d: node %q: %s", e.RuleIndex, e.NodeID, e.Reason)
	}
	return fmt.Sprintf("mapping rule %d: %s", e.RuleIndex, e.Reason)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// UploadError reports a failed input-image upload. Transient; the
// orchestrator retries a bounded number of times before surfacing it.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %q: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// SubmissionError reports that the backend rejected the mutated graph.
// Fatal; carries the backend's detail for diagnostics.
type SubmissionError struct {
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend rejected workflow: %s", e.Detail)
	}
	return fmt.Sprintf("backend rejected workflow: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// TransportError reports an event-channel failure while waiting for
// completion. The backend job may still finish asynchronously; the
// client gives up waiting.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("event channel failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
