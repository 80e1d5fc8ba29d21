package core

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that a text or job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates that the requester does not own the resource.
	ErrPermissionDenied = errors.New("not enough permissions")
	// ErrInvalidRequest indicates a malformed synthesis request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidState indicates an operation not allowed in the job's current state.
	ErrInvalidState = errors.New("invalid job state")
	// ErrSegmentationEmpty indicates that the text produced no chunks.
	ErrSegmentationEmpty = errors.New("no content to synthesize")
	// ErrEngineUnavailable indicates that no TTS backend could be selected.
	ErrEngineUnavailable = errors.New("no TTS engine available")
	// ErrSynthesisFailed indicates that a chunk could not be synthesized.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrAssemblyFailed indicates that clips could not be measured or joined.
	ErrAssemblyFailed = errors.New("audio assembly failed")
	// ErrUploadFailed indicates that an artifact backend rejected an upload.
	ErrUploadFailed = errors.New("artifact upload failed")
	// ErrPersistence indicates that the repository could not record a result.
	ErrPersistence = errors.New("persistence failed")
)

// FailureCode is the machine readable reason stored on a failed job.
type FailureCode string

const (
	FailureTextNotFound      FailureCode = "text_not_found"
	FailureSegmentationEmpty FailureCode = "segmentation_empty"
	FailureEngineUnavailable FailureCode = "engine_unavailable"
	FailureSynthesis         FailureCode = "synthesis_failure"
	FailureAssembly          FailureCode = "assembly_failure"
	FailureTimeout           FailureCode = "timeout"
	FailurePersistence       FailureCode = "persistence_failure"
	FailureInternal          FailureCode = "internal"
)

// Failure is the error recorded on a failed job.
type Failure struct {
	Code    FailureCode
	Message string
}

// ClassifyFailure maps a pipeline error to its failure code.
func ClassifyFailure(err error) FailureCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrPersistence):
		return FailurePersistence
	case errors.Is(err, ErrNotFound):
		return FailureTextNotFound
	case errors.Is(err, ErrSegmentationEmpty):
		return FailureSegmentationEmpty
	case errors.Is(err, ErrEngineUnavailable):
		return FailureEngineUnavailable
	case errors.Is(err, ErrSynthesisFailed):
		return FailureSynthesis
	case errors.Is(err, ErrAssemblyFailed):
		return FailureAssembly
	default:
		return FailureInternal
	}
}
