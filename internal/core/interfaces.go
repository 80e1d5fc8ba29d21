// Package core defines the domain types and the collaborator interfaces of the
// audio generation pipeline.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// TextRepository persists source text documents.
type TextRepository interface {
	Create(ctx context.Context, doc *TextDocument) (*TextDocument, error)
	GetByID(ctx context.Context, id string) (*TextDocument, error)
	UpdateStatus(ctx context.Context, id string, status TextStatus, errMsg string) error
}

// AudioRepository persists synthesis jobs. GetByID and GetByTextID return
// (nil, nil) when nothing matches.
type AudioRepository interface {
	Create(ctx context.Context, spec JobSpec) (*SynthesisJob, error)
	GetByID(ctx context.Context, id string) (*SynthesisJob, error)
	GetByTextID(ctx context.Context, textID string) (*SynthesisJob, error)
	UpdateStatus(ctx context.Context, id string, status JobStatus, failure *Failure) error
	UpdateWithSegments(ctx context.Context, id, url string, duration float64, segments []Segment) error
	ResetForRegeneration(ctx context.Context, id string) error
	ListByStatusBefore(ctx context.Context, statusPrefix string, before time.Time) ([]SynthesisJob, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Engine is the capability every speech synthesis backend provides.
type Engine interface {
	// Synthesize writes one audio clip for text to dest.
	Synthesize(ctx context.Context, text, dest string) error
	IsAvailable(ctx context.Context) bool
	SupportedVoices() []string
	SupportedFormats() []string
	Name() string
}

// EngineSelector resolves the engine serving a voice.
type EngineSelector interface {
	Select(ctx context.Context, voice string) (Engine, error)
}

// AudioAssembler measures and joins audio clips.
type AudioAssembler interface {
	Duration(ctx context.Context, path string) (float64, error)
	Concatenate(ctx context.Context, inputs []string, output, format string, sampleRate int) error
}

// ArtifactKey addresses one persisted artifact. Segment is negative for the
// whole-file artifact.
type ArtifactKey struct {
	Base    string
	Segment int
	Ext     string
}

// ArtifactUploader uploads the artifacts of a single job. Implementations
// keep one backend for the whole job once they have degraded.
type ArtifactUploader interface {
	Upload(ctx context.Context, key ArtifactKey, localPath string) string
	// Retained lists local files that URIs still point at directly.
	Retained() []string
}

// ArtifactStore resolves scheme-prefixed artifact URIs.
type ArtifactStore interface {
	Session(jobID string) ArtifactUploader
	Download(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
}

// Notifier receives terminal job states.
type Notifier interface {
	JobFinished(ctx context.Context, job *SynthesisJob, engineName string)
}
