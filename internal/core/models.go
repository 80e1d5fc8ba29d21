package core

import (
	"fmt"
	"strings"
	"time"
)

// TextStatus is the processing state of a source text.
type TextStatus string

const (
	TextPending    TextStatus = "pending"
	TextProcessing TextStatus = "processing"
	TextCompleted  TextStatus = "completed"
	TextFailed     TextStatus = "failed"
)

// JobStatus is the state of a synthesis job. Progress states look like
// "processing (3/10)".
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ProgressStatus returns the advisory progress state after done of total chunks.
func ProgressStatus(done, total int) JobStatus {
	return JobStatus(fmt.Sprintf("%s (%d/%d)", JobProcessing, done, total))
}

// IsProcessing reports whether s is processing or one of its progress states.
func (s JobStatus) IsProcessing() bool {
	return strings.HasPrefix(string(s), string(JobProcessing))
}

// IsTerminal reports whether no further transitions happen without a regenerate.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TextDocument is the input of the pipeline.
type TextDocument struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	Language  string     `json:"language"`
	Status    TextStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Segment pairs a span of the normalized text with a span of the final audio.
type Segment struct {
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Text       string  `json:"text"`
	URL        string  `json:"url"`
}

// SynthesisJob is one audio generation attempt for a text.
type SynthesisJob struct {
	ID         string      `json:"id"`
	TextID     string      `json:"text_id"`
	UserID     string      `json:"user_id"`
	Voice      string      `json:"voice_model"`
	Format     string      `json:"format"`
	SampleRate int         `json:"sample_rate"`
	URL        string      `json:"url"`
	Duration   float64     `json:"duration"`
	Segments   []Segment   `json:"segments"`
	Status     JobStatus   `json:"status"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  FailureCode `json:"error_code,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// ArtifactBase is the storage name shared by the job's artifacts.
func (j *SynthesisJob) ArtifactBase() string {
	return fmt.Sprintf("%s_%s_%s", j.UserID, j.TextID, j.ID)
}

// JobSpec holds what is needed to create a job.
type JobSpec struct {
	TextID     string
	UserID     string
	Voice      string
	Format     string
	SampleRate int
}

// TTSRequest is a client request to synthesize a text.
type TTSRequest struct {
	TextID     string `json:"text_id"`
	Voice      string `json:"voice_model"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// Requester identifies the caller on whose behalf an operation runs.
type Requester struct {
	UserID  string
	IsAdmin bool
}

// CanAccess reports whether the requester may act on a resource owned by ownerID.
func (r Requester) CanAccess(ownerID string) bool {
	return r.IsAdmin || (r.UserID != "" && r.UserID == ownerID)
}
