package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

const defaultLanguage = "vi"

type createTextRequest struct {
	Content  string `json:"content"`
	Language string `json:"language"`
}

type statusResponse struct {
	ID        string           `json:"id"`
	Status    core.JobStatus   `json:"status"`
	URL       string           `json:"url,omitempty"`
	Duration  float64          `json:"duration"`
	Error     string           `json:"error,omitempty"`
	ErrorCode core.FailureCode `json:"error_code,omitempty"`
}

type voicesResponse struct {
	Default string              `json:"default"`
	Engines map[string][]string `json:"engines"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (s *Server) listVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voicesResponse{Default: s.voices.DefaultVoice(), Engines: s.voices.Voices()})
}

func (s *Server) createText(w http.ResponseWriter, r *http.Request) {
	var body createTextRequest
	if !s.decode(w, r, &body) {
		return
	}

	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")

		return
	}

	if body.Language == "" {
		body.Language = defaultLanguage
	}

	doc, err := s.texts.Create(r.Context(), &core.TextDocument{
		UserID:   requesterFrom(r).UserID,
		Content:  body.Content,
		Language: body.Language,
	})
	if err != nil {
		s.fail(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) synthesize(w http.ResponseWriter, r *http.Request) {
	var body core.TTSRequest
	if !s.decode(w, r, &body) {
		return
	}

	job, err := s.pipeline.Submit(r.Context(), body, requesterFrom(r))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	writeJSON(w, jobStatusCode(job), job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.pipeline.Get(r.Context(), chi.URLParam(r, "id"), requesterFrom(r))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.pipeline.Get(r.Context(), chi.URLParam(r, "id"), requesterFrom(r))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		ID:        job.ID,
		Status:    job.Status,
		URL:       job.URL,
		Duration:  job.Duration,
		Error:     job.Error,
		ErrorCode: job.ErrorCode,
	})
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	job, err := s.pipeline.Regenerate(r.Context(), chi.URLParam(r, "id"), requesterFrom(r))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	err := s.pipeline.Delete(r.Context(), chi.URLParam(r, "id"), requesterFrom(r))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) streamAudio(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, -1)
}

func (s *Server) streamSegment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "segment index must be a non-negative integer")

		return
	}

	s.stream(w, r, index)
}

// stream serves an artifact with range request support.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, segment int) {
	artifact, err := s.pipeline.OpenArtifact(r.Context(), chi.URLParam(r, "id"), segment, requesterFrom(r))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+artifact.Name+`"`)
	http.ServeContent(w, r, artifact.Name, artifact.ModTime, bytes.NewReader(artifact.Data))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxTextBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

		return false
	}

	return true
}

// fail maps a pipeline error to a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	}

	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func jobStatusCode(job *core.SynthesisJob) int {
	if job.Status == core.JobCompleted {
		return http.StatusOK
	}

	return http.StatusAccepted
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
