package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/httpapi"
	"github.com/book-expert/audiobook-tts/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	jobs       map[string]*core.SynthesisJob
	submitted  []core.TTSRequest
	requesters []core.Requester
	deleted    []string
}

func (f *fakePipeline) lookup(jobID string, requester core.Requester) (*core.SynthesisJob, error) {
	f.requesters = append(f.requesters, requester)

	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}

	if !requester.CanAccess(job.UserID) {
		return nil, core.ErrPermissionDenied
	}

	return job, nil
}

func (f *fakePipeline) Submit(_ context.Context, req core.TTSRequest, requester core.Requester) (*core.SynthesisJob, error) {
	f.submitted = append(f.submitted, req)
	f.requesters = append(f.requesters, requester)

	if req.TextID == "" {
		return nil, fmt.Errorf("%w: text_id is required", core.ErrInvalidRequest)
	}

	if existing, ok := f.jobs["done"]; ok && existing.TextID == req.TextID {
		return existing, nil
	}

	return &core.SynthesisJob{ID: "new", TextID: req.TextID, UserID: requester.UserID, Status: core.JobPending}, nil
}

func (f *fakePipeline) Regenerate(_ context.Context, jobID string, requester core.Requester) (*core.SynthesisJob, error) {
	job, err := f.lookup(jobID, requester)
	if err != nil {
		return nil, err
	}

	if job.Status != core.JobFailed {
		return nil, core.ErrInvalidState
	}

	return &core.SynthesisJob{ID: job.ID, Status: core.JobPending}, nil
}

func (f *fakePipeline) Get(_ context.Context, jobID string, requester core.Requester) (*core.SynthesisJob, error) {
	return f.lookup(jobID, requester)
}

func (f *fakePipeline) Delete(_ context.Context, jobID string, requester core.Requester) error {
	_, err := f.lookup(jobID, requester)
	if err != nil {
		return err
	}

	f.deleted = append(f.deleted, jobID)

	return nil
}

func (f *fakePipeline) OpenArtifact(
	_ context.Context,
	jobID string,
	segment int,
	requester core.Requester,
) (*pipeline.Artifact, error) {
	job, err := f.lookup(jobID, requester)
	if err != nil {
		return nil, err
	}

	if job.Status != core.JobCompleted {
		return nil, core.ErrInvalidState
	}

	if segment >= len(job.Segments) {
		return nil, core.ErrNotFound
	}

	data := "0123456789"
	if segment >= 0 {
		data = job.Segments[segment].Text
	}

	return &pipeline.Artifact{Name: "audio.mp3", ContentType: "audio/mpeg", ModTime: time.Now(), Data: []byte(data)}, nil
}

type fakeTexts struct {
	created []core.TextDocument
}

func (f *fakeTexts) Create(_ context.Context, doc *core.TextDocument) (*core.TextDocument, error) {
	stored := *doc
	stored.ID = "text-1"
	stored.Status = core.TextPending
	f.created = append(f.created, stored)

	return &stored, nil
}

func (f *fakeTexts) GetByID(context.Context, string) (*core.TextDocument, error) {
	return nil, core.ErrNotFound
}

func (f *fakeTexts) UpdateStatus(context.Context, string, core.TextStatus, string) error {
	return nil
}

type fakeVoices struct{}

func (fakeVoices) DefaultVoice() string { return "female" }

func (fakeVoices) Voices() map[string][]string {
	return map[string][]string{"VietTTS": {"female", "male"}}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakePipeline, *fakeTexts) {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	jobs := &fakePipeline{jobs: map[string]*core.SynthesisJob{
		"done": {
			ID: "done", TextID: "t1", UserID: "u1", Status: core.JobCompleted, URL: "local://audios/x.mp3",
			Duration: 1.5, Segments: []core.Segment{{Text: "segment-zero"}},
		},
		"failed": {
			ID: "failed", TextID: "t2", UserID: "u1", Status: core.JobFailed,
			Error: "no content to synthesize", ErrorCode: core.FailureSegmentationEmpty,
		},
	}}
	texts := &fakeTexts{}

	server := httptest.NewServer(httpapi.NewServer(jobs, texts, fakeVoices{}, testLogger, httpapi.Options{}).Handler())
	t.Cleanup(server.Close)

	return server, jobs, texts
}

func do(t *testing.T, method, url, userID, body string, headers ...string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	require.NoError(t, err)

	if userID != "" {
		req.Header.Set(httpapi.HeaderUserID, userID)
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiresUserHeader(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/v1/audios/done", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateText(t *testing.T) {
	t.Parallel()

	server, _, texts := newTestServer(t)

	resp := do(t, http.MethodPost, server.URL+"/v1/texts", "u1", `{"content":"Xin chào."}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc core.TextDocument
	decodeBody(t, resp, &doc)
	assert.Equal(t, "text-1", doc.ID)
	require.Len(t, texts.created, 1)
	assert.Equal(t, "u1", texts.created[0].UserID)
	assert.Equal(t, "vi", texts.created[0].Language)

	resp = do(t, http.MethodPost, server.URL+"/v1/texts", "u1", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, server.URL+"/v1/texts", "u1", `{"body":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	server, jobs, _ := newTestServer(t)

	resp := do(t, http.MethodPost, server.URL+"/v1/audios/synthesize", "u1",
		`{"text_id":"t9","voice_model":"male","format":"wav","sample_rate":16000}`, httpapi.HeaderUserAdmin, "true")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job core.SynthesisJob
	decodeBody(t, resp, &job)
	assert.Equal(t, "new", job.ID)
	assert.Equal(t, core.TTSRequest{TextID: "t9", Voice: "male", Format: "wav", SampleRate: 16000}, jobs.submitted[0])
	assert.Equal(t, core.Requester{UserID: "u1", IsAdmin: true}, jobs.requesters[0])

	resp = do(t, http.MethodPost, server.URL+"/v1/audios/synthesize", "u1", `{"text_id":"t1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a completed job is returned as is")

	resp = do(t, http.MethodPost, server.URL+"/v1/audios/synthesize", "u1", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobRoutes_StatusCodes(t *testing.T) {
	t.Parallel()

	server, jobs, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		want   int
	}{
		{"get", http.MethodGet, "/v1/audios/done", "u1", http.StatusOK},
		{"get missing", http.MethodGet, "/v1/audios/none", "u1", http.StatusNotFound},
		{"get foreign", http.MethodGet, "/v1/audios/done", "u2", http.StatusForbidden},
		{"status", http.MethodGet, "/v1/audios/failed/status", "u1", http.StatusOK},
		{"regenerate completed", http.MethodPost, "/v1/audios/done/regenerate", "u1", http.StatusConflict},
		{"regenerate failed", http.MethodPost, "/v1/audios/failed/regenerate", "u1", http.StatusAccepted},
		{"stream unfinished", http.MethodGet, "/v1/audios/failed/stream", "u1", http.StatusConflict},
		{"segment bad index", http.MethodGet, "/v1/audios/done/segments/x/stream", "u1", http.StatusBadRequest},
		{"segment out of range", http.MethodGet, "/v1/audios/done/segments/4/stream", "u1", http.StatusNotFound},
		{"delete", http.MethodDelete, "/v1/audios/failed", "u1", http.StatusNoContent},
	}

	for _, testCase := range tests {
		resp := do(t, testCase.method, server.URL+testCase.path, testCase.user, "")
		assert.Equal(t, testCase.want, resp.StatusCode, testCase.name)
	}

	assert.Equal(t, []string{"failed"}, jobs.deleted)
}

func TestStatus_ReportsFailure(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/v1/audios/failed/status", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]any
	decodeBody(t, resp, &status)
	assert.Equal(t, "failed", status["status"])
	assert.Equal(t, "segmentation_empty", status["error_code"])
}

func TestStream_SupportsRanges(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/v1/audios/done/stream", "u1", "", "Range", "bytes=2-5")
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(body))

	resp = do(t, http.MethodGet, server.URL+"/v1/audios/done/segments/0/stream", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "segment-zero", string(body))
}

func TestVoices(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/v1/voices", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var voices struct {
		Default string              `json:"default"`
		Engines map[string][]string `json:"engines"`
	}
	decodeBody(t, resp, &voices)
	assert.Equal(t, "female", voices.Default)
	assert.Equal(t, []string{"female", "male"}, voices.Engines["VietTTS"])
}
