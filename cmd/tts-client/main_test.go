package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{name: "text", flags: appFlags{text: "xin chào", user: "u1"}},
		{name: "file", flags: appFlags{file: "book.txt", user: "u1"}},
		{name: "missing input", flags: appFlags{user: "u1"}, wantErr: errMissingInput},
		{name: "both inputs", flags: appFlags{text: "a", file: "b", user: "u1"}, wantErr: errBothInputs},
		{name: "missing user", flags: appFlags{text: "a"}, wantErr: errNoUser},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateFlags(testCase.flags)
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{
		"-server", "http://tts.local:9000/",
		"-user", "u1",
		"-text", "xin chào",
		"-format", "wav",
		"-sample-rate", "16000",
		"-poll", "10ms",
	})
	require.NoError(t, err)

	assert.Equal(t, "http://tts.local:9000/", flags.server)
	assert.Equal(t, "u1", flags.user)
	assert.Equal(t, "xin chào", flags.text)
	assert.Equal(t, "wav", flags.format)
	assert.Equal(t, 16000, flags.sampleRate)
	assert.Equal(t, 10*time.Millisecond, flags.poll)
	assert.Equal(t, defaultWait, flags.timeout)

	_, err = parseFlags([]string{"-sample-rate", "fast"})
	require.Error(t, err)
}

// fakeService serves the routes the client uses. The job completes after
// pendingPolls status requests.
func fakeService(t *testing.T, pendingPolls int32, fail bool) *httptest.Server {
	t.Helper()

	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/texts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.Header.Get(headerUserID))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "xin chào", body["content"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(core.TextDocument{ID: "t1", UserID: "u1"})
	})
	mux.HandleFunc("POST /v1/audios/synthesize", func(w http.ResponseWriter, r *http.Request) {
		var req core.TTSRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "t1", req.TextID)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(core.SynthesisJob{ID: "j1", TextID: "t1", Status: core.JobPending})
	})
	mux.HandleFunc("GET /v1/audios/j1", func(w http.ResponseWriter, _ *http.Request) {
		job := core.SynthesisJob{ID: "j1", TextID: "t1", Format: "wav", Status: core.ProgressStatus(1, 2)}

		if polls.Add(1) > pendingPolls {
			job.Status = core.JobCompleted
			job.Duration = 65

			if fail {
				job.Status = core.JobFailed
				job.ErrorCode = core.FailureSynthesis
				job.Error = "engine crashed"
			}
		}

		_ = json.NewEncoder(w).Encode(job)
	})
	mux.HandleFunc("GET /v1/audios/j1/stream", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("RIFFaudio"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestRun_SynthesizesAndDownloads(t *testing.T) {
	t.Parallel()

	server := fakeService(t, 2, false)
	output := filepath.Join(t.TempDir(), "out", "book.wav")

	var stdout bytes.Buffer

	err := run([]string{
		"-server", server.URL,
		"-user", "u1",
		"-text", "xin chào",
		"-format", "wav",
		"-output", output,
		"-poll", "5ms",
	}, &stdout)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "RIFFaudio", string(data))
	assert.Contains(t, stdout.String(), output)
}

func TestRun_ReportsFailedJob(t *testing.T) {
	t.Parallel()

	server := fakeService(t, 0, true)

	err := run([]string{
		"-server", server.URL,
		"-user", "u1",
		"-text", "xin chào",
		"-output", filepath.Join(t.TempDir(), "out.wav"),
		"-poll", "5ms",
	}, &bytes.Buffer{})

	require.ErrorIs(t, err, errJobFailed)
	assert.Contains(t, err.Error(), "engine crashed")
}

func TestRun_HealthCheck(t *testing.T) {
	t.Parallel()

	server := fakeService(t, 0, false)

	var stdout bytes.Buffer

	require.NoError(t, run([]string{"-server", server.URL, "-health"}, &stdout))
	assert.Contains(t, stdout.String(), msgServiceHealthy)
}

func TestAPIClient_SurfacesServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"text not found"}`))
	}))
	t.Cleanup(server.Close)

	_, err := newAPIClient(server.URL, "u1").submit(t.Context(), core.TTSRequest{TextID: "missing"})

	require.ErrorIs(t, err, errUnexpectedStatus)
	assert.Contains(t, err.Error(), "text not found")
}
