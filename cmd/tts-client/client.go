package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
)

const (
	headerUserID    = "X-User-ID"
	requestTimeout  = 60 * time.Second
	maxErrorBodyLen = 4096
)

var errUnexpectedStatus = errors.New("unexpected response status")

// apiClient talks to the tts-service HTTP API.
type apiClient struct {
	baseURL string
	userID  string
	http    *http.Client
}

func newAPIClient(baseURL, userID string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *apiClient) health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return expectStatus(resp, http.StatusOK)
}

func (c *apiClient) createText(ctx context.Context, content string) (*core.TextDocument, error) {
	var doc core.TextDocument

	err := c.call(ctx, http.MethodPost, "/v1/texts", map[string]string{"content": content}, &doc, http.StatusCreated)
	if err != nil {
		return nil, fmt.Errorf("create text: %w", err)
	}

	return &doc, nil
}

func (c *apiClient) submit(ctx context.Context, req core.TTSRequest) (*core.SynthesisJob, error) {
	var job core.SynthesisJob

	err := c.call(ctx, http.MethodPost, "/v1/audios/synthesize", req, &job, http.StatusAccepted, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("submit text %s: %w", req.TextID, err)
	}

	return &job, nil
}

func (c *apiClient) job(ctx context.Context, jobID string) (*core.SynthesisJob, error) {
	var job core.SynthesisJob

	err := c.call(ctx, http.MethodGet, "/v1/audios/"+jobID, nil, &job, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	return &job, nil
}

// download streams the finished audio of jobID into path and returns its size.
func (c *apiClient) download(ctx context.Context, jobID, path string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/audios/"+jobID+"/stream", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	statusErr := expectStatus(resp, http.StatusOK)
	if statusErr != nil {
		return 0, fmt.Errorf("download job %s: %w", jobID, statusErr)
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()

	if joined := errors.Join(copyErr, closeErr); joined != nil {
		return 0, fmt.Errorf("write %s: %w", path, joined)
	}

	return written, nil
}

func (c *apiClient) call(ctx context.Context, method, path string, body, target any, accepted ...int) error {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	statusErr := expectStatus(resp, accepted...)
	if statusErr != nil {
		return statusErr
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(target)
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}

	return nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set(headerUserID, c.userID)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return resp, nil
}

func expectStatus(resp *http.Response, accepted ...int) error {
	for _, status := range accepted {
		if resp.StatusCode == status {
			return nil
		}
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))

	var payload struct {
		Error string `json:"error"`
	}

	if json.Unmarshal(detail, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("%w: %s: %s", errUnexpectedStatus, resp.Status, payload.Error)
	}

	return fmt.Errorf("%w: %s: %s", errUnexpectedStatus, resp.Status, strings.TrimSpace(string(detail)))
}
