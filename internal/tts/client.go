package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiSynthesize = "/synthesize"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeAudio  = "audio/"
	contentTypeBinary = "application/octet-stream"
)

// Error messages.
const (
	errUnexpectedContentType = "unexpected content type: expected audio, got %s"
	errFmtServiceDetail      = "TTS service error (%s): %s"
	errFmtServiceNonOKStatus = "TTS service returned non-OK status: %s, body: %s"
	maxErrorBodyBytes        = 4096
)

var errReceivedEmptyAudio = errors.New("received empty audio data")

// StatusError is a non-2xx response of the TTS service.
type StatusError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf(errFmtServiceNonOKStatus, e.Status, "")
	}

	return fmt.Sprintf(errFmtServiceDetail, e.Status, e.Detail)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// HTTPClient is a client for the VietTTS HTTP service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// SynthesizeRequest is the JSON payload of POST /synthesize.
type SynthesizeRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	OutputFormat string `json:"output_format"`
}

type serviceErrorResponse struct {
	Detail string `json:"detail"`
}

// NewHTTPClient creates a client for the service at baseURL (for example
// "http://localhost:8000"). The timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the service address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Synthesize sends one synthesis request and returns the audio bytes.
func (c *HTTPClient) Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, "audio/*")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to TTS service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeAudio) && !strings.HasPrefix(contentType, contentTypeBinary) {
		return nil, fmt.Errorf(errUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, errReceivedEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the service reports itself healthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	return nil
}

// parseErrorResponse builds a StatusError from the JSON detail of the service
// or, failing that, from the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}

	var errorResp serviceErrorResponse
	if json.Unmarshal(body, &errorResp) == nil && errorResp.Detail != "" {
		statusErr.Detail = errorResp.Detail
	} else {
		statusErr.Detail = strings.TrimSpace(string(body))
	}

	return statusErr
}
