// Package transcribe is the HTTP client for the external transcription
// service. One recording payload maps to exactly one upload; transport
// failures and non-2xx statuses surface immediately, with no retry.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/parleyhq/parley/pkg/recorder"
)

// ErrEmptyTranscription is returned when the service answers 2xx but
// recognized no text.
var ErrEmptyTranscription = errors.New("transcription returned no text")

// Client uploads finalized recordings to the transcription service.
type Client struct {
	target     string
	httpClient *http.Client
}

func NewClient(target string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		target:     target,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transcribe submits one payload as a multipart file upload and returns
// the parsed result. A non-2xx status or an in-band error field is a
// failure; the caller decides how to surface it.
func (c *Client) Transcribe(ctx context.Context, payload recorder.Payload) (*Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := payload.Filename
	if filename == "" {
		filename = "recording"
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err = part.Write(payload.Data); err != nil {
		return nil, fmt.Errorf("writing audio: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target+"/transcribe", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription service error %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding transcription response: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("transcription failed: %s", result.Error)
	}
	if result.Text == "" {
		return nil, ErrEmptyTranscription
	}

	return &result, nil
}

// Health probes the transcription service's /health endpoint. The
// service answers 503 until its model is loaded.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transcription service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcription service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
