// Package llm is the chat-completion client of the relay. It speaks
// the OpenAI-compatible wire format, one request per invocation, no
// retry. The streaming variant tees the raw SSE bytes to a writer so
// the relay can forward them to the browser unchanged while it
// accumulates the assistant text.
package llm

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

	"github.com/parleyhq/parley/pkg/sse"
)

const completionsPath = "/chat/completions"

// ErrEmptyReply is returned when the backend completes successfully
// but produces no assistant text.
var ErrEmptyReply = errors.New("completion returned no reply text")

// Client calls an OpenAI-compatible chat-completion backend.
type Client struct {
	target       string
	model        string
	systemPrompt string
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
}

// Config configures a completion client.
type Config struct {
	// Target is the backend base URL, e.g. "https://api.deepseek.com".
	Target string

	// Model is sent with every request.
	Model string

	// SystemPrompt is prepended as the system message when non-empty.
	SystemPrompt string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout bounds non-streaming requests.
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		target:       strings.TrimRight(cfg.Target, "/"),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: timeout},
		// A streamed completion has no sensible overall deadline; it
		// runs until end-of-stream or a transport error.
		streamClient: &http.Client{},
	}
}

// Complete sends one user message and returns the assistant's reply text.
func (c *Client) Complete(ctx context.Context, text string) (string, error) {
	resp, err := c.send(ctx, c.httpClient, text, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", ErrEmptyReply
	}

	return parsed.Choices[0].Message.Content, nil
}

// CompleteStream sends one user message with streaming enabled. Raw SSE
// bytes are copied to raw in arrival order; the return value is the
// concatenation of all content increments, available only after the
// upstream signals end-of-stream.
func (c *Client) CompleteStream(ctx context.Context, text string, raw io.Writer) (string, error) {
	resp, err := c.send(ctx, c.streamClient, text, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if raw == nil {
		raw = io.Discard
	}

	var content strings.Builder
	reader := sse.NewReader(resp.Body, raw)

	for {
		ev, err := reader.Next()
		if err != nil {
			return "", fmt.Errorf("reading completion stream: %w", err)
		}
		if ev == nil {
			break
		}
		if ev.Data == "[DONE]" {
			continue
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			// Tolerate unparseable keep-alive payloads; the raw bytes
			// were already forwarded.
			continue
		}
		if len(chunk.Choices) > 0 {
			content.WriteString(chunk.Choices[0].Delta.Content)
		}
	}

	if content.Len() == 0 {
		return "", ErrEmptyReply
	}

	return content.String(), nil
}

// send issues the completion request and normalizes failure shapes.
// Callers own resp.Body on success.
func (c *Client) send(ctx context.Context, httpClient *http.Client, text string, stream bool) (*http.Response, error) {
	messages := make([]Message, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: text})

	body, err := json.Marshal(ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending completion request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("completion backend error %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("completion backend error %d: %s", resp.StatusCode, string(respBody))
	}

	return resp, nil
}
