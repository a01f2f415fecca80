package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/pkg/recorder"
	"github.com/parleyhq/parley/pkg/transcribe"
	"github.com/parleyhq/parley/pkg/utils"
)

// State is the controller's position in the turn-taking state machine.
type State string

const (
	StateIdle                  State = "idle"
	StateRecording             State = "recording"
	StateAwaitingTranscription State = "awaiting_transcription"
	StateAwaitingReply         State = "awaiting_reply"
)

// Transcriber converts one finalized recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, payload recorder.Payload) (*transcribe.Result, error)
}

// Completer produces the assistant's reply for one user message.
// CompleteStream copies the raw upstream SSE bytes to raw in arrival
// order and returns the concatenated reply once the stream ends.
type Completer interface {
	Complete(ctx context.Context, text string) (string, error)
	CompleteStream(ctx context.Context, text string, raw io.Writer) (string, error)
}

// Exchange is the outcome of one text submission: exactly one user
// turn and exactly one assistant turn. ReplyErr is set when the
// assistant turn carries an upstream failure instead of a reply.
type Exchange struct {
	User      Turn
	Assistant Turn
	ReplyErr  error
}

// Turns lists the turns this exchange appended, in order.
func (e *Exchange) Turns() []Turn {
	return []Turn{e.User, e.Assistant}
}

// VoiceExchange is the outcome of one completed recording.
// On transcription failure only Assistant (the error turn) is set and
// the completion backend is never called.
type VoiceExchange struct {
	Transcription *transcribe.Result
	User          Turn
	Echo          Turn
	Assistant     Turn

	TranscriptionErr error
	ReplyErr         error
}

// Turns lists the turns this exchange appended, in order.
func (e *VoiceExchange) Turns() []Turn {
	if e.TranscriptionErr != nil {
		return []Turn{e.Assistant}
	}
	return []Turn{e.User, e.Echo, e.Assistant}
}

// Controller sequences the chat flow: it appends the user turn, makes
// at most one transcription call and one completion call per action,
// and appends exactly one assistant turn before returning to Idle.
// Overlapping actions are rejected with ErrBusy rather than queued or
// cancelled; the upstream call in flight always runs to completion.
type Controller struct {
	mu      sync.Mutex
	state   State
	session *recorder.Session

	log         *Log
	rec         *recorder.Recorder
	transcriber Transcriber
	completer   Completer
	logger      *zap.Logger
}

func NewController(log *Log, rec *recorder.Recorder, transcriber Transcriber, completer Completer, logger *zap.Logger) *Controller {
	return &Controller{
		state:       StateIdle,
		log:         log,
		rec:         rec,
		transcriber: transcriber,
		completer:   completer,
		logger:      logger,
	}
}

// State returns the current controller state. The UI uses it to keep
// the submit and record controls disabled while an exchange is in
// flight.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Log exposes the conversation transcript.
func (c *Controller) Log() *Log {
	return c.log
}

// SubmitText runs one typed exchange. Empty or whitespace-only input
// is rejected before any state change or network call.
func (c *Controller) SubmitText(ctx context.Context, text string) (*Exchange, error) {
	return c.submitText(ctx, text, nil)
}

// SubmitTextStream runs one typed exchange with a streamed reply,
// copying the raw upstream bytes to raw as they arrive. The assistant
// turn is appended only once the stream has ended.
func (c *Controller) SubmitTextStream(ctx context.Context, text string, raw io.Writer) (*Exchange, error) {
	return c.submitText(ctx, text, raw)
}

func (c *Controller) submitText(ctx context.Context, text string, raw io.Writer) (*Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if !c.transition(StateIdle, StateAwaitingReply) {
		return nil, ErrBusy
	}
	defer c.setState(StateIdle)

	exchange := &Exchange{
		User: c.log.Append(RoleUser, ModalityTyped, text),
	}

	var reply string
	var err error
	if raw != nil {
		reply, err = c.completer.CompleteStream(ctx, text, raw)
	} else {
		reply, err = c.completer.Complete(ctx, text)
	}

	if err != nil {
		c.logger.Error("completion failed", zap.Error(err))
		exchange.ReplyErr = err
		exchange.Assistant = c.log.Append(RoleAssistant, ModalityTyped, failureText(err))
		return exchange, nil
	}

	c.logger.Debug("assistant reply", zap.String("text", utils.Truncate(reply, 120)))
	exchange.Assistant = c.log.Append(RoleAssistant, ModalityTyped, reply)
	return exchange, nil
}

// StartRecording opens the single recording session. A second start
// while one is active, or while any exchange is in flight, is rejected
// with ErrBusy. An unsupported content type is rejected before any
// state change.
func (c *Controller) StartRecording(contentType, filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrBusy
	}

	session, err := c.rec.Start(contentType, filename)
	if err != nil {
		return err
	}

	c.session = session
	c.state = StateRecording
	return nil
}

// AppendAudio adds one chunk to the active recording session.
func (c *Controller) AppendAudio(chunk []byte) error {
	c.mu.Lock()
	session := c.session
	state := c.state
	c.mu.Unlock()

	if state != StateRecording || session == nil {
		return ErrNotRecording
	}

	return session.Append(chunk)
}

// AbortRecording releases the capture resource without appending any
// turn. Used for inputs rejected inline (oversize, unreadable upload).
func (c *Controller) AbortRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.Abort()
		c.session = nil
	}
	if c.state == StateRecording || c.state == StateAwaitingTranscription {
		c.state = StateIdle
	}
}

// StopRecording finalizes the active session into one payload, makes
// exactly one transcription call, and on success chains into exactly
// one completion call. The capture resource is released on every path.
func (c *Controller) StopRecording(ctx context.Context) (*VoiceExchange, error) {
	c.mu.Lock()
	if c.state != StateRecording || c.session == nil {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}
	session := c.session
	c.session = nil
	c.state = StateAwaitingTranscription
	c.mu.Unlock()

	payload, err := session.Finalize()
	if err != nil {
		// Nothing was sent anywhere; surface inline, append nothing.
		c.setState(StateIdle)
		return nil, err
	}

	exchange := &VoiceExchange{}

	result, err := c.transcriber.Transcribe(ctx, payload)
	if err != nil {
		c.logger.Error("transcription failed", zap.Error(err))
		exchange.TranscriptionErr = err
		exchange.Assistant = c.log.Append(RoleAssistant, ModalityVoice, failureText(err))
		c.setState(StateIdle)
		return exchange, nil
	}

	c.logger.Debug("transcription complete",
		zap.String("language", result.Language),
		zap.String("text", utils.Truncate(result.Text, 120)),
	)

	exchange.Transcription = result
	exchange.User = c.log.Append(RoleUser, ModalityVoice, result.Text)
	exchange.Echo = c.log.Append(RoleAssistant, ModalityVoice, echoText(result))

	c.setState(StateAwaitingReply)
	defer c.setState(StateIdle)

	reply, err := c.completer.Complete(ctx, result.Text)
	if err != nil {
		c.logger.Error("chained completion failed", zap.Error(err))
		exchange.ReplyErr = err
		exchange.Assistant = c.log.Append(RoleAssistant, ModalityVoice, failureText(err))
		return exchange, nil
	}

	exchange.Assistant = c.log.Append(RoleAssistant, ModalityVoice, reply)
	return exchange, nil
}

// CaptureDenied records a microphone-permission or device failure
// reported by the UI as a single assistant-origin turn. No recording
// session exists and no network call is made.
func (c *Controller) CaptureDenied(reason string) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return Turn{}, ErrBusy
	}

	if reason == "" {
		reason = "microphone access was denied"
	}

	return c.log.Append(RoleAssistant, ModalityVoice, fmt.Sprintf("Could not access the microphone: %s", reason)), nil
}

// transition atomically swaps the state when it matches from.
func (c *Controller) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func failureText(err error) string {
	return fmt.Sprintf("Error processing request: %v", err)
}

func echoText(result *transcribe.Result) string {
	if result.Language != "" {
		return fmt.Sprintf("You said (%s): %s", result.Language, result.Text)
	}
	return fmt.Sprintf("You said: %s", result.Text)
}
