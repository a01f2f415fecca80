package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/recorder"
	"github.com/parleyhq/parley/pkg/transcribe"
)

// uploadChunkSize is the read granularity for multipart audio uploads.
const uploadChunkSize = 32 * 1024

// ChatRequest is a typed message submission from the UI.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the assistant reply and the turns the exchange
// appended to the transcript.
type ChatResponse struct {
	Reply string      `json:"reply"`
	Turns []chat.Turn `json:"turns"`
}

// TranscribeResponse mirrors the transcription service's result plus
// the chained assistant reply.
type TranscribeResponse struct {
	Text       string               `json:"text"`
	Language   string               `json:"language"`
	Segments   []transcribe.Segment `json:"segments"`
	AIResponse string               `json:"ai_response"`
	Error      string               `json:"error,omitempty"`
}

// CaptureDeniedRequest reports a microphone permission or device
// failure from the UI.
type CaptureDeniedRequest struct {
	Reason string `json:"reason"`
}

// TranscriptResponse is the full conversation transcript and the
// controller state.
type TranscriptResponse struct {
	State chat.State  `json:"state"`
	Turns []chat.Turn `json:"turns"`
}

// handleChat runs one typed exchange and returns the reply.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	exchange, err := s.controller.SubmitText(c.Context(), req.Message)
	if err != nil {
		return s.rejectChat(c, err)
	}

	s.sink.EnqueueTurns(exchange.Turns()...)

	if exchange.ReplyErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: exchange.Assistant.Text})
	}

	return c.JSON(ChatResponse{
		Reply: exchange.Assistant.Text,
		Turns: exchange.Turns(),
	})
}

// handleChatStream runs one typed exchange and relays the upstream SSE
// bytes to the UI as they arrive.
func (s *Server) handleChatStream(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	// Reject what can be rejected before committing to a stream; a
	// lost race with another exchange still ends the stream with a
	// terminal error event below.
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: chat.ErrEmptyMessage.Error()})
	}
	if s.controller.State() != chat.StateIdle {
		return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: chat.ErrBusy.Error()})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// Use io.Pipe + SetBodyStream so writes block until the client
	// consumes them, giving real backpressure on slow connections.
	pr, pw := io.Pipe()

	// The exchange runs on a background context: an in-flight upstream
	// call always runs to completion even if the client goes away.
	go func() {
		exchange, err := s.controller.SubmitTextStream(context.Background(), req.Message, pw)
		if err != nil {
			writeSSEError(pw, err.Error())
			_ = pw.Close()
			return
		}

		s.sink.EnqueueTurns(exchange.Turns()...)

		if exchange.ReplyErr != nil {
			writeSSEError(pw, exchange.Assistant.Text)
		}
		_ = pw.Close()
	}()

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

// handleTranscribe accepts one multipart audio upload, transcribes it
// and chains the transcription into a completion.
func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "file field is required"})
	}

	contentType := fileHeader.Header.Get(fiber.HeaderContentType)
	if err := s.controller.StartRecording(contentType, fileHeader.Filename); err != nil {
		switch {
		case errors.Is(err, chat.ErrBusy):
			return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: err.Error()})
		case errors.Is(err, recorder.ErrUnsupportedType):
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{
				Error: fmt.Sprintf("unsupported content type: %s", contentType),
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: err.Error()})
		}
	}

	if err := s.copyUpload(fileHeader); err != nil {
		s.controller.AbortRecording()
		if errors.Is(err, recorder.ErrPayloadTooLarge) {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{
				Error: fmt.Sprintf("audio file exceeds the %d byte limit", recorder.MaxPayloadBytes),
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "could not read upload"})
	}

	exchange, err := s.controller.StopRecording(c.Context())
	if err != nil {
		if errors.Is(err, recorder.ErrEmptyRecording) {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "uploaded file is empty"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	s.sink.EnqueueTurns(exchange.Turns()...)

	if exchange.TranscriptionErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: exchange.Assistant.Text})
	}

	resp := TranscribeResponse{
		Text:       exchange.Transcription.Text,
		Language:   exchange.Transcription.Language,
		Segments:   exchange.Transcription.Segments,
		AIResponse: exchange.Assistant.Text,
	}

	if exchange.ReplyErr != nil {
		resp.Error = exchange.Assistant.Text
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}

	return c.JSON(resp)
}

// handleCaptureDenied records a UI-reported capture failure as a
// single assistant turn.
func (s *Server) handleCaptureDenied(c *fiber.Ctx) error {
	var req CaptureDeniedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	turn, err := s.controller.CaptureDenied(req.Reason)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	s.sink.EnqueueTurns(turn)

	return c.JSON(fiber.Map{"turn": turn})
}

// handleTranscript returns the full conversation transcript.
func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(TranscriptResponse{
		State: s.controller.State(),
		Turns: s.controller.Log().Turns(),
	})
}

// handleHealthz reports readiness, degraded while the transcription
// backend is unreachable.
func (s *Server) handleHealthz(c *fiber.Ctx) error {
	if err := s.health.Health(c.Context()); err != nil {
		s.logger.Warn("transcription backend unhealthy", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// copyUpload feeds the multipart file into the active recording
// session in fixed-size chunks.
func (s *Server) copyUpload(fileHeader *multipart.FileHeader) error {
	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, uploadChunkSize)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if appendErr := s.controller.AppendAudio(buf[:n]); appendErr != nil {
				return appendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// rejectChat maps a controller rejection to its HTTP status.
func (s *Server) rejectChat(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	case errors.Is(err, chat.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: err.Error()})
	}
}

// writeSSEError emits the error envelope as a terminal SSE event.
func writeSSEError(w io.Writer, msg string) {
	payload, err := json.Marshal(llm.ErrorResponse{Error: msg})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
