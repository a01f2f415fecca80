package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/recorder"
	"github.com/parleyhq/parley/pkg/transcribe"
)

type fakeTranscriber struct {
	result *transcribe.Result
	err    error
	calls  atomic.Int32
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ recorder.Payload) (*transcribe.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCompleter struct {
	reply string
	raw   string
	err   error
	calls atomic.Int32

	// block, when set, holds Complete open until closed
	block   chan struct{}
	started chan struct{}
}

func (f *fakeCompleter) Complete(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) CompleteStream(_ context.Context, _ string, raw io.Writer) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	if raw != nil {
		_, _ = io.WriteString(raw, f.raw)
	}
	return f.reply, nil
}

type fakeHealth struct {
	err error
}

func (f *fakeHealth) Health(_ context.Context) error {
	return f.err
}

type captureSink struct {
	mu    sync.Mutex
	turns []chat.Turn
}

func (s *captureSink) EnqueueTurns(turns ...chat.Turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
	return len(turns)
}

func (s *captureSink) snapshot() []chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func newTestServer(transcriber *fakeTranscriber, completer *fakeCompleter, health *fakeHealth) (*Server, *captureSink, *chat.Controller) {
	controller := chat.NewController(chat.NewLog(), recorder.New(), transcriber, completer, zap.NewNop())
	sink := &captureSink{}
	server := NewServer(Config{ListenAddr: ":0", UIOrigin: "http://localhost:3000"}, controller, health, sink, zap.NewNop())
	return server, sink, controller
}

func postJSON(server *Server, path string, body any) *http.Response {
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decodeBody(resp *http.Response, out any) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
}

func audioUpload(contentType, filename string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		transcriber *fakeTranscriber
		completer   *fakeCompleter
		health      *fakeHealth
		server      *Server
		sink        *captureSink
		controller  *chat.Controller
	)

	BeforeEach(func() {
		transcriber = &fakeTranscriber{
			result: &transcribe.Result{Text: "hello there", Language: "en"},
		}
		completer = &fakeCompleter{reply: "General Kenobi"}
		health = &fakeHealth{}
		server, sink, controller = newTestServer(transcriber, completer, health)
	})

	Describe("POST /api/chat", func() {
		It("returns the reply and both turns", func() {
			resp := postJSON(server, "/api/chat", ChatRequest{Message: "hello"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body ChatResponse
			decodeBody(resp, &body)
			Expect(body.Reply).To(Equal("General Kenobi"))
			Expect(body.Turns).To(HaveLen(2))
			Expect(body.Turns[0].Role).To(Equal(chat.RoleUser))
			Expect(body.Turns[0].Text).To(Equal("hello"))
			Expect(body.Turns[1].Role).To(Equal(chat.RoleAssistant))
		})

		It("forwards appended turns to the sink", func() {
			postJSON(server, "/api/chat", ChatRequest{Message: "hello"})
			Expect(sink.snapshot()).To(HaveLen(2))
		})

		It("rejects empty messages with 400 and appends nothing", func() {
			resp := postJSON(server, "/api/chat", ChatRequest{Message: "   "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(controller.Log().Len()).To(BeZero())
			Expect(completer.calls.Load()).To(BeZero())
		})

		It("returns 409 while another exchange is in flight", func() {
			completer.block = make(chan struct{})
			completer.started = make(chan struct{})

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				resp := postJSON(server, "/api/chat", ChatRequest{Message: "first"})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			}()

			Eventually(completer.started).Should(BeClosed())

			resp := postJSON(server, "/api/chat", ChatRequest{Message: "second"})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			close(completer.block)
			Eventually(done).Should(BeClosed())
		})

		It("maps an upstream failure to 500 and records the error turn", func() {
			completer.err = errors.New("connection refused")

			resp := postJSON(server, "/api/chat", ChatRequest{Message: "hello"})
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			turns := controller.Log().Turns()
			Expect(turns).To(HaveLen(2))
			Expect(turns[1].Role).To(Equal(chat.RoleAssistant))
			Expect(turns[1].Text).To(ContainSubstring("connection refused"))
		})
	})

	Describe("POST /api/chat/stream", func() {
		It("relays the raw upstream bytes", func() {
			completer.raw = "data: {\"choices\":[{\"delta\":{\"content\":\"Gen\"}}]}\n\ndata: [DONE]\n\n"

			resp := postJSON(server, "/api/chat/stream", ChatRequest{Message: "hello"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/event-stream"))

			raw, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(Equal(completer.raw))

			Expect(controller.Log().Len()).To(Equal(2))
		})

		It("rejects empty messages before opening a stream", func() {
			resp := postJSON(server, "/api/chat/stream", ChatRequest{Message: ""})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("ends the stream with a terminal error event on upstream failure", func() {
			completer.err = errors.New("upstream hung up")

			resp := postJSON(server, "/api/chat/stream", ChatRequest{Message: "hello"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			raw, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`"error"`))
			Expect(string(raw)).To(ContainSubstring("upstream hung up"))
		})
	})

	Describe("POST /api/transcribe", func() {
		It("transcribes the upload and chains the reply", func() {
			body, contentType := audioUpload("audio/wav", "clip.wav", []byte("RIFFdata"))

			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out TranscribeResponse
			decodeBody(resp, &out)
			Expect(out.Text).To(Equal("hello there"))
			Expect(out.Language).To(Equal("en"))
			Expect(out.AIResponse).To(Equal("General Kenobi"))

			turns := controller.Log().Turns()
			Expect(turns).To(HaveLen(3))
			Expect(turns[0].Modality).To(Equal(chat.ModalityVoice))
			Expect(turns[1].Text).To(ContainSubstring("You said"))
			Expect(sink.snapshot()).To(HaveLen(3))
		})

		It("rejects a request without a file field", func() {
			resp := postJSON(server, "/api/transcribe", map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(transcriber.calls.Load()).To(BeZero())
		})

		It("rejects unsupported content types", func() {
			body, contentType := audioUpload("text/plain", "notes.txt", []byte("data"))

			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(transcriber.calls.Load()).To(BeZero())
			Expect(controller.State()).To(Equal(chat.StateIdle))
		})

		It("accepts video container uploads", func() {
			body, contentType := audioUpload("video/mp4", "clip.mp4", []byte("data"))

			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(transcriber.calls.Load()).To(Equal(int32(1)))
		})

		It("maps a transcription failure to 500 with a single error turn", func() {
			transcriber.err = errors.New("whisper unavailable")
			body, contentType := audioUpload("audio/webm", "clip.webm", []byte("data"))

			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			Expect(controller.Log().Len()).To(Equal(1))
			Expect(completer.calls.Load()).To(BeZero())
		})

		It("returns 500 with the transcription when the chained completion fails", func() {
			completer.err = errors.New("model down")
			body, contentType := audioUpload("audio/wav", "clip.wav", []byte("data"))

			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			var out TranscribeResponse
			decodeBody(resp, &out)
			Expect(out.Text).To(Equal("hello there"))
			Expect(out.Error).To(ContainSubstring("model down"))
			Expect(controller.Log().Len()).To(Equal(3))
		})

		It("returns to idle after every upload", func() {
			body, contentType := audioUpload("audio/wav", "clip.wav", []byte("data"))

			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
			req.Header.Set("Content-Type", contentType)
			_, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(controller.State()).To(Equal(chat.StateIdle))
		})
	})

	Describe("POST /api/capture-denied", func() {
		It("appends a single assistant turn", func() {
			resp := postJSON(server, "/api/capture-denied", CaptureDeniedRequest{Reason: "permission dismissed"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			turns := controller.Log().Turns()
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Role).To(Equal(chat.RoleAssistant))
			Expect(turns[0].Text).To(ContainSubstring("permission dismissed"))
			Expect(sink.snapshot()).To(HaveLen(1))
		})

		It("uses a default reason when none is given", func() {
			postJSON(server, "/api/capture-denied", CaptureDeniedRequest{})

			turns := controller.Log().Turns()
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Text).To(ContainSubstring("microphone access was denied"))
		})
	})

	Describe("GET /api/transcript", func() {
		It("returns the state and all turns in order", func() {
			postJSON(server, "/api/chat", ChatRequest{Message: "one"})
			postJSON(server, "/api/chat", ChatRequest{Message: "two"})

			req := httptest.NewRequest(http.MethodGet, "/api/transcript", nil)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out TranscriptResponse
			decodeBody(resp, &out)
			Expect(out.State).To(Equal(chat.StateIdle))
			Expect(out.Turns).To(HaveLen(4))
			Expect(out.Turns[0].Text).To(Equal("one"))
			Expect(out.Turns[2].Text).To(Equal("two"))
		})
	})

	Describe("GET /healthz", func() {
		It("returns 200 when the transcription backend is ready", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("returns 503 when the transcription backend is down", func() {
			health.err = errors.New("model not loaded")

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
