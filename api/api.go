package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/llm"
)

// HealthChecker reports whether the transcription backend is ready.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// TurnSink receives appended turns for out-of-band publishing.
type TurnSink interface {
	EnqueueTurns(turns ...chat.Turn) int
}

// Server is the relay HTTP server between the browser UI and the
// transcription and completion backends.
type Server struct {
	config     Config
	controller *chat.Controller
	health     HealthChecker
	sink       TurnSink
	logger     *zap.Logger
	app        *fiber.App
}

// NewServer creates a new relay server. The controller is injected so
// the CLI can share it with other components.
func NewServer(config Config, controller *chat.Controller, health HealthChecker, sink TurnSink, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
		// Recovered panics and unhandled errors leave as the JSON
		// error envelope, never as a stack trace.
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(llm.ErrorResponse{Error: err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.UIOrigin,
		AllowMethods: "GET,POST,OPTIONS",
	}))

	s := &Server{
		config:     config,
		controller: controller,
		health:     health,
		sink:       sink,
		logger:     logger,
		app:        app,
	}

	app.Post("/api/chat", s.handleChat)
	app.Post("/api/chat/stream", s.handleChatStream)
	app.Post("/api/transcribe", s.handleTranscribe)
	app.Post("/api/capture-denied", s.handleCaptureDenied)
	app.Get("/api/transcript", s.handleTranscript)
	app.Get("/healthz", s.handleHealthz)

	return s
}

// Run starts the relay server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting relay server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the relay server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
