// Package servecmder provides the serve command that runs the relay server.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/api"
	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/eventstream"
	"github.com/parleyhq/parley/pkg/eventstream/kafka"
	"github.com/parleyhq/parley/pkg/eventstream/nop"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/logger"
	"github.com/parleyhq/parley/pkg/recorder"
	"github.com/parleyhq/parley/pkg/transcribe"
)

// apiKeyEnv names the env var carrying the completion backend API key.
const apiKeyEnv = "PARLEY_LLM_API_KEY"

type ServeCommander struct {
	listen     string
	configPath string
	debug      bool
	logger     *zap.Logger
}

const serveLongDesc string = `Run the Parley relay server.

The relay exposes the chat and transcription endpoints the browser UI
talks to, and forwards to the configured transcription service and
completion backend.`

const serveShortDesc string = "Run the relay server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides config)")
	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "parley.toml", "Path to the TOML config file")

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	// A missing .env is fine; the key can come from the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.listen != "" {
		cfg.Server.Listen = c.listen
	}

	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		c.logger.Warn("no API key set, completion requests will be unauthenticated",
			zap.String("env", apiKeyEnv),
		)
	}

	transcriberClient := transcribe.NewClient(
		cfg.Transcriber.Target,
		time.Duration(cfg.Transcriber.TimeoutSeconds)*time.Second,
	)

	llmClient := llm.NewClient(llm.Config{
		Target:       cfg.LLM.Target,
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		APIKey:       apiKey,
		Timeout:      time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})

	controller := chat.NewController(chat.NewLog(), recorder.New(), transcriberClient, llmClient, c.logger)

	publisher, err := c.createPublisher(cfg)
	if err != nil {
		return err
	}

	dispatcher := eventstream.NewDispatcher(eventstream.DispatcherConfig{
		Publisher: publisher,
		Logger:    c.logger,
	})

	server := api.NewServer(api.Config{
		ListenAddr: cfg.Server.Listen,
		UIOrigin:   cfg.Server.UIOrigin,
	}, controller, transcriberClient, dispatcher, c.logger)

	c.logger.Info("starting relay",
		zap.String("listen", cfg.Server.Listen),
		zap.String("transcriber", cfg.Transcriber.Target),
		zap.String("llm", cfg.LLM.Target),
		zap.String("model", cfg.LLM.Model),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("relay server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		_ = dispatcher.Close()
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		if err := server.Shutdown(); err != nil {
			c.logger.Error("server shutdown failed", zap.Error(err))
		}
		// Drain pending turn events before exit.
		if err := dispatcher.Close(); err != nil {
			c.logger.Error("eventstream close failed", zap.Error(err))
		}
		return nil
	}
}

func (c *ServeCommander) createPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	if !cfg.EventStream.Enabled {
		c.logger.Info("eventstream disabled, using nop publisher")
		return nop.NewPublisher(), nil
	}

	publisher, err := kafka.NewPublisher(cfg.EventStream.Brokers, cfg.EventStream.Topic)
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	c.logger.Info("eventstream enabled",
		zap.Strings("brokers", cfg.EventStream.Brokers),
		zap.String("topic", cfg.EventStream.Topic),
	)
	return publisher, nil
}
