package config

// Config is the full parley configuration, loaded from a TOML file and
// back-filled with defaults for any field left at its zero value.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Transcriber TranscriberConfig `toml:"transcriber"`
	LLM         LLMConfig         `toml:"llm"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// ServerConfig configures the relay HTTP server.
type ServerConfig struct {
	// Listen is the address the relay binds to.
	Listen string `toml:"listen"`

	// UIOrigin is the browser origin allowed by CORS.
	UIOrigin string `toml:"ui_origin"`
}

// TranscriberConfig configures the external transcription service.
type TranscriberConfig struct {
	// Target is the base URL of the transcription service.
	Target string `toml:"target"`

	// TimeoutSeconds bounds a single transcription upload.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// LLMConfig configures the chat-completion backend.
type LLMConfig struct {
	// Target is the base URL of an OpenAI-compatible completion API.
	Target string `toml:"target"`

	// Model is the model name sent with every completion request.
	Model string `toml:"model"`

	// SystemPrompt is prepended to every completion request.
	SystemPrompt string `toml:"system_prompt"`

	// TimeoutSeconds bounds a single completion request.
	// Streaming responses are exempt; they run until end-of-stream.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// EventStreamConfig configures optional turn-event publishing.
type EventStreamConfig struct {
	// Enabled switches publishing on. When false the nop publisher is used.
	Enabled bool `toml:"enabled"`

	// Brokers is the Kafka broker list.
	Brokers []string `toml:"brokers"`

	// Topic is the Kafka topic turn events are written to.
	Topic string `toml:"topic"`
}
