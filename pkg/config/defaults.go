package config

// NewDefaultConfig returns a fully-populated Config with sane defaults.
// The defaults mirror the development topology: the UI on :3000, the
// transcription service on :8000 and a local OpenAI-compatible backend.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:   ":8090",
			UIOrigin: "http://localhost:3000",
		},
		Transcriber: TranscriberConfig{
			Target:         "http://localhost:8000",
			TimeoutSeconds: 60,
		},
		LLM: LLMConfig{
			Target:         "https://api.deepseek.com",
			Model:          "deepseek-chat",
			SystemPrompt:   "You are a helpful assistant responding to voice input",
			TimeoutSeconds: 120,
		},
		EventStream: EventStreamConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "parley.turns",
		},
	}
}
