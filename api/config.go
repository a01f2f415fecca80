// Package api provides the relay HTTP surface the browser UI talks to:
// typed chat, streamed chat, recording upload and transcript inspection.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string

	// UIOrigin is the browser origin allowed by CORS
	UIOrigin string
}
