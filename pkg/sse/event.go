// Package sse implements a Server-Sent-Events tee reader for the chat
// relay: it parses SSE events coming from the upstream completion
// backend while copying the raw bytes verbatim to the browser-facing
// response stream.
//
// Only reading is provided; the relay forwards the upstream bytes
// unchanged rather than re-framing them.
package sse

// Event is a single parsed SSE event, delimited by a blank line in the
// upstream byte stream.
type Event struct {
	// Type is the value of the "event:" field. Empty means the default
	// "message" type per the SSE spec.
	Type string

	// Data is the concatenation of all "data:" lines of the event,
	// joined with "\n".
	Data string

	// ID is the last event id, when present.
	ID string
}
