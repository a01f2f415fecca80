// Package eventstream publishes transcript turn events to an optional
// stream backend, decoupled from the relay's HTTP hot path.
package eventstream

import (
	"time"

	"github.com/parleyhq/parley/pkg/chat"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnAppended is emitted after a turn is appended to the
	// conversation transcript.
	EventTypeTurnAppended = "parley.turn.appended"
)

// TurnAppendedEvent is a transport-neutral payload for one appended turn.
type TurnAppendedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	Turn          chat.Turn `json:"turn"`
}
