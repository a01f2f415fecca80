// Package chat owns the conversation state and the turn controller
// that sequences voice and text exchanges between the UI, the
// transcription service and the completion backend.
package chat

import "time"

// Role tags who a turn belongs to in the transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Modality records how the user's input entered the conversation.
type Modality string

const (
	ModalityTyped Modality = "typed"
	ModalityVoice Modality = "voice"
)

// Turn is one immutable entry of the conversation transcript.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Modality  Modality  `json:"modality"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
