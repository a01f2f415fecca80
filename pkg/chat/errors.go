package chat

import "errors"

var (
	// ErrEmptyMessage is returned for an empty or whitespace-only
	// submission. Nothing is appended and no upstream call is made.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned when a submit or record action arrives while
	// another exchange is in flight. The action is a no-op.
	ErrBusy = errors.New("another exchange is in progress")

	// ErrNotRecording is returned by stop/append when no recording
	// session is open.
	ErrNotRecording = errors.New("no recording in progress")
)
