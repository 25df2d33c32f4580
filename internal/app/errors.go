package app

import (
	"errors"
	"fmt"

	"finrag/internal/model"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNoExtractableText = errors.New("PDF contains no extractable text")
	ErrNoIndexedContent  = errors.New("no indexed content for this session")
	ErrEnqueue           = errors.New("enqueue failed")
)

// SessionNotReadyError rejects chat against a session that has not finished
// processing. The current status is carried so the handler can report it.
type SessionNotReadyError struct {
	Status model.SessionStatus
}

func (e *SessionNotReadyError) Error() string {
	return fmt.Sprintf("session not ready. Current status: %s", e.Status)
}
