package app

import (
	"context"

	"finrag/internal/ai"
	"finrag/internal/model"
)

// Collaborator interfaces. The concrete implementations live in
// internal/repository, internal/cache, internal/platform/rabbitmq and
// internal/ai; services only see these, which keeps them testable without
// mysql, redis or a broker.

type SessionRepo interface {
	Create(session *model.Session) error
	GetByID(id string) (*model.Session, error)
	UpdateStatus(id string, status model.SessionStatus, message string) error
	MarkReady(id, documentName, message string) error
	DeleteByID(id string) error
}

type ChunkRepo interface {
	CreateBatch(chunks []model.Chunk) error
	ListBySessionID(sessionID string) ([]model.Chunk, error)
	DeleteBySessionID(sessionID string) error
}

type MessageRepo interface {
	ListBySessionID(sessionID string, limit int) ([]model.Message, error)
	ListRecentBySessionID(sessionID string, limit int) ([]model.Message, error)
	DeleteBySessionID(sessionID string) error
}

// StatusStore is the hot poll-path view of session state.
type StatusStore interface {
	Get(ctx context.Context, sessionID string) (*model.SessionState, bool, error)
	Set(ctx context.Context, sessionID string, state model.SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

type HistoryStore interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID string) error
}

// Publisher enqueues a JSON payload for asynchronous processing.
type Publisher interface {
	Publish(ctx context.Context, payload interface{}) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}
