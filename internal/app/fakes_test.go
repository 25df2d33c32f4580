package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finrag/internal/ai"
	"finrag/internal/model"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *memSessionRepo) Create(session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) UpdateStatus(id string, status model.SessionStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	s.Status = status
	s.StatusMessage = message
	return nil
}

func (r *memSessionRepo) MarkReady(id, documentName, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	s.Status = model.StatusReady
	s.StatusMessage = message
	s.DocumentName = documentName
	return nil
}

func (r *memSessionRepo) DeleteByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

type memChunkRepo struct {
	mu     sync.Mutex
	chunks map[string][]model.Chunk
}

func newMemChunkRepo() *memChunkRepo {
	return &memChunkRepo{chunks: make(map[string][]model.Chunk)}
}

func (r *memChunkRepo) CreateBatch(chunks []model.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chunks {
		r.chunks[c.SessionID] = append(r.chunks[c.SessionID], c)
	}
	return nil
}

func (r *memChunkRepo) ListBySessionID(sessionID string) ([]model.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Chunk(nil), r.chunks[sessionID]...), nil
}

func (r *memChunkRepo) DeleteBySessionID(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, sessionID)
	return nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages map[string][]model.Message
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: make(map[string][]model.Message)}
}

func (r *memMessageRepo) ListBySessionID(sessionID string, limit int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[sessionID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]model.Message(nil), msgs...), nil
}

func (r *memMessageRepo) ListRecentBySessionID(sessionID string, limit int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[sessionID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]model.Message(nil), msgs...), nil
}

func (r *memMessageRepo) DeleteBySessionID(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, sessionID)
	return nil
}

func (r *memMessageRepo) add(sessionID string, msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[sessionID] = append(r.messages[sessionID], msg)
}

type memStatusStore struct {
	mu     sync.Mutex
	states map[string]model.SessionState
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{states: make(map[string]model.SessionState)}
}

func (s *memStatusStore) Get(ctx context.Context, sessionID string) (*model.SessionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionID]
	if !ok {
		return nil, false, nil
	}
	return &state, true, nil
}

func (s *memStatusStore) Set(ctx context.Context, sessionID string, state model.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[sessionID] = state
	return nil
}

func (s *memStatusStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	entries map[string][]model.Message
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{entries: make(map[string][]model.Message)}
}

func (s *memHistoryStore) GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.entries[sessionID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.Message(nil), msgs...), true, nil
}

func (s *memHistoryStore) SetHistory(ctx context.Context, sessionID string, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = append([]model.Message(nil), messages...)
	return nil
}

func (s *memHistoryStore) DeleteHistory(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

type memPublisher struct {
	mu        sync.Mutex
	published []interface{}
	err       error
}

func (p *memPublisher) Publish(ctx context.Context, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, payload)
	return nil
}

// fakeEmbedder returns a fixed-size vector derived from the text length so
// similarity ordering is deterministic in tests.
type fakeEmbedder struct {
	mu         sync.Mutex
	batchSizes []int
	err        error
	embedFn    func(text string) []float32
}

func (e *fakeEmbedder) vector(text string) []float32 {
	if e.embedFn != nil {
		return e.embedFn(text)
	}
	return []float32{float32(len(text)), 1}
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	e.batchSizes = append(e.batchSizes, len(texts))
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type fakeCompleter struct {
	answer string
	err    error
	prompt []ai.ChatMessage
}

func (c *fakeCompleter) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	c.prompt = messages
	if c.err != nil {
		return "", c.err
	}
	if c.answer == "" {
		return fmt.Sprintf("answer to %q", messages[len(messages)-1].Content), nil
	}
	return c.answer, nil
}
