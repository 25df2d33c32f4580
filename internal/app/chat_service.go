package app

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"finrag/internal/ai"
	"finrag/internal/model"
)

const (
	defaultTopK      = 5
	maxSourceChars   = 300
	historyTurnLimit = 10
)

const analystSystemPrompt = `You are a highly accurate financial analyst assistant. ` +
	`Answer ONLY using the retrieved context below. If the answer is not in the context, ` +
	`say "I cannot find this information in the document." Do not make up numbers, dates ` +
	`or facts. When citing key figures, reference the source (e.g. "According to the text..." ` +
	`or "The table shows..."). Be professional, objective and concise.`

// ChatService answers questions against a session's indexed document and
// reads back chat history. Both chat turns are persisted asynchronously via
// the message queue.
type ChatService struct {
	sessions  SessionRepo
	chunks    ChunkRepo
	messages  MessageRepo
	history   HistoryStore
	publisher Publisher
	embedder  Embedder
	completer Completer
}

func NewChatService(
	sessions SessionRepo,
	chunks ChunkRepo,
	messages MessageRepo,
	history HistoryStore,
	publisher Publisher,
	embedder Embedder,
	completer Completer,
) *ChatService {
	return &ChatService{
		sessions:  sessions,
		chunks:    chunks,
		messages:  messages,
		history:   history,
		publisher: publisher,
		embedder:  embedder,
		completer: completer,
	}
}

// AskResult is the answer plus its supporting evidence.
type AskResult struct {
	Answer  string                 `json:"answer"`
	Sources []model.SourceEvidence `json:"sources"`
}

// ChatExchange is the queue payload persisting one question/answer pair.
// The pair travels as a single message so history never ends up holding a
// question without its answer.
type ChatExchange struct {
	SessionID string          `json:"session_id"`
	Turns     []model.Message `json:"turns"`
}

// Ask retrieves the top-k most similar chunks for the question, grounds the
// LLM on them and returns the answer with source snippets. Sessions that
// are not ready are rejected before any retrieval work.
func (s *ChatService) Ask(ctx context.Context, sessionID, message string) (*AskResult, error) {
	message = strings.TrimSpace(message)
	if sessionID == "" || message == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != model.StatusReady {
		return nil, &SessionNotReadyError{Status: session.Status}
	}

	chunks, err := s.chunks.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoIndexedContent
	}

	queryEmb, err := s.embedder.Embed(ctx, message)
	if err != nil {
		return nil, err
	}

	top := rankChunks(chunks, queryEmb, defaultTopK)

	var contextBlock strings.Builder
	for _, c := range top {
		contextBlock.WriteString("\n---\n")
		contextBlock.WriteString(c.Content)
	}
	contextBlock.WriteString("\n---")

	// Prior turns go into the prompt so follow-up questions ("what about
	// the previous quarter?") resolve against the conversation.
	prior := s.recentHistory(ctx, sessionID)
	prompt := make([]ai.ChatMessage, 0, len(prior)+2)
	prompt = append(prompt, ai.ChatMessage{Role: "system", Content: analystSystemPrompt})
	for _, turn := range prior {
		prompt = append(prompt, ai.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	prompt = append(prompt, ai.ChatMessage{
		Role:    "user",
		Content: "Context:" + contextBlock.String() + "\n\nQuestion: " + message + "\n\nAnswer:",
	})
	answer, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "The model returned an empty response."
	}

	sources := make([]model.SourceEvidence, 0, len(top))
	for _, c := range top {
		sources = append(sources, model.SourceEvidence{
			SourceType: c.Source,
			Content:    truncate(c.Content, maxSourceChars),
		})
	}

	userTurn := model.Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   message,
		CreatedAt: time.Now(),
	}
	assistantTurn := model.Message{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   answer,
		CreatedAt: time.Now(),
	}
	assistantTurn.SetSources(sources)

	exchange := ChatExchange{
		SessionID: sessionID,
		Turns:     []model.Message{userTurn, assistantTurn},
	}
	if err := s.publisher.Publish(ctx, exchange); err != nil {
		return nil, ErrEnqueue
	}
	_ = s.history.DeleteHistory(ctx, sessionID)

	return &AskResult{Answer: answer, Sources: sources}, nil
}

// History returns the session's chat turns in order, via the redis cache
// when warm.
func (s *ChatService) History(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if cached, hit, cacheErr := s.history.GetHistory(ctx, sessionID); cacheErr == nil && hit {
		return cached, nil
	}

	messages, err := s.messages.ListBySessionID(sessionID, limit)
	if err != nil {
		return nil, err
	}
	_ = s.history.SetHistory(ctx, sessionID, messages)
	return messages, nil
}

// recentHistory returns the last turns of the session for prompt memory.
// A read failure degrades to answering without memory rather than failing
// the question.
func (s *ChatService) recentHistory(ctx context.Context, sessionID string) []model.Message {
	if cached, hit, err := s.history.GetHistory(ctx, sessionID); err == nil && hit {
		if len(cached) > historyTurnLimit {
			cached = cached[len(cached)-historyTurnLimit:]
		}
		return cached
	}
	msgs, err := s.messages.ListRecentBySessionID(sessionID, historyTurnLimit)
	if err != nil {
		return nil
	}
	return msgs
}

type scoredChunk struct {
	model.Chunk
	score float32
}

func rankChunks(chunks []model.Chunk, query []float32, k int) []model.Chunk {
	scored := make([]scoredChunk, len(chunks))
	for i := range chunks {
		scored[i] = scoredChunk{
			Chunk: chunks[i],
			score: cosineSimilarity(query, chunks[i].EmbeddingVector()),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if k <= 0 || k > len(scored) {
		k = len(scored)
	}
	top := make([]model.Chunk, k)
	for i := 0; i < k; i++ {
		top[i] = scored[i].Chunk
	}
	return top
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
