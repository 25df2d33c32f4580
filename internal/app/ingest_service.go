package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"finrag/internal/model"
	"finrag/internal/pkg/pdfextract"
)

const (
	defaultChunkSize     = 1500
	defaultChunkOverlap  = 300
	defaultMinChunkChars = 100
	embeddingBatchSize   = 10 // embedding providers often limit batch size

	msgExtracting = "Extracting text and images..."
	msgIndexing   = "Building knowledge base..."
	msgReady      = "Ready for questions!"
)

// IngestService runs the processing pipeline for one uploaded document:
// PDF text extraction, splitting, embedding and chunk persistence. It is
// the only mutator of a session's status after upload.
type IngestService struct {
	sessions    SessionRepo
	chunks      ChunkRepo
	statusStore StatusStore
	embedder    Embedder

	chunkSize     int
	chunkOverlap  int
	minChunkChars int

	extractText func(filePath string) (string, error)
}

func NewIngestService(
	sessions SessionRepo,
	chunks ChunkRepo,
	statusStore StatusStore,
	embedder Embedder,
	chunkSize, chunkOverlap, minChunkChars int,
) *IngestService {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = defaultChunkOverlap
	}
	if minChunkChars <= 0 {
		minChunkChars = defaultMinChunkChars
	}
	s := &IngestService{
		sessions:      sessions,
		chunks:        chunks,
		statusStore:   statusStore,
		embedder:      embedder,
		chunkSize:     chunkSize,
		chunkOverlap:  chunkOverlap,
		minChunkChars: minChunkChars,
	}
	s.extractText = s.extractFromPDF
	return s
}

// Process drives a session from uploading to a terminal state. Pipeline
// failures are recorded as the session's error status; the returned error
// is for the worker's log only.
func (s *IngestService) Process(ctx context.Context, job IngestJob) error {
	if job.SessionID == "" || job.FilePath == "" {
		return ErrInvalidInput
	}

	s.setStatus(ctx, job.SessionID, model.StatusProcessing, msgExtracting)

	text, err := s.extractText(job.FilePath)
	if err != nil {
		s.fail(ctx, job.SessionID, err)
		return err
	}

	s.setStatus(ctx, job.SessionID, model.StatusProcessing, msgIndexing)

	parts, err := s.split(text)
	if err != nil {
		s.fail(ctx, job.SessionID, err)
		return err
	}

	embeddings, err := s.embedAll(ctx, parts)
	if err != nil {
		s.fail(ctx, job.SessionID, err)
		return err
	}

	chunks := make([]model.Chunk, len(parts))
	for i := range parts {
		chunks[i] = model.Chunk{
			SessionID: job.SessionID,
			Source:    model.SourceText,
			Content:   parts[i],
		}
		chunks[i].SetEmbedding(embeddings[i])
	}
	if err := s.chunks.CreateBatch(chunks); err != nil {
		s.fail(ctx, job.SessionID, err)
		return err
	}

	if err := s.sessions.MarkReady(job.SessionID, job.FileName, msgReady); err != nil {
		s.fail(ctx, job.SessionID, err)
		return err
	}
	_ = s.statusStore.Set(ctx, job.SessionID, model.SessionState{
		Status:       model.StatusReady,
		Message:      msgReady,
		DocumentName: job.FileName,
	})
	return nil
}

func (s *IngestService) extractFromPDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open uploaded file failed: %w", err)
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f)
	if err != nil {
		return "", fmt.Errorf("extract pdf text failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoExtractableText
	}
	return text, nil
}

func (s *IngestService) split(text string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.chunkSize),
		textsplitter.WithChunkOverlap(s.chunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text failed: %w", err)
	}

	// Very short fragments are mostly headers and footers.
	kept := parts[:0]
	for _, p := range parts {
		if len(p) > s.minChunkChars {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoExtractableText
	}
	return kept, nil
}

func (s *IngestService) embedAll(ctx context.Context, parts []string) ([][]float32, error) {
	var embeddings [][]float32
	for i := 0; i < len(parts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(parts) {
			end = len(parts)
		}
		batch, err := s.embedder.EmbedBatch(ctx, parts[i:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	if len(embeddings) != len(parts) {
		return nil, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(parts), len(embeddings))
	}
	return embeddings, nil
}

func (s *IngestService) setStatus(ctx context.Context, sessionID string, status model.SessionStatus, message string) {
	if err := s.sessions.UpdateStatus(sessionID, status, message); err == nil {
		_ = s.statusStore.Set(ctx, sessionID, model.SessionState{Status: status, Message: message})
	}
}

func (s *IngestService) fail(ctx context.Context, sessionID string, cause error) {
	// A cancelled context means shutdown, not a document problem. The status
	// is left alone so the redelivered job can finish on the next start.
	if ctx.Err() != nil {
		return
	}
	msg := cause.Error()
	_ = s.sessions.UpdateStatus(sessionID, model.StatusError, msg)
	_ = s.statusStore.Set(ctx, sessionID, model.SessionState{Status: model.StatusError, Message: msg})
}
