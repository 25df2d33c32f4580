package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"finrag/internal/model"
)

const uploadedStatusMessage = "File uploaded, starting processing..."

// IngestJob is the queue payload handed to the ingest worker.
type IngestJob struct {
	SessionID string `json:"session_id"`
	FilePath  string `json:"file_path"`
	FileName  string `json:"file_name"`
}

// SessionService owns session creation, status lookup and deletion.
// Processing itself happens in the ingest worker; the upload path only
// stores the file and enqueues a job.
type SessionService struct {
	sessions    SessionRepo
	chunks      ChunkRepo
	messages    MessageRepo
	statusStore StatusStore
	history     HistoryStore
	publisher   Publisher
	workDir     string
}

func NewSessionService(
	sessions SessionRepo,
	chunks ChunkRepo,
	messages MessageRepo,
	statusStore StatusStore,
	history HistoryStore,
	publisher Publisher,
	workDir string,
) *SessionService {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &SessionService{
		sessions:    sessions,
		chunks:      chunks,
		messages:    messages,
		statusStore: statusStore,
		history:     history,
		publisher:   publisher,
		workDir:     workDir,
	}
}

// CreateFromUpload stores the uploaded PDF, records a fresh session in the
// uploading state and enqueues the ingest job. Processing continues after
// the response; callers poll Status for progress. If the job cannot be
// enqueued, nothing of the session survives.
func (s *SessionService) CreateFromUpload(ctx context.Context, fileName string, r io.Reader) (*model.Session, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || r == nil {
		return nil, ErrInvalidInput
	}

	sessionID := uuid.NewString()
	dir := filepath.Join(s.workDir, "finrag-"+sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session work dir failed: %w", err)
	}

	filePath := filepath.Join(dir, filepath.Base(fileName))
	dst, err := os.Create(filePath)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("store uploaded file failed: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write uploaded file failed: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("close uploaded file failed: %w", err)
	}

	session := &model.Session{
		ID:            sessionID,
		Status:        model.StatusUploading,
		StatusMessage: uploadedStatusMessage,
		FilePath:      filePath,
		WorkDir:       dir,
	}
	if err := s.sessions.Create(session); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	_ = s.statusStore.Set(ctx, sessionID, model.SessionState{
		Status:  model.StatusUploading,
		Message: uploadedStatusMessage,
	})

	job := IngestJob{SessionID: sessionID, FilePath: filePath, FileName: fileName}
	if err := s.publisher.Publish(ctx, job); err != nil {
		_ = s.sessions.DeleteByID(sessionID)
		_ = s.statusStore.Delete(ctx, sessionID)
		_ = os.RemoveAll(dir)
		return nil, ErrEnqueue
	}

	return session, nil
}

// Status is the idempotent, side-effect-free read used by the poll loop.
// It serves from redis when possible and falls back to mysql, re-priming
// the cache.
func (s *SessionService) Status(ctx context.Context, sessionID string) (*model.SessionState, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	if state, hit, err := s.statusStore.Get(ctx, sessionID); err == nil && hit {
		return state, nil
	}

	session, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	state := model.SessionState{
		Status:       session.Status,
		Message:      session.StatusMessage,
		DocumentName: session.DocumentName,
	}
	_ = s.statusStore.Set(ctx, sessionID, state)
	return &state, nil
}

// Delete removes the session and everything associated with it: indexed
// chunks, chat history, cache entries and the work directory. Deleting a
// session that no longer exists is a success, not an error.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidInput
	}

	session, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return err
	}
	if session != nil && session.WorkDir != "" {
		_ = os.RemoveAll(session.WorkDir)
	}

	if err := s.chunks.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.messages.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessions.DeleteByID(sessionID); err != nil {
		return err
	}
	_ = s.statusStore.Delete(ctx, sessionID)
	_ = s.history.DeleteHistory(ctx, sessionID)
	return nil
}
