package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"finrag/internal/app"
	"finrag/internal/transport/http/response"
)

// SessionHandler covers upload, status polling and session deletion.
type SessionHandler struct {
	sessionService *app.SessionService
	maxUploadBytes int64
}

type UploadResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type StatusResponse struct {
	SessionID    string `json:"session_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	DocumentName string `json:"document_name,omitempty"`
}

func NewSessionHandler(sessionService *app.SessionService, maxUploadMB int) *SessionHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &SessionHandler{
		sessionService: sessionService,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// Upload accepts a multipart PDF, creates the session and returns its id.
// Processing continues in the background; callers poll Status.
func (h *SessionHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "missing file")
		return
	}
	if file.Size > h.maxUploadBytes {
		response.Error(c, http.StatusBadRequest, "file too large")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, "Only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer f.Close()

	session, err := h.sessionService.CreateFromUpload(c.Request.Context(), file.Filename, f)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrEnqueue):
			response.Error(c, http.StatusServiceUnavailable, "processing queue unavailable")
		default:
			response.Error(c, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	response.OK(c, UploadResponse{
		SessionID: session.ID,
		Message:   "Upload successful. Processing started.",
	})
}

// Status is the idempotent poll target.
func (h *SessionHandler) Status(c *gin.Context) {
	sessionID := c.Param("session_id")

	state, err := h.sessionService.Status(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, "Session not found")
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, "invalid session id")
		default:
			response.Error(c, http.StatusInternalServerError, "status lookup failed")
		}
		return
	}

	response.OK(c, StatusResponse{
		SessionID:    sessionID,
		Status:       string(state.Status),
		Message:      state.Message,
		DocumentName: state.DocumentName,
	})
}

// Delete removes a session and its indexed content. Deletion is idempotent:
// an unknown session id is treated as already deleted.
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.sessionService.Delete(c.Request.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, "invalid session id")
		default:
			response.Error(c, http.StatusInternalServerError, "delete session failed")
		}
		return
	}

	response.OK(c, gin.H{"message": "Session deleted successfully"})
}
