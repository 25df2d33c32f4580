package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"finrag/internal/app"
	"finrag/internal/model"
	"finrag/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type ChatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

type ChatResponse struct {
	Answer  string                 `json:"answer"`
	Sources []model.SourceEvidence `json:"sources"`
}

type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type HistoryResponse struct {
	History []HistoryItem `json:"history"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat answers a question against a ready session.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.Ask(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		var notReady *app.SessionNotReadyError
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, "Session not found")
		case errors.As(err, &notReady):
			response.Error(c, http.StatusBadRequest, "Session not ready. Current status: "+string(notReady.Status))
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrNoIndexedContent):
			response.Error(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrEnqueue):
			response.Error(c, http.StatusServiceUnavailable, "message enqueue failed")
		default:
			response.Error(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	sources := result.Sources
	if sources == nil {
		sources = []model.SourceEvidence{}
	}
	response.OK(c, ChatResponse{Answer: result.Answer, Sources: sources})
}

// History returns the session's prior chat turns in order.
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	messages, err := h.chatService.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, "Session not found")
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, "invalid session id")
		default:
			response.Error(c, http.StatusInternalServerError, "get history failed")
		}
		return
	}

	items := make([]HistoryItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, HistoryItem{Role: m.Role, Content: m.Content})
	}
	response.OK(c, HistoryResponse{History: items})
}
