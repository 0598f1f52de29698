package chatrouter

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/httpapi"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages       []conversation.Turn `json:"messages"`
	ConversationID string              `json:"conversation_id,omitempty"`
	CustomerID     string              `json:"customer_id,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
}

// ChatResponse is the reply to POST /chat.
type ChatResponse struct {
	Response           string                  `json:"response"`
	RequiresCustomerID bool                    `json:"requires_customer_id"`
	ConversationID     string                  `json:"conversation_id"`
	Metadata           map[string]any          `json:"metadata"`
	SourceType         conversation.SourceType `json:"source_type"`
}

// Handler exposes a Router over HTTP.
type Handler struct {
	router *Router
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(router *Router, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{router: router, logger: logger}
}

// RegisterHTTPHandlers registers the chat endpoints under prefix, which
// includes the trailing slash (e.g., "/api/").
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"chat", h.handleChat)
	mux.HandleFunc("GET "+prefix+"health", httpapi.HealthHandler("chat"))
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	res, err := h.router.Route(r.Context(), RouteRequest{
		Turns:          req.Messages,
		ConversationID: conversationID,
		CustomerID:     req.CustomerID,
		Metadata:       req.Metadata,
	})
	switch {
	case errors.Is(err, ErrNoUserTurn), errors.Is(err, conversation.ErrInvalidRole):
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("Chat processing failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "chat processing error")
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, ChatResponse{
		Response:           res.Text,
		RequiresCustomerID: res.RequiresCustomerID,
		ConversationID:     conversationID,
		Metadata:           res.Metadata,
		SourceType:         res.SourceType,
	})
}
