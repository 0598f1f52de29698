package orderlookup

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/httpapi"
)

// Handler exposes a Service over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterHTTPHandlers registers the order endpoints under prefix, which
// includes the trailing slash (e.g., "/api/orders/"):
//
//	POST <prefix>query
//	GET  <prefix>health
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"query", h.handleQuery)
	mux.HandleFunc("GET "+prefix+"health", httpapi.HealthHandler("orders"))
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req conversation.QueryRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := conversation.ValidateTurns(req.Messages); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Answer(r.Context(), req)
	switch {
	case errors.Is(err, ErrNoUserMessage):
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("Order query failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "order query error")
		return
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}
