package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/arena/internal/adapters/mq/transport"
	"github.com/okian/arena/internal/domain/model"
)

// maxMessageBytes bounds a posted message body.
const maxMessageBytes = 64 << 10

// MessageDependencies defines the transport used to submit messages.
type MessageDependencies interface {
	Broadcast(ctx context.Context, m model.Message) error
}

// MessagesHandler accepts commit and reveal messages.
type MessagesHandler struct {
	deps MessageDependencies
}

// NewMessagesHandler creates a new messages handler.
func NewMessagesHandler(deps MessageDependencies) *MessagesHandler {
	return &MessagesHandler{deps: deps}
}

// HandlePostMessage handles POST /messages requests.
func (h *MessagesHandler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var m model.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", errors.Join(ErrBadRequest, err))
		return
	}

	err := h.deps.Broadcast(r.Context(), m)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
	case errors.Is(err, transport.ErrDuplicate):
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
	case errors.Is(err, model.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, transport.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", errors.Join(ErrBackpressure, err))
	case errors.Is(err, transport.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", errors.Join(ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
