package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moodjournal/dmsync/internal/service"
	"github.com/moodjournal/dmsync/internal/transport/http/middleware"
	"github.com/moodjournal/dmsync/pkg/validator"
	"go.uber.org/zap"
)

type DMHandler struct {
	dmService *service.DMService
	log       *zap.Logger
}

func NewDMHandler(dmService *service.DMService, log *zap.Logger) *DMHandler {
	return &DMHandler{dmService: dmService, log: log}
}

// Routes registers the conversation endpoints on mux behind auth.
func (h *DMHandler) Routes(mux *http.ServeMux, prefix string, auth func(http.Handler) http.Handler) {
	mux.Handle("GET "+prefix+"/conversations", auth(http.HandlerFunc(h.ListConversations)))
	mux.Handle("POST "+prefix+"/conversations", auth(http.HandlerFunc(h.CreateConversation)))
	mux.Handle("GET "+prefix+"/conversations/{id}/messages", auth(http.HandlerFunc(h.ListMessages)))
	mux.Handle("POST "+prefix+"/conversations/{id}/messages", auth(http.HandlerFunc(h.SendMessage)))
}

func (h *DMHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		OtherUserID string `json:"other_user_id"`
	}
	if !decodeBody(w, r, &input) {
		return
	}
	if input.OtherUserID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_USER_ID", "other_user_id is required")
		return
	}
	otherID, err := uuid.Parse(input.OtherUserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid other_user_id")
		return
	}

	conv, err := h.dmService.GetOrCreateConversation(r.Context(), userID, otherID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCannotDMSelf):
			writeError(w, http.StatusBadRequest, "CANNOT_DM_SELF", "Cannot start a conversation with yourself")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		default:
			h.log.Error("get or create dm failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": conv.ID})
}

func (h *DMHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.dmService.ListConversations(r.Context(), userID)
	if err != nil {
		h.log.Error("list dm conversations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *DMHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	var input struct {
		Text     string  `json:"text"`
		ClientID *string `json:"client_id"`
	}
	if !decodeBody(w, r, &input) {
		return
	}
	if errs := validator.ValidateMessage(input.Text, input.ClientID); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	msg, err := h.dmService.SendMessage(r.Context(), userID, convID, strings.TrimSpace(input.Text), input.ClientID)
	if err != nil {
		h.writeDMError(w, "send dm message failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message_id": msg.ID,
		"client_id":  msg.ClientID,
	})
}

func (h *DMHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SINCE", "Invalid since format")
			return
		}
		since = &t
	}

	messages, err := h.dmService.ListMessagesSince(r.Context(), userID, convID, since)
	if err != nil {
		h.writeDMError(w, "list dm messages failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *DMHandler) writeDMError(w http.ResponseWriter, logMsg string, err error) {
	switch {
	case errors.Is(err, service.ErrDMConversationNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Conversation not found")
	case errors.Is(err, service.ErrDMNotParticipant):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a participant of this conversation")
	default:
		h.log.Error(logMsg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
