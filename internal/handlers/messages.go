package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/eldtechnologies/deskchat/internal/hub"
	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxContentLength    = 4000
)

// ListMessages returns the newest limit messages of a chat, skipping offset,
// in chronological order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chat := h.loadChat(w, r)
	if chat == nil {
		return
	}

	limit := defaultMessageLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessageLimit)
	}
	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 {
			h.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	messages, err := h.ds.ListMessages(r.Context(), chat.ID, limit, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	h.JSON(w, http.StatusOK, messages)
}

// SendMessage stores a message in an active chat and pushes new_message to
// the chat's audience, the sender included.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chat := h.loadChat(w, r)
	if chat == nil {
		return
	}
	if chat.Status != models.ChatActive {
		h.Error(w, http.StatusConflict, "chat is archived")
		return
	}

	var req models.SendMessageRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// blank is judged on the trimmed text; the content is stored as sent
	if strings.TrimSpace(req.Content) == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if utf8.RuneCountInString(req.Content) > maxContentLength {
		h.Error(w, http.StatusBadRequest, "content too long (max 4000 characters)")
		return
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}
	if !req.Type.Valid() {
		h.Error(w, http.StatusBadRequest, "type must be text, image or file")
		return
	}

	user := currentUser(r)
	msg := &models.Message{
		ChatID:   chat.ID,
		SenderID: user.ID,
		Content:  req.Content,
		Type:     req.Type,
		Sender:   user,
	}
	if err := h.ds.CreateMessage(r.Context(), msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	ev := hub.Event{Type: hub.EventNewMessage, Data: msg, ChatID: chat.ID, UserID: user.ID, Username: user.Username}
	if err := h.hub.Publish(r.Context(), hub.ChatAudience(chat), ev); err != nil {
		h.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to publish new_message")
	}

	h.JSON(w, http.StatusCreated, msg)
}
