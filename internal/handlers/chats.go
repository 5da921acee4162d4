package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/hub"
	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

// canView reports whether user may read chat: customers their own, agents
// theirs and unassigned ones, super-agents any.
func canView(user *models.User, chat *models.Chat) bool {
	switch user.Role {
	case models.RoleSuperAgent:
		return true
	case models.RoleAgent:
		return chat.AgentID == nil || *chat.AgentID == user.ID
	default:
		return chat.CustomerID == user.ID
	}
}

// canModify reports whether user may archive or unarchive chat.
func canModify(user *models.User, chat *models.Chat) bool {
	return user.Role == models.RoleSuperAgent || chat.HasParticipant(user.ID)
}

// loadChat fetches the {id} chat and checks the caller can see it. It writes
// the error response and returns nil on failure.
func (h *Handler) loadChat(w http.ResponseWriter, r *http.Request) *models.Chat {
	id := chi.URLParam(r, "id")
	if !crypto.ValidID(id) {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return nil
	}

	chat, err := h.ds.GetChat(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "chat not found")
		return nil
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if !canView(currentUser(r), chat) {
		// same answer as a missing chat
		h.Error(w, http.StatusNotFound, "chat not found")
		return nil
	}
	return chat
}

// ListChats returns the caller's active chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	h.listChats(w, r, models.ChatActive)
}

// ListArchivedChats returns the caller's archived chats.
func (h *Handler) ListArchivedChats(w http.ResponseWriter, r *http.Request) {
	h.listChats(w, r, models.ChatArchived)
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request, status models.ChatStatus) {
	chats, err := h.ds.ListChats(r.Context(), currentUser(r), status)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	h.JSON(w, http.StatusOK, chats)
}

// GetChat returns one chat with its participants and last message.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	if chat := h.loadChat(w, r); chat != nil {
		h.JSON(w, http.StatusOK, chat)
	}
}

// CreateChat opens a chat. Customers open chats for themselves, optionally
// with a chosen agent; agents open chats assigned to themselves;
// super-agents may assign any agent or none. The new chat is announced to
// its audience with new_chat.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChatRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID != nil && *req.AgentID == "" {
		req.AgentID = nil
	}

	user := currentUser(r)
	switch user.Role {
	case models.RoleCustomer:
		if req.CustomerID != user.ID {
			h.Error(w, http.StatusForbidden, "customers can only open their own chats")
			return
		}
	case models.RoleAgent:
		if req.AgentID == nil {
			req.AgentID = &user.ID
		}
		if *req.AgentID != user.ID {
			h.Error(w, http.StatusForbidden, "agents can only assign chats to themselves")
			return
		}
	}

	if !crypto.ValidID(req.CustomerID) {
		h.Error(w, http.StatusBadRequest, "customerId is required")
		return
	}
	if status, msg := h.checkRole(r, req.CustomerID, models.RoleCustomer); status != 0 {
		h.Error(w, status, msg)
		return
	}
	if req.AgentID != nil {
		if status, msg := h.checkRole(r, *req.AgentID, models.RoleAgent); status != 0 {
			h.Error(w, status, msg)
			return
		}
	}

	chat, err := h.ds.CreateChat(r.Context(), req.CustomerID, req.AgentID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	metrics.ChatsCreated.Inc()
	h.logger.Info().
		Str("chat_id", chat.ID).
		Str("customer_id", chat.CustomerID).
		Bool("assigned", chat.AgentID != nil).
		Msg("chat created")

	ev := hub.Event{Type: hub.EventNewChat, Data: chat, ChatID: chat.ID, UserID: user.ID, Username: user.Username}
	if err := h.hub.Publish(r.Context(), hub.ChatAudience(chat), ev); err != nil {
		h.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to publish new_chat")
	}

	h.JSON(w, http.StatusCreated, chat)
}

// checkRole verifies id names a user in role. Agents and super-agents both
// count as agents. It returns a zero status when the check passes.
func (h *Handler) checkRole(r *http.Request, id string, role models.Role) (int, string) {
	if !crypto.ValidID(id) {
		return http.StatusBadRequest, "invalid " + string(role) + " ID format"
	}
	u, err := h.ds.GetUserByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, string(role) + " not found"
	}
	if err != nil {
		return http.StatusInternalServerError, "database error"
	}
	ok := u.Role == role
	if role == models.RoleAgent {
		ok = u.Role.IsAgent()
	}
	if !ok {
		return http.StatusBadRequest, "user " + id + " is not a " + string(role)
	}
	return 0, ""
}

// UpdateChatStatus sets a chat's status from the request body.
func (h *Handler) UpdateChatStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateChatStatusRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Status.Valid() {
		h.Error(w, http.StatusBadRequest, "status must be active or archived")
		return
	}
	h.setStatus(w, r, req.Status)
}

// ArchiveChat moves an active chat to the archive.
func (h *Handler) ArchiveChat(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.ChatArchived)
}

// UnarchiveChat restores an archived chat.
func (h *Handler) UnarchiveChat(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.ChatActive)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status models.ChatStatus) {
	chat := h.loadChat(w, r)
	if chat == nil {
		return
	}
	if !canModify(currentUser(r), chat) {
		h.Error(w, http.StatusForbidden, "only the chat's participants can change its status")
		return
	}
	if chat.Status == status {
		h.Error(w, http.StatusConflict, "chat is already "+string(status))
		return
	}

	if err := h.ds.SetChatStatus(r.Context(), chat.ID, status); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update chat")
		return
	}
	metrics.ChatStatusChanges.WithLabelValues(string(status)).Inc()

	updated, err := h.ds.GetChat(r.Context(), chat.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, updated)
}
