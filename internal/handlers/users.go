package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/hub"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, currentUser(r))
}

// ListUsers returns every account. Customers only see agents.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.ds.ListUsers(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	if currentUser(r).Role == models.RoleCustomer {
		agents := users[:0]
		for _, u := range users {
			if u.Role.IsAgent() {
				agents = append(agents, u)
			}
		}
		users = agents
	}
	h.JSON(w, http.StatusOK, users)
}

// GetUser looks up a single user profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !crypto.ValidID(id) {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	user, err := h.ds.GetUserByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	// customers may only look up agents and themselves
	viewer := currentUser(r)
	if viewer.Role == models.RoleCustomer && !user.Role.IsAgent() && user.ID != viewer.ID {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}
	h.JSON(w, http.StatusOK, user)
}

// UpdateStatus sets the caller's online flag explicitly, e.g. "away" in a
// client without closing its socket.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatusRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user := currentUser(r)
	if err := RecordPresence(h.ds, h.redis)(r.Context(), user.ID, req.IsOnline); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	evType := hub.EventUserDisconnected
	if req.IsOnline {
		evType = hub.EventUserConnected
	}
	ev := hub.Event{
		Type:     evType,
		Data:     map[string]any{"userId": user.ID, "isOnline": req.IsOnline},
		UserID:   user.ID,
		Username: user.Username,
	}
	if err := h.hub.Publish(r.Context(), hub.Audience{All: true, ExceptUser: user.ID}, ev); err != nil {
		h.logger.Warn().Err(err).Str("event", evType).Msg("failed to publish presence")
	}

	user.IsOnline = req.IsOnline
	h.JSON(w, http.StatusOK, user)
}

// RecordPresence persists a user's online flag in the data store and, when
// redis is not nil, the shared Redis set. The hub calls it on first connect
// and last disconnect.
func RecordPresence(ds store.DataStore, redis *store.RedisStore) hub.PresenceFunc {
	return func(ctx context.Context, userID string, online bool) error {
		if err := ds.SetUserOnline(ctx, userID, online); err != nil {
			return err
		}
		if redis != nil {
			return redis.SetOnline(ctx, userID, online)
		}
		return nil
	}
}

// AvailableAgents lists agents the calling customer can start a chat with.
func (h *Handler) AvailableAgents(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user.Role != models.RoleCustomer {
		h.Error(w, http.StatusForbidden, "only customers can list available agents")
		return
	}
	agents, err := h.ds.ListAvailableAgents(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	h.JSON(w, http.StatusOK, agents)
}

// AvailableCustomers lists customers the calling agent can start a chat with.
func (h *Handler) AvailableCustomers(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if !user.Role.IsAgent() {
		h.Error(w, http.StatusForbidden, "only agents can list available customers")
		return
	}
	customers, err := h.ds.ListAvailableCustomers(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list customers")
		return
	}
	h.JSON(w, http.StatusOK, customers)
}
