package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/deskchat/internal/api/middleware"
	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,32}$`)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordLength = 72
)

// Register creates an account and signs it in. Self-registration may create
// customers and agents; super-agents are provisioned by operators.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !usernameRegex.MatchString(req.Username) {
		h.Error(w, http.StatusBadRequest, "username must be 3-32 letters, digits, '.', '_' or '-'")
		return
	}
	if len(req.Password) < minPasswordLength || len(req.Password) > maxPasswordLength {
		h.Error(w, http.StatusBadRequest, "password must be 8-72 characters")
		return
	}
	if !isValidEmail(req.Email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	name := sanitizeName(req.Name)
	if name == "" {
		name = req.Username
	}

	role := req.Role
	if role == "" {
		role = models.RoleCustomer
	}
	if role != models.RoleCustomer && role != models.RoleAgent {
		h.Error(w, http.StatusBadRequest, "role must be customer or agent")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         role,
	}
	if err := h.ds.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			h.Error(w, http.StatusConflict, "username already taken")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	metrics.UsersRegistered.WithLabelValues(string(role)).Inc()
	h.logger.Info().Str("user_id", user.ID).Str("role", string(role)).Msg("user registered")

	h.issue(w, http.StatusCreated, user)
}

// Login verifies a username and password and returns a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.ds.GetUserByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	h.issue(w, http.StatusOK, user)
}

func (h *Handler) issue(w http.ResponseWriter, status int, user *models.User) {
	token, _, err := h.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.JSON(w, status, models.AuthResponse{User: user, Token: token})
}

// Logout revokes the caller's token for the rest of its lifetime. Without
// Redis there is nowhere to record revocation and the token stays valid
// until it expires.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if h.redis != nil && claims != nil && claims.ExpiresAt != nil {
		if err := h.redis.RevokeToken(r.Context(), claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to revoke session")
			return
		}
	}
	h.JSON(w, http.StatusOK, nil)
}
