package models

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and registration.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// CreateChatRequest is the body of POST /api/chats.
type CreateChatRequest struct {
	CustomerID string  `json:"customerId"`
	AgentID    *string `json:"agentId,omitempty"`
}

// SendMessageRequest is the body of POST /api/chats/{id}/messages.
type SendMessageRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

// UpdateStatusRequest is the body of PUT /api/users/status.
type UpdateStatusRequest struct {
	IsOnline bool `json:"isOnline"`
}

// UpdateChatStatusRequest is the body of PUT /api/chats/{id}/status.
type UpdateChatStatusRequest struct {
	Status ChatStatus `json:"status"`
}
