package deskchat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the closed set of identity roles.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSuperAgent Role = "super-agent"
	RoleCustomer   Role = "customer"
)

// ParseRole returns the Role for s, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAgent, RoleSuperAgent, RoleCustomer:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsAgent reports whether r serves customers (agent or super-agent).
func (r Role) IsAgent() bool {
	return r == RoleAgent || r == RoleSuperAgent
}

// IsCustomer reports whether r is a customer.
func (r Role) IsCustomer() bool {
	return r == RoleCustomer
}

// UnmarshalJSON rejects roles outside the closed set. An empty role is the
// unset zero value: nested users in events often omit it.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*r = ""
		return nil
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ChatStatus tells which roster collection a chat belongs to.
type ChatStatus string

const (
	StatusActive   ChatStatus = "active"
	StatusArchived ChatStatus = "archived"
)

// MessageType is the kind of message content.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == TypeText || t == TypeImage || t == TypeFile
}

// User is a participant: the signed-in identity or a counterpart.
type User struct {
	ID       string  `json:"id"`
	Username string  `json:"username,omitempty"`
	Name     string  `json:"name"`
	Role     Role    `json:"role,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	IsOnline bool    `json:"isOnline"`
}

// Message is a single chat message. Messages are immutable once accepted.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Sender    *User       `json:"sender,omitempty"`
}

// Chat is a conversation between a customer and (optionally) an agent.
type Chat struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customerId"`
	AgentID     *string    `json:"agentId"`
	Status      ChatStatus `json:"status"`
	IsActive    bool       `json:"isActive"`
	Customer    *User      `json:"customer,omitempty"`
	Agent       *User      `json:"agent,omitempty"`
	LastMessage *Message   `json:"lastMessage,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ActivityAt is the chat's most recent activity: UpdatedAt, or CreatedAt
// when UpdatedAt is unset.
func (c Chat) ActivityAt() time.Time {
	if c.UpdatedAt.IsZero() {
		return c.CreatedAt
	}
	return c.UpdatedAt
}

// AssignedAgent returns the agent id, or "" for an unassigned chat.
func (c Chat) AssignedAgent() string {
	if c.AgentID != nil {
		return *c.AgentID
	}
	if c.Agent != nil {
		return c.Agent.ID
	}
	return ""
}

// clone copies the pointer fields that roster patches write through.
func (c Chat) clone() Chat {
	if c.Customer != nil {
		u := *c.Customer
		c.Customer = &u
	}
	if c.Agent != nil {
		u := *c.Agent
		c.Agent = &u
	}
	return c
}

// Streamed event names.
const (
	EventNewMessage       = "new_message"
	EventNewChat          = "new_chat"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
)

// Event is the envelope of every frame on the real-time channel.
type Event struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	UserID   string          `json:"userId,omitempty"`
	Username string          `json:"username,omitempty"`
	ChatID   string          `json:"chatId,omitempty"`
}

// PresenceUpdate is the payload of user_connected and user_disconnected.
type PresenceUpdate struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	IsOnline bool   `json:"isOnline"`
}
