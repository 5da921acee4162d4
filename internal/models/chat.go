package models

import "time"

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatActive   ChatStatus = "active"
	ChatArchived ChatStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ChatStatus) Valid() bool {
	return s == ChatActive || s == ChatArchived
}

// Chat is a conversation between a customer and, once assigned, an agent.
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

// HasParticipant reports whether userID is the chat's customer or agent.
func (c *Chat) HasParticipant(userID string) bool {
	return c.CustomerID == userID || (c.AgentID != nil && *c.AgentID == userID)
}

// Participants returns the ids of the customer and the assigned agent.
func (c *Chat) Participants() []string {
	ids := []string{c.CustomerID}
	if c.AgentID != nil {
		ids = append(ids, *c.AgentID)
	}
	return ids
}
