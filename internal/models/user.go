package models

import "time"

// Role is the closed set of account roles.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSuperAgent Role = "super-agent"
	RoleCustomer   Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleSuperAgent || r == RoleCustomer
}

// IsAgent reports whether r serves customers.
func (r Role) IsAgent() bool {
	return r == RoleAgent || r == RoleSuperAgent
}

// User is an account: a customer, an agent or a super-agent.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Avatar       *string   `json:"avatar,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
