package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// DataStore defines the interface for persistent storage of users, chats
// and messages. Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)
	SetUserOnline(ctx context.Context, id string, online bool) error
	ListAvailableAgents(ctx context.Context, customerID string) ([]models.User, error)
	ListAvailableCustomers(ctx context.Context, agentID string) ([]models.User, error)

	// Chat operations
	CreateChat(ctx context.Context, customerID string, agentID *string) (*models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ListChats(ctx context.Context, viewer *models.User, status models.ChatStatus) ([]models.Chat, error)
	SetChatStatus(ctx context.Context, id string, status models.ChatStatus) error
	CountChats(ctx context.Context, status models.ChatStatus) (int64, error)

	// Message operations
	CreateMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error)
}

// Queries are written once with ? placeholders; PostgresStore rebinds them.

const userColumns = `id, username, email, password_hash, name, role, avatar, is_online, created_at, updated_at`

// chatSelect joins a chat with its customer, its agent and its newest message.
const chatSelect = `
	SELECT c.id, c.customer_id, c.agent_id, c.status, c.created_at, c.updated_at,
		cu.id, cu.username, cu.name, cu.role, cu.avatar, cu.is_online,
		ag.id, ag.username, ag.name, ag.role, ag.avatar, ag.is_online,
		lm.id, lm.sender_id, lm.content, lm.message_type, lm.created_at
	FROM chats c
	JOIN users cu ON cu.id = c.customer_id
	LEFT JOIN users ag ON ag.id = c.agent_id
	LEFT JOIN messages lm ON lm.id = (
		SELECT m.id FROM messages m WHERE m.chat_id = c.id ORDER BY m.id DESC LIMIT 1
	)`

// Available agents are online agents not already busy in an active chat
// with another customer.
const availableAgentsQuery = `
	SELECT ` + userColumns + ` FROM users
	WHERE role = 'agent' AND is_online = ?
	AND id NOT IN (
		SELECT c.agent_id FROM chats c
		WHERE c.status = 'active' AND c.agent_id IS NOT NULL AND c.customer_id <> ?
	)
	ORDER BY name`

// Available customers are online customers without an active chat assigned
// to another agent.
const availableCustomersQuery = `
	SELECT ` + userColumns + ` FROM users
	WHERE role = 'customer' AND is_online = ?
	AND id NOT IN (
		SELECT c.customer_id FROM chats c
		WHERE c.status = 'active' AND c.agent_id IS NOT NULL AND c.agent_id <> ?
	)
	ORDER BY name`

const messageSelect = `
	SELECT m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.created_at,
		u.id, u.username, u.name, u.role, u.avatar, u.is_online
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id
	WHERE m.chat_id = ?
	ORDER BY m.id DESC
	LIMIT ? OFFSET ?`

// visibleChats returns the WHERE clause and args limiting chats to those
// viewer may see: customers their own, agents theirs plus unassigned ones,
// super-agents all.
func visibleChats(viewer *models.User, status models.ChatStatus) (string, []any) {
	switch viewer.Role {
	case models.RoleCustomer:
		return ` WHERE c.status = ? AND c.customer_id = ?`, []any{status, viewer.ID}
	case models.RoleAgent:
		if status == models.ChatArchived {
			return ` WHERE c.status = ? AND c.agent_id = ?`, []any{status, viewer.ID}
		}
		return ` WHERE c.status = ? AND (c.agent_id = ? OR c.agent_id IS NULL)`, []any{status, viewer.ID}
	default:
		return ` WHERE c.status = ?`, []any{status}
	}
}

// observe records how long a store operation took.
func observe(start time.Time, op string) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// rebind converts ? placeholders to $1, $2, ...
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.Avatar,
		&u.IsOnline,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// nullableUser receives the columns of an outer-joined user.
type nullableUser struct {
	id, username, name, role *string
	avatar                   *string
	isOnline                 *bool
}

func (n *nullableUser) dest() []any {
	return []any{&n.id, &n.username, &n.name, &n.role, &n.avatar, &n.isOnline}
}

func (n *nullableUser) user() *models.User {
	if n.id == nil {
		return nil
	}
	u := &models.User{ID: *n.id, Avatar: n.avatar}
	if n.username != nil {
		u.Username = *n.username
	}
	if n.name != nil {
		u.Name = *n.name
	}
	if n.role != nil {
		u.Role = models.Role(*n.role)
	}
	if n.isOnline != nil {
		u.IsOnline = *n.isOnline
	}
	return u
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var (
		c                      models.Chat
		customer, agent        nullableUser
		lmID, lmSender, lmBody *string
		lmType                 *string
		lmAt                   *time.Time
	)

	dest := []any{&c.ID, &c.CustomerID, &c.AgentID, &c.Status, &c.CreatedAt, &c.UpdatedAt}
	dest = append(dest, customer.dest()...)
	dest = append(dest, agent.dest()...)
	dest = append(dest, &lmID, &lmSender, &lmBody, &lmType, &lmAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	c.IsActive = c.Status == models.ChatActive
	c.Customer = customer.user()
	c.Agent = agent.user()
	if lmID != nil {
		c.LastMessage = &models.Message{
			ID:       *lmID,
			ChatID:   c.ID,
			SenderID: deref(lmSender),
			Content:  deref(lmBody),
			Type:     models.MessageType(deref(lmType)),
		}
		if lmAt != nil {
			c.LastMessage.CreatedAt = *lmAt
		}
	}
	return &c, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m      models.Message
		sender nullableUser
	)
	dest := append([]any{&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt}, sender.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Sender = sender.user()
	return &m, nil
}

// chronological reverses a newest-first page in place.
func chronological(msgs []models.Message) []models.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
