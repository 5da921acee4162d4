package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ DataStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts u, assigning its id and timestamps.
func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	u.ID, u.CreatedAt, u.UpdatedAt = crypto.NewID(), now, now

	_, err := s.pool.Exec(ctx, rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Username, u.Email, u.PasswordHash, u.Name, u.Role, u.Avatar, u.IsOnline, u.CreatedAt, u.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	return u, pgNotFound(err)
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username))
	return u, pgNotFound(err)
}

// ListUsers returns every user ordered by name.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
}

// CountUsers returns the number of users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// SetUserOnline records a user's presence.
func (s *PostgresStore) SetUserOnline(ctx context.Context, id string, online bool) error {
	tag, err := s.pool.Exec(ctx, rebind(`
		UPDATE users SET is_online = ?, updated_at = ? WHERE id = ?
	`), online, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAvailableAgents lists agents a customer can start a chat with.
func (s *PostgresStore) ListAvailableAgents(ctx context.Context, customerID string) ([]models.User, error) {
	defer observe(time.Now(), "available_agents")
	return s.queryUsers(ctx, availableAgentsQuery, true, customerID)
}

// ListAvailableCustomers lists customers an agent can start a chat with.
func (s *PostgresStore) ListAvailableCustomers(ctx context.Context, agentID string) ([]models.User, error) {
	defer observe(time.Now(), "available_customers")
	return s.queryUsers(ctx, availableCustomersQuery, true, agentID)
}

func (s *PostgresStore) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateChat opens an active chat and returns it with its participants.
func (s *PostgresStore) CreateChat(ctx context.Context, customerID string, agentID *string) (*models.Chat, error) {
	defer observe(time.Now(), "create_chat")
	id := crypto.NewID()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, rebind(`
		INSERT INTO chats (id, customer_id, agent_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), id, customerID, agentID, models.ChatActive, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetChat(ctx, id)
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	c, err := scanChat(s.pool.QueryRow(ctx, rebind(chatSelect+` WHERE c.id = ?`), id))
	return c, pgNotFound(err)
}

// ListChats returns the chats viewer may see in the given status, most
// recently updated first.
func (s *PostgresStore) ListChats(ctx context.Context, viewer *models.User, status models.ChatStatus) ([]models.Chat, error) {
	defer observe(time.Now(), "list_chats")
	where, args := visibleChats(viewer, status)
	rows, err := s.pool.Query(ctx, rebind(chatSelect+where+` ORDER BY c.updated_at DESC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// SetChatStatus moves a chat between active and archived.
func (s *PostgresStore) SetChatStatus(ctx context.Context, id string, status models.ChatStatus) error {
	tag, err := s.pool.Exec(ctx, rebind(`
		UPDATE chats SET status = ?, updated_at = ? WHERE id = ?
	`), status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountChats returns the number of chats in status.
func (s *PostgresStore) CountChats(ctx context.Context, status models.ChatStatus) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chats WHERE status = $1`, status).Scan(&count)
	return count, err
}

// CreateMessage stores m, assigning its id and timestamp, and bumps the
// chat's updated_at in the same transaction.
func (s *PostgresStore) CreateMessage(ctx context.Context, m *models.Message) error {
	defer observe(time.Now(), "create_message")
	m.ID, m.CreatedAt = crypto.NewMessageID(), time.Now().UTC()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, rebind(`
			INSERT INTO messages (id, chat_id, sender_id, content, message_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), m.ID, m.ChatID, m.SenderID, m.Content, m.Type, m.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, rebind(`UPDATE chats SET updated_at = ? WHERE id = ?`), m.CreatedAt, m.ChatID)
		return err
	})
}

// ListMessages returns up to limit messages of a chat, skipping the newest
// offset, in chronological order.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	defer observe(time.Now(), "list_messages")
	rows, err := s.pool.Query(ctx, rebind(messageSelect), chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chronological(msgs), nil
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
