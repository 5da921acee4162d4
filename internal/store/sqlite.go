package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

var _ DataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/deskchat.db". ":memory:" opens a
// private in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/deskchat.db"
	}

	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection: SQLite has a single writer, and each :memory:
	// connection would otherwise be a separate database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('agent', 'super-agent', 'customer')),
		avatar TEXT,
		is_online INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		agent_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role_online ON users(role, is_online);
	CREATE INDEX IF NOT EXISTS idx_chats_customer ON chats(customer_id, status);
	CREATE INDEX IF NOT EXISTS idx_chats_agent ON chats(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts u, assigning its id and timestamps.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	u.ID, u.CreatedAt, u.UpdatedAt = crypto.NewID(), now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Name, string(u.Role), u.Avatar, u.IsOnline, u.CreatedAt, u.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	return u, sqlNotFound(err)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	return u, sqlNotFound(err)
}

// ListUsers returns every user ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
}

// CountUsers returns the number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// SetUserOnline records a user's presence.
func (s *SQLiteStore) SetUserOnline(ctx context.Context, id string, online bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_online = ?, updated_at = ? WHERE id = ?
	`, online, time.Now().UTC(), id)
	return affected(res, err)
}

// ListAvailableAgents lists agents a customer can start a chat with.
func (s *SQLiteStore) ListAvailableAgents(ctx context.Context, customerID string) ([]models.User, error) {
	defer observe(time.Now(), "available_agents")
	return s.queryUsers(ctx, availableAgentsQuery, true, customerID)
}

// ListAvailableCustomers lists customers an agent can start a chat with.
func (s *SQLiteStore) ListAvailableCustomers(ctx context.Context, agentID string) ([]models.User, error) {
	defer observe(time.Now(), "available_customers")
	return s.queryUsers(ctx, availableCustomersQuery, true, agentID)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStore) CreateChat(ctx context.Context, customerID string, agentID *string) (*models.Chat, error) {
	defer observe(time.Now(), "create_chat")
	id := crypto.NewID()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, customer_id, agent_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, customerID, agentID, string(models.ChatActive), now, now)
	if err != nil {
		return nil, err
	}
	return s.GetChat(ctx, id)
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	c, err := scanChat(s.db.QueryRowContext(ctx, chatSelect+` WHERE c.id = ?`, id))
	return c, sqlNotFound(err)
}

// ListChats returns the chats viewer may see in the given status, most
// recently updated first.
func (s *SQLiteStore) ListChats(ctx context.Context, viewer *models.User, status models.ChatStatus) ([]models.Chat, error) {
	defer observe(time.Now(), "list_chats")
	where, args := visibleChats(viewer, status)
	for i, a := range args {
		if st, ok := a.(models.ChatStatus); ok {
			args[i] = string(st)
		}
	}

	rows, err := s.db.QueryContext(ctx, chatSelect+where+` ORDER BY c.updated_at DESC`, args...)
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
func (s *SQLiteStore) SetChatStatus(ctx context.Context, id string, status models.ChatStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	return affected(res, err)
}

// CountChats returns the number of chats in status.
func (s *SQLiteStore) CountChats(ctx context.Context, status models.ChatStatus) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE status = ?`, string(status)).Scan(&count)
	return count, err
}

// CreateMessage stores m, assigning its id and timestamp, and bumps the
// chat's updated_at in the same transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *models.Message) error {
	defer observe(time.Now(), "create_message")
	m.ID, m.CreatedAt = crypto.NewMessageID(), time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChatID, m.SenderID, m.Content, string(m.Type), m.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ChatID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMessages returns up to limit messages of a chat, skipping the newest
// offset, in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	defer observe(time.Now(), "list_messages")
	rows, err := s.db.QueryContext(ctx, messageSelect, chatID, limit, offset)
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

func sqlNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
