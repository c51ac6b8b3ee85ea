// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides directory/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so cascade deletes actually fire
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL,
			phone_number  TEXT NOT NULL UNIQUE,
			email_address TEXT NOT NULL UNIQUE,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS contacts (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name          TEXT NOT NULL,
			phone_number  TEXT,
			email_address TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);
		CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone_number);
		CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email_address);

		CREATE TABLE IF NOT EXISTS conversations (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			contact_id   INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			channel_type TEXT NOT NULL,
			started_at   TEXT NOT NULL,

			CHECK (channel_type IN ('text', 'email'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_triple
			ON conversations(user_id, contact_id, channel_type);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			contact_id      INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			message_subtype TEXT NOT NULL,
			content         TEXT NOT NULL,
			attachments     TEXT NOT NULL DEFAULT '[]',
			timestamp       TEXT NOT NULL,

			CHECK (message_subtype IN ('sms', 'mms', 'email'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, timestamp, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// marshalAttachments encodes attachment handles as a JSON array string.
// A nil slice encodes as [] so the column is never NULL.
func marshalAttachments(attachments []string) (string, error) {
	if attachments == nil {
		attachments = []string{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("encoding attachments: %w", err)
	}
	return string(data), nil
}

func unmarshalAttachments(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var attachments []string
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil, fmt.Errorf("decoding attachments: %w", err)
	}
	return attachments, nil
}

// CreateUser inserts a new user and sets its assigned ID.
// Returns ErrDuplicateAddress if the phone number or email is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (name, phone_number, email_address, created_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		user.Name,
		user.PhoneNumber,
		user.EmailAddress,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAddress
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	user.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "name", user.Name)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByPhone retrieves the user owning the given phone number.
func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	return s.getUser(ctx, "phone_number = ?", phone)
}

// GetUserByEmail retrieves the user owning the given email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email_address = ?", email)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, name, phone_number, email_address, created_at
		FROM users
		WHERE ` + where

	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.PhoneNumber,
		&user.EmailAddress,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// ListUsers retrieves all users ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, name, phone_number, email_address, created_at
		FROM users
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		var createdAtStr string

		if err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.PhoneNumber,
			&user.EmailAddress,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}

		user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// DeleteUser removes a user. Conversations and messages referencing the
// user are removed by the cascading foreign keys.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted user", "id", id)
	return nil
}

// CreateContact inserts a new contact and sets its assigned ID.
func (s *SQLiteStore) CreateContact(ctx context.Context, contact *Contact) error {
	query := `
		INSERT INTO contacts (user_id, name, phone_number, email_address, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		contact.UserID,
		contact.Name,
		nullString(contact.PhoneNumber),
		nullString(contact.EmailAddress),
		contact.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}

	contact.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading contact id: %w", err)
	}

	s.logger.Debug("created contact", "id", contact.ID, "user_id", contact.UserID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetContact retrieves a contact by ID.
// Returns ErrNotFound if the contact doesn't exist.
func (s *SQLiteStore) GetContact(ctx context.Context, id int64) (*Contact, error) {
	return s.getContact(ctx, "id = ?", id)
}

// GetContactByPhone retrieves the contact holding the given phone number.
func (s *SQLiteStore) GetContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	return s.getContact(ctx, "phone_number = ?", phone)
}

// GetContactByEmail retrieves the contact holding the given email address.
func (s *SQLiteStore) GetContactByEmail(ctx context.Context, email string) (*Contact, error) {
	return s.getContact(ctx, "email_address = ?", email)
}

func (s *SQLiteStore) getContact(ctx context.Context, where string, arg any) (*Contact, error) {
	query := `
		SELECT id, user_id, name, COALESCE(phone_number, ''), COALESCE(email_address, ''), created_at
		FROM contacts
		WHERE ` + where

	var contact Contact
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&contact.ID,
		&contact.UserID,
		&contact.Name,
		&contact.PhoneNumber,
		&contact.EmailAddress,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}

	contact.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &contact, nil
}

// ListContacts retrieves all contacts ordered by ID.
func (s *SQLiteStore) ListContacts(ctx context.Context) ([]*Contact, error) {
	query := `
		SELECT id, user_id, name, COALESCE(phone_number, ''), COALESCE(email_address, ''), created_at
		FROM contacts
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var contact Contact
		var createdAtStr string

		if err := rows.Scan(
			&contact.ID,
			&contact.UserID,
			&contact.Name,
			&contact.PhoneNumber,
			&contact.EmailAddress,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}

		contact.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		contacts = append(contacts, &contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contact rows: %w", err)
	}

	return contacts, nil
}

// DeleteContact removes a contact. Conversations and messages referencing
// the contact are removed by the cascading foreign keys.
func (s *SQLiteStore) DeleteContact(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted contact", "id", id)
	return nil
}

// CreateConversation inserts a new conversation and sets its assigned ID.
// If a conversation already exists for the same (user, contact, channel)
// triple, it returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (user_id, contact_id, channel_type, started_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		conv.UserID,
		conv.ContactID,
		conv.ChannelType,
		conv.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	conv.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading conversation id: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"user_id", conv.UserID,
		"contact_id", conv.ContactID,
		"channel", conv.ChannelType)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	query := `
		SELECT id, user_id, contact_id, channel_type, started_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByTriple retrieves the conversation for a
// (user, contact, channel) triple. This uses the idx_conversations_triple
// unique index. Returns ErrNotFound if no conversation exists for the triple.
func (s *SQLiteStore) GetConversationByTriple(ctx context.Context, userID, contactID int64, channelType string) (*Conversation, error) {
	query := `
		SELECT id, user_id, contact_id, channel_type, started_at
		FROM conversations
		WHERE user_id = ? AND contact_id = ? AND channel_type = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, userID, contactID, channelType))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var startedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&conv.ContactID,
		&conv.ChannelType,
		&startedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.StartedAt, err = time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}

	return &conv, nil
}

// ListConversations retrieves conversations ordered by most recently started.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, user_id, contact_id, channel_type, started_at
		FROM conversations
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var startedAtStr string

		if err := rows.Scan(
			&conv.ID,
			&conv.UserID,
			&conv.ContactID,
			&conv.ChannelType,
			&startedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		conv.StartedAt, err = time.Parse(time.RFC3339, startedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}

		convs = append(convs, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return convs, nil
}

// SaveMessage inserts a message and sets its assigned ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (conversation_id, user_id, contact_id, message_subtype, content, attachments, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		msg.ConversationID,
		msg.UserID,
		msg.ContactID,
		msg.Subtype,
		msg.Content,
		attachments,
		msg.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	msg.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message id: %w", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"subtype", msg.Subtype)
	return nil
}

// GetConversationMessages retrieves messages for a conversation ordered by
// timestamp with insertion order as tiebreak. If limit is 0 or negative, a
// default limit of 100 is used.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, conversation_id, user_id, contact_id, message_subtype, content, attachments, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp, id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var attachmentsStr, timestampStr string

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.UserID,
			&msg.ContactID,
			&msg.Subtype,
			&msg.Content,
			&attachmentsStr,
			&timestampStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Attachments, err = unmarshalAttachments(attachmentsStr)
		if err != nil {
			return nil, err
		}

		msg.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}
