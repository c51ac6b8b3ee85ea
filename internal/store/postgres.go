// ABOUTME: PostgreSQL implementation of the Store interface using sqlx over pgx
// ABOUTME: Mirrors the SQLite schema with native types and ON CONFLICT semantics

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore connects to PostgreSQL using the given DSN and ensures
// the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL PRIMARY KEY,
			name          TEXT NOT NULL,
			phone_number  TEXT NOT NULL UNIQUE,
			email_address TEXT NOT NULL UNIQUE,
			created_at    TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS contacts (
			id            BIGSERIAL PRIMARY KEY,
			user_id       BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name          TEXT NOT NULL,
			phone_number  TEXT,
			email_address TEXT,
			created_at    TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);
		CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone_number);
		CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email_address);

		CREATE TABLE IF NOT EXISTS conversations (
			id           BIGSERIAL PRIMARY KEY,
			user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			contact_id   BIGINT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			channel_type TEXT NOT NULL CHECK (channel_type IN ('text', 'email')),
			started_at   TIMESTAMPTZ NOT NULL,

			UNIQUE (user_id, contact_id, channel_type)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			contact_id      BIGINT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			message_subtype TEXT NOT NULL CHECK (message_subtype IN ('sms', 'mms', 'email')),
			content         TEXT NOT NULL,
			attachments     JSONB NOT NULL DEFAULT '[]',
			timestamp       TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, timestamp, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	return s.db.Close()
}

// isUniqueViolation checks for a PostgreSQL unique_violation (23505) error
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// userRow maps the users table for sqlx scanning
type userRow struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	PhoneNumber  string    `db:"phone_number"`
	EmailAddress string    `db:"email_address"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *userRow) toUser() *User {
	return &User{
		ID:           r.ID,
		Name:         r.Name,
		PhoneNumber:  r.PhoneNumber,
		EmailAddress: r.EmailAddress,
		CreatedAt:    r.CreatedAt,
	}
}

type contactRow struct {
	ID           int64          `db:"id"`
	UserID       int64          `db:"user_id"`
	Name         string         `db:"name"`
	PhoneNumber  sql.NullString `db:"phone_number"`
	EmailAddress sql.NullString `db:"email_address"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *contactRow) toContact() *Contact {
	return &Contact{
		ID:           r.ID,
		UserID:       r.UserID,
		Name:         r.Name,
		PhoneNumber:  r.PhoneNumber.String,
		EmailAddress: r.EmailAddress.String,
		CreatedAt:    r.CreatedAt,
	}
}

type conversationRow struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	ContactID   int64     `db:"contact_id"`
	ChannelType string    `db:"channel_type"`
	StartedAt   time.Time `db:"started_at"`
}

func (r *conversationRow) toConversation() *Conversation {
	return &Conversation{
		ID:          r.ID,
		UserID:      r.UserID,
		ContactID:   r.ContactID,
		ChannelType: r.ChannelType,
		StartedAt:   r.StartedAt,
	}
}

type messageRow struct {
	ID             int64     `db:"id"`
	ConversationID int64     `db:"conversation_id"`
	UserID         int64     `db:"user_id"`
	ContactID      int64     `db:"contact_id"`
	Subtype        string    `db:"message_subtype"`
	Content        string    `db:"content"`
	Attachments    string    `db:"attachments"`
	Timestamp      time.Time `db:"timestamp"`
}

func (r *messageRow) toMessage() (*Message, error) {
	attachments, err := unmarshalAttachments(r.Attachments)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		UserID:         r.UserID,
		ContactID:      r.ContactID,
		Subtype:        r.Subtype,
		Content:        r.Content,
		Attachments:    attachments,
		Timestamp:      r.Timestamp,
	}, nil
}

// CreateUser inserts a new user and sets its assigned ID.
// Returns ErrDuplicateAddress if the phone number or email is already taken.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (name, phone_number, email_address, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		user.Name,
		user.PhoneNumber,
		user.EmailAddress,
		user.CreatedAt.UTC(),
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAddress
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "name", user.Name)
	return nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = $1", id)
}

// GetUserByPhone retrieves the user owning the given phone number.
func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	return s.getUser(ctx, "phone_number = $1", phone)
}

// GetUserByEmail retrieves the user owning the given email address.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email_address = $1", email)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, name, phone_number, email_address, created_at
		FROM users
		WHERE ` + where

	var row userRow
	err := s.db.GetContext(ctx, &row, query, arg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return row.toUser(), nil
}

// ListUsers retrieves all users ordered by ID.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, name, phone_number, email_address, created_at
		FROM users
		ORDER BY id
	`

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}

	users := make([]*User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].toUser())
	}
	return users, nil
}

// DeleteUser removes a user. Conversations and messages referencing the
// user are removed by the cascading foreign keys.
func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
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
func (s *PostgresStore) CreateContact(ctx context.Context, contact *Contact) error {
	query := `
		INSERT INTO contacts (user_id, name, phone_number, email_address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		contact.UserID,
		contact.Name,
		nullString(contact.PhoneNumber),
		nullString(contact.EmailAddress),
		contact.CreatedAt.UTC(),
	).Scan(&contact.ID)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}

	s.logger.Debug("created contact", "id", contact.ID, "user_id", contact.UserID)
	return nil
}

// GetContact retrieves a contact by ID.
func (s *PostgresStore) GetContact(ctx context.Context, id int64) (*Contact, error) {
	return s.getContact(ctx, "id = $1", id)
}

// GetContactByPhone retrieves the contact holding the given phone number.
func (s *PostgresStore) GetContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	return s.getContact(ctx, "phone_number = $1", phone)
}

// GetContactByEmail retrieves the contact holding the given email address.
func (s *PostgresStore) GetContactByEmail(ctx context.Context, email string) (*Contact, error) {
	return s.getContact(ctx, "email_address = $1", email)
}

func (s *PostgresStore) getContact(ctx context.Context, where string, arg any) (*Contact, error) {
	query := `
		SELECT id, user_id, name, phone_number, email_address, created_at
		FROM contacts
		WHERE ` + where

	var row contactRow
	err := s.db.GetContext(ctx, &row, query, arg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}

	return row.toContact(), nil
}

// ListContacts retrieves all contacts ordered by ID.
func (s *PostgresStore) ListContacts(ctx context.Context) ([]*Contact, error) {
	query := `
		SELECT id, user_id, name, phone_number, email_address, created_at
		FROM contacts
		ORDER BY id
	`

	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}

	contacts := make([]*Contact, 0, len(rows))
	for i := range rows {
		contacts = append(contacts, rows[i].toContact())
	}
	return contacts, nil
}

// DeleteContact removes a contact. Conversations and messages referencing
// the contact are removed by the cascading foreign keys.
func (s *PostgresStore) DeleteContact(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
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
// Returns ErrDuplicateConversation if the (user, contact, channel) triple
// already has a conversation.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (user_id, contact_id, channel_type, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		conv.UserID,
		conv.ContactID,
		conv.ChannelType,
		conv.StartedAt.UTC(),
	).Scan(&conv.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"user_id", conv.UserID,
		"contact_id", conv.ContactID,
		"channel", conv.ChannelType)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	query := `
		SELECT id, user_id, contact_id, channel_type, started_at
		FROM conversations
		WHERE id = $1
	`

	var row conversationRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	return row.toConversation(), nil
}

// GetConversationByTriple retrieves the conversation for a
// (user, contact, channel) triple.
func (s *PostgresStore) GetConversationByTriple(ctx context.Context, userID, contactID int64, channelType string) (*Conversation, error) {
	query := `
		SELECT id, user_id, contact_id, channel_type, started_at
		FROM conversations
		WHERE user_id = $1 AND contact_id = $2 AND channel_type = $3
	`

	var row conversationRow
	err := s.db.GetContext(ctx, &row, query, userID, contactID, channelType)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by triple: %w", err)
	}

	return row.toConversation(), nil
}

// ListConversations retrieves conversations ordered by most recently started.
func (s *PostgresStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
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
		LIMIT $1
	`

	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	convs := make([]*Conversation, 0, len(rows))
	for i := range rows {
		convs = append(convs, rows[i].toConversation())
	}
	return convs, nil
}

// SaveMessage inserts a message and sets its assigned ID.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *Message) error {
	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (conversation_id, user_id, contact_id, message_subtype, content, attachments, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		msg.ConversationID,
		msg.UserID,
		msg.ContactID,
		msg.Subtype,
		msg.Content,
		attachments,
		msg.Timestamp.UTC(),
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"subtype", msg.Subtype)
	return nil
}

// GetConversationMessages retrieves messages for a conversation ordered by
// timestamp with insertion order as tiebreak.
func (s *PostgresStore) GetConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, conversation_id, user_id, contact_id, message_subtype, content, attachments, timestamp
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp, id
		LIMIT $2
	`

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, conversationID, limit); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	messages := make([]*Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
