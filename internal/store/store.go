// ABOUTME: Store interface and data types for relay-gateway persistence
// ABOUTME: Defines User, Contact, Conversation, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists for
// a (user, contact, channel) triple. Callers treat this as "re-fetch and use
// the existing row".
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateAddress is returned when a user is created with a phone number
// or email address that is already taken.
var ErrDuplicateAddress = errors.New("address already in use")

// User is a local identity with unique phone and email addresses.
// Identifiers are immutable once referenced by a conversation.
type User struct {
	ID           int64
	Name         string
	PhoneNumber  string
	EmailAddress string
	CreatedAt    time.Time
}

// Contact is an external party owned by exactly one user. Phone and email
// are optional; an empty string means the contact is unreachable on that
// channel.
type Contact struct {
	ID           int64
	UserID       int64
	Name         string
	PhoneNumber  string
	EmailAddress string
	CreatedAt    time.Time
}

// Conversation groups all messages between one user and one contact on one
// channel. At most one row exists per (user_id, contact_id, channel_type)
// triple; StartedAt is fixed at creation and never mutated.
type Conversation struct {
	ID          int64
	UserID      int64
	ContactID   int64
	ChannelType string // "text" or "email"
	StartedAt   time.Time
}

// Message is a single immutable message within a conversation. Ordering
// within a conversation is by Timestamp with insertion order as tiebreak.
type Message struct {
	ID             int64
	ConversationID int64
	UserID         int64
	ContactID      int64
	Subtype        string // "sms", "mms" or "email"
	Content        string
	Attachments    []string
	Timestamp      time.Time
}

// Store defines the interface for directory and conversation persistence.
type Store interface {
	// Users (directory)
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByPhone(ctx context.Context, phone string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	DeleteUser(ctx context.Context, id int64) error

	// Contacts (directory)
	CreateContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, id int64) (*Contact, error)
	GetContactByPhone(ctx context.Context, phone string) (*Contact, error)
	GetContactByEmail(ctx context.Context, email string) (*Contact, error)
	ListContacts(ctx context.Context) ([]*Contact, error)
	DeleteContact(ctx context.Context, id int64) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	GetConversationByTriple(ctx context.Context, userID, contactID int64, channelType string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
