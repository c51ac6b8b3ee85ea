// ABOUTME: JSON request/response types for the relay-gateway HTTP API
// ABOUTME: Wire aliases follow the provider contract (from/to, messaging_provider_id)

package httpapi

import (
	"encoding/json"
	"time"

	"github.com/threadworks/relay-gateway/internal/store"
)

// SendMessageRequest is the JSON request body for POST /api/messages/send.
type SendMessageRequest struct {
	UserID         int64     `json:"user_id"`
	ContactID      int64     `json:"contact_id"`
	ConversationID *int64    `json:"conversation_id,omitempty"`
	MessageType    string    `json:"message_type"`
	Content        string    `json:"content"`
	Attachment     []string  `json:"attachment,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SendMessageResponse is the JSON response for POST /api/messages/send.
type SendMessageResponse struct {
	Message          MessageResponse `json:"message"`
	ProviderResponse json.RawMessage `json:"provider_response"`
}

// InboundMessageRequest is the JSON request body for the provider callback
// endpoints. The provider message identifier arrives as either
// messaging_provider_id or xillio_id; type is present for text callbacks
// only.
type InboundMessageRequest struct {
	From                string    `json:"from"`
	To                  string    `json:"to"`
	Type                string    `json:"type,omitempty"`
	MessagingProviderID string    `json:"messaging_provider_id,omitempty"`
	XillioID            string    `json:"xillio_id,omitempty"`
	Body                string    `json:"body"`
	Attachment          []string  `json:"attachment,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// providerID returns the provider message identifier under either alias.
func (r *InboundMessageRequest) providerID() string {
	if r.MessagingProviderID != "" {
		return r.MessagingProviderID
	}
	return r.XillioID
}

// InboundMessageResponse acknowledges a callback by mirroring the
// normalized inbound payload. Internal row fields are not exposed.
type InboundMessageResponse struct {
	From                string    `json:"from"`
	To                  string    `json:"to"`
	Type                string    `json:"type,omitempty"`
	MessagingProviderID string    `json:"messaging_provider_id"`
	Body                string    `json:"body"`
	Attachment          []string  `json:"attachment"`
	Timestamp           time.Time `json:"timestamp"`
}

// CreateUserRequest is the JSON request body for PUT /api/users.
type CreateUserRequest struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	EmailAddress string `json:"email_address"`
}

// UserResponse is the JSON shape of a directory user.
type UserResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	EmailAddress string `json:"email_address"`
}

// CreateContactRequest is the JSON request body for PUT /api/contacts.
type CreateContactRequest struct {
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
}

// ContactResponse is the JSON shape of a directory contact.
type ContactResponse struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
}

// ConversationResponse is the JSON shape of a conversation thread.
type ConversationResponse struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	ContactID   int64  `json:"contact_id"`
	ChannelType string `json:"channel_type"`
	StartedAt   string `json:"started_at"`
}

// MessageResponse is the JSON shape of a persisted message.
type MessageResponse struct {
	ID             int64    `json:"id"`
	ConversationID int64    `json:"conversation_id"`
	UserID         int64    `json:"user_id"`
	ContactID      int64    `json:"contact_id"`
	MessageType    string   `json:"message_type"`
	Content        string   `json:"content"`
	Attachment     []string `json:"attachment"`
	Timestamp      string   `json:"timestamp"`
}

// ConversationMessagesResponse is the JSON response for
// GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID int64             `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// ErrorResponse is the standard API error shape: a machine-readable kind
// plus a human-readable detail.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Name:         u.Name,
		PhoneNumber:  u.PhoneNumber,
		EmailAddress: u.EmailAddress,
	}
}

func contactResponse(c *store.Contact) ContactResponse {
	return ContactResponse{
		ID:           c.ID,
		UserID:       c.UserID,
		Name:         c.Name,
		PhoneNumber:  c.PhoneNumber,
		EmailAddress: c.EmailAddress,
	}
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:          c.ID,
		UserID:      c.UserID,
		ContactID:   c.ContactID,
		ChannelType: c.ChannelType,
		StartedAt:   c.StartedAt.UTC().Format(time.RFC3339),
	}
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		ContactID:      m.ContactID,
		MessageType:    m.Subtype,
		Content:        m.Content,
		Attachment:     m.Attachments,
		Timestamp:      m.Timestamp.UTC().Format(time.RFC3339),
	}
}
