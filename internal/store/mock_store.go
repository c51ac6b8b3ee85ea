// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows engine tests to run without a database and to inject write failures

package store

import (
	"context"
	"fmt"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[int64]*User
	contacts      map[int64]*Contact
	conversations map[int64]*Conversation
	tripleIndex   map[string]int64 // "userID:contactID:channel" -> conversation ID
	messages      map[int64][]*Message
	nextID        int64

	// SaveMessageErr, when set, is returned by SaveMessage. Used to
	// exercise the persistence-failure path after a successful delivery.
	SaveMessageErr error

	// CreateConversationErr, when set, is returned by CreateConversation
	// once and then cleared. Used to simulate a duplicate-insert race.
	CreateConversationErr error

	// MissTripleOnce, when set, makes the next GetConversationByTriple
	// return ErrNotFound even if a conversation exists. Combined with
	// CreateConversationErr it reproduces the window where a concurrent
	// writer inserts between the lookup and the insert.
	MissTripleOnce bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[int64]*User),
		contacts:      make(map[int64]*Contact),
		conversations: make(map[int64]*Conversation),
		tripleIndex:   make(map[string]int64),
		messages:      make(map[int64][]*Message),
	}
}

func tripleKey(userID, contactID int64, channelType string) string {
	return fmt.Sprintf("%d:%d:%s", userID, contactID, channelType)
}

func (m *MockStore) nextSequence() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser stores a new user, enforcing unique phone and email.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.PhoneNumber == user.PhoneNumber || existing.EmailAddress == user.EmailAddress {
			return ErrDuplicateAddress
		}
	}

	user.ID = m.nextSequence()
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByPhone retrieves the user owning the given phone number.
func (m *MockStore) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.PhoneNumber == phone && phone != "" {
			result := *u
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByEmail retrieves the user owning the given email address.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.EmailAddress == email && email != "" {
			result := *u
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns all users ordered by ID.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			result := *u
			users = append(users, &result)
		}
	}
	return users, nil
}

// DeleteUser removes a user and cascades to its conversations and messages.
func (m *MockStore) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)

	for convID, conv := range m.conversations {
		if conv.UserID == id {
			m.removeConversationLocked(convID)
		}
	}
	return nil
}

// CreateContact stores a new contact.
func (m *MockStore) CreateContact(ctx context.Context, contact *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	contact.ID = m.nextSequence()
	c := *contact
	m.contacts[c.ID] = &c
	return nil
}

// GetContact retrieves a contact by ID.
func (m *MockStore) GetContact(ctx context.Context, id int64) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetContactByPhone retrieves the contact holding the given phone number.
func (m *MockStore) GetContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.contacts {
		if c.PhoneNumber == phone && phone != "" {
			result := *c
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// GetContactByEmail retrieves the contact holding the given email address.
func (m *MockStore) GetContactByEmail(ctx context.Context, email string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.contacts {
		if c.EmailAddress == email && email != "" {
			result := *c
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// ListContacts returns all contacts ordered by ID.
func (m *MockStore) ListContacts(ctx context.Context) ([]*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contacts := make([]*Contact, 0, len(m.contacts))
	for id := int64(1); id <= m.nextID; id++ {
		if c, ok := m.contacts[id]; ok {
			result := *c
			contacts = append(contacts, &result)
		}
	}
	return contacts, nil
}

// DeleteContact removes a contact and cascades to its conversations and
// messages.
func (m *MockStore) DeleteContact(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(m.contacts, id)

	for convID, conv := range m.conversations {
		if conv.ContactID == id {
			m.removeConversationLocked(convID)
		}
	}
	return nil
}

func (m *MockStore) removeConversationLocked(id int64) {
	conv := m.conversations[id]
	if conv == nil {
		return
	}
	delete(m.tripleIndex, tripleKey(conv.UserID, conv.ContactID, conv.ChannelType))
	delete(m.conversations, id)
	delete(m.messages, id)
}

// CreateConversation stores a new conversation, enforcing the unique
// (user, contact, channel) triple.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.CreateConversationErr; err != nil {
		m.CreateConversationErr = nil
		return err
	}

	key := tripleKey(conv.UserID, conv.ContactID, conv.ChannelType)
	if _, exists := m.tripleIndex[key]; exists {
		return ErrDuplicateConversation
	}

	conv.ID = m.nextSequence()
	c := *conv
	m.conversations[c.ID] = &c
	m.tripleIndex[key] = c.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetConversationByTriple retrieves a conversation by its unique triple.
func (m *MockStore) GetConversationByTriple(ctx context.Context, userID, contactID int64, channelType string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MissTripleOnce {
		m.MissTripleOnce = false
		return nil, ErrNotFound
	}

	id, ok := m.tripleIndex[tripleKey(userID, contactID, channelType)]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListConversations returns conversations, newest first by ID.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var convs []*Conversation
	for id := m.nextID; id >= 1 && len(convs) < limit; id-- {
		if c, ok := m.conversations[id]; ok {
			result := *c
			convs = append(convs, &result)
		}
	}
	return convs, nil
}

// SaveMessage stores a message, honoring SaveMessageErr if set.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveMessageErr != nil {
		return m.SaveMessageErr
	}

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("inserting message: conversation %d does not exist", msg.ConversationID)
	}

	msg.ID = m.nextSequence()
	saved := *msg
	if saved.Attachments == nil {
		saved.Attachments = []string{}
	}
	m.messages[saved.ConversationID] = append(m.messages[saved.ConversationID], &saved)
	return nil
}

// GetConversationMessages returns messages for a conversation ordered by
// timestamp with insertion order as tiebreak.
func (m *MockStore) GetConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	stored := m.messages[conversationID]
	messages := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		result := *msg
		messages = append(messages, &result)
	}

	// Insertion order already breaks timestamp ties; sort stably by timestamp.
	for i := 1; i < len(messages); i++ {
		for j := i; j > 0 && messages[j].Timestamp.Before(messages[j-1].Timestamp); j-- {
			messages[j], messages[j-1] = messages[j-1], messages[j]
		}
	}

	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
