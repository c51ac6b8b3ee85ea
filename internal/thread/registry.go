// ABOUTME: Conversation registry - finds or creates the unique thread for a triple
// ABOUTME: Get-or-create is insert-then-refetch so the store's unique index is the backstop

package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/threadworks/relay-gateway/internal/channel"
	"github.com/threadworks/relay-gateway/internal/store"
)

// ErrChannelMismatch is returned when an explicitly supplied conversation
// exists but is bound to a different channel than the message implies.
var ErrChannelMismatch = errors.New("conversation channel mismatch")

// Store defines what the registry needs from storage
type Store interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	GetConversationByTriple(ctx context.Context, userID, contactID int64, channelType string) (*store.Conversation, error)
}

// Registry resolves conversations for (user, contact, channel) triples.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Registry backed by the given store.
func New(st Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  st,
		logger: logger.With("component", "thread"),
		now:    time.Now,
	}
}

// GetOrCreate returns the conversation for the triple, creating it with
// started_at = now on first use. At most one conversation exists per
// triple: if a concurrent request creates the row between our lookup and
// insert, the duplicate error triggers a re-fetch of the winner.
func (r *Registry) GetOrCreate(ctx context.Context, userID, contactID int64, ch channel.Type) (*store.Conversation, error) {
	conv, err := r.store.GetConversationByTriple(ctx, userID, contactID, ch.String())
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = &store.Conversation{
		UserID:      userID,
		ContactID:   contactID,
		ChannelType: ch.String(),
		StartedAt:   r.now().UTC(),
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			r.logger.Debug("conversation creation hit duplicate, retrying lookup",
				"user_id", userID,
				"contact_id", contactID,
				"channel", ch)
			existing, lookupErr := r.store.GetConversationByTriple(ctx, userID, contactID, ch.String())
			if lookupErr == nil {
				return existing, nil
			}
			r.logger.Error("retry lookup failed after duplicate error",
				"lookup_error", lookupErr)
			return nil, lookupErr
		}
		return nil, err
	}

	r.logger.Debug("conversation created",
		"conversation_id", conv.ID,
		"user_id", userID,
		"contact_id", contactID,
		"channel", ch)
	return conv, nil
}

// Resolve fetches an explicitly supplied conversation and verifies its
// stored channel matches the channel implied by the message. Returns
// store.ErrNotFound for a missing id and ErrChannelMismatch when the
// channels disagree.
func (r *Registry) Resolve(ctx context.Context, conversationID int64, ch channel.Type) (*store.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.ChannelType != ch.String() {
		return nil, fmt.Errorf("conversation %d is %s, message is %s: %w",
			conversationID, conv.ChannelType, ch, ErrChannelMismatch)
	}

	return conv, nil
}
