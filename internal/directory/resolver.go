// ABOUTME: Directory resolver mapping user/contact identifiers to channel addresses
// ABOUTME: Bidirectional pure-read lookups against the directory store

package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/threadworks/relay-gateway/internal/channel"
	"github.com/threadworks/relay-gateway/internal/store"
)

// Store defines what the resolver needs from storage
type Store interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetContact(ctx context.Context, id int64) (*store.Contact, error)
	GetContactByPhone(ctx context.Context, phone string) (*store.Contact, error)
	GetContactByEmail(ctx context.Context, email string) (*store.Contact, error)
}

// Resolver answers id <-> address questions scoped to a channel. All
// operations are pure reads; misses surface as store.ErrNotFound and the
// caller decides whether that means an unknown user or an unknown contact.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// New creates a Resolver backed by the given store.
func New(st Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  st,
		logger: logger.With("component", "directory"),
	}
}

// UserAddress returns the user's address on the given channel:
// the phone number for text, the email address for email.
func (r *Resolver) UserAddress(ctx context.Context, userID int64, ch channel.Type) (string, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	switch ch {
	case channel.TypeText:
		return user.PhoneNumber, nil
	case channel.TypeEmail:
		return user.EmailAddress, nil
	default:
		return "", fmt.Errorf("unknown channel %q", ch)
	}
}

// ContactAddress returns the contact's address on the given channel.
// A contact without an address on that channel resolves as not found,
// so a send can never proceed without a valid destination.
func (r *Resolver) ContactAddress(ctx context.Context, contactID int64, ch channel.Type) (string, error) {
	contact, err := r.store.GetContact(ctx, contactID)
	if err != nil {
		return "", err
	}

	var addr string
	switch ch {
	case channel.TypeText:
		addr = contact.PhoneNumber
	case channel.TypeEmail:
		addr = contact.EmailAddress
	default:
		return "", fmt.Errorf("unknown channel %q", ch)
	}

	if addr == "" {
		return "", fmt.Errorf("contact %d has no %s address: %w", contactID, ch, store.ErrNotFound)
	}
	return addr, nil
}

// UserIDByAddress returns the ID of the user owning the given address on
// the given channel.
func (r *Resolver) UserIDByAddress(ctx context.Context, address string, ch channel.Type) (int64, error) {
	var user *store.User
	var err error

	switch ch {
	case channel.TypeText:
		user, err = r.store.GetUserByPhone(ctx, address)
	case channel.TypeEmail:
		user, err = r.store.GetUserByEmail(ctx, address)
	default:
		return 0, fmt.Errorf("unknown channel %q", ch)
	}
	if err != nil {
		return 0, err
	}

	return user.ID, nil
}

// ContactIDByAddress returns the ID of the contact holding the given
// address on the given channel.
func (r *Resolver) ContactIDByAddress(ctx context.Context, address string, ch channel.Type) (int64, error) {
	var contact *store.Contact
	var err error

	switch ch {
	case channel.TypeText:
		contact, err = r.store.GetContactByPhone(ctx, address)
	case channel.TypeEmail:
		contact, err = r.store.GetContactByEmail(ctx, address)
	default:
		return 0, fmt.Errorf("unknown channel %q", ch)
	}
	if err != nil {
		return 0, err
	}

	return contact.ID, nil
}
