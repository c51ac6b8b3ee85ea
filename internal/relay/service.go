// ABOUTME: Message routing engines - outbound Send and inbound Ingest
// ABOUTME: Classify, resolve, thread, deliver, then persist; no partial rows on failure

package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/threadworks/relay-gateway/internal/channel"
	"github.com/threadworks/relay-gateway/internal/delivery"
	"github.com/threadworks/relay-gateway/internal/directory"
	"github.com/threadworks/relay-gateway/internal/store"
	"github.com/threadworks/relay-gateway/internal/thread"
)

// MessageStore defines what the engines need from message persistence
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
}

// Deliverer defines what the outbound engine needs from the provider client
type Deliverer interface {
	Deliver(ctx context.Context, ch channel.Type, payload *delivery.Payload) (*delivery.Response, error)
}

// Service routes outbound submissions and inbound callbacks. Each request
// executes sequentially: directory resolution, conversation resolution,
// (for outbound) network delivery, then persistence. All shared state lives
// in the store.
type Service struct {
	messages  MessageStore
	resolver  *directory.Resolver
	threads   *thread.Registry
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates the routing service.
func New(messages MessageStore, resolver *directory.Resolver, threads *thread.Registry, deliverer Deliverer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		messages:  messages,
		resolver:  resolver,
		threads:   threads,
		deliverer: deliverer,
		logger:    logger.With("component", "relay"),
		now:       time.Now,
	}
}

// Draft is an outbound submission from a caller.
type Draft struct {
	UserID         int64
	ContactID      int64
	ConversationID *int64 // optional; channel-checked when set
	Subtype        channel.Subtype
	Content        string
	Attachments    []string
	Timestamp      time.Time // zero means now
}

// SendResult is the outcome of a successful outbound send.
type SendResult struct {
	Message          *store.Message
	Outgoing         *delivery.Payload
	ProviderResponse *delivery.Response
}

// Send routes an outbound message: classify the channel, verify any
// explicitly supplied conversation, resolve source and destination
// addresses, deliver with bounded retry, and only then commit the
// conversation and message rows. Resolution and validation failures abort
// before any network call; delivery failures leave no rows behind.
func (s *Service) Send(ctx context.Context, draft *Draft) (*SendResult, error) {
	// Only inbound callbacks may omit the subtype; a submission must name it.
	if draft.Subtype == "" {
		return nil, errf(KindInvalidChannel, "message type is required")
	}
	ch, err := channel.Classify(draft.Subtype)
	if err != nil {
		return nil, wrapf(KindInvalidChannel, err, "invalid message type %q", draft.Subtype)
	}
	subtype := draft.Subtype

	// Explicit conversation must exist and carry the message's channel
	// before anything is sent.
	var conv *store.Conversation
	if draft.ConversationID != nil {
		conv, err = s.threads.Resolve(ctx, *draft.ConversationID, ch)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				return nil, errf(KindConversationNotFound, "conversation %d does not exist", *draft.ConversationID)
			case errors.Is(err, thread.ErrChannelMismatch):
				return nil, wrapf(KindConversationChannelMismatch, err, "conversation %d does not carry %s messages", *draft.ConversationID, ch)
			default:
				return nil, wrapf(KindPersistenceFailure, err, "resolving conversation %d", *draft.ConversationID)
			}
		}
	}

	source, err := s.resolver.UserAddress(ctx, draft.UserID, ch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errf(KindUnknownUser, "user %d does not exist", draft.UserID)
		}
		return nil, wrapf(KindPersistenceFailure, err, "resolving user %d", draft.UserID)
	}

	destination, err := s.resolver.ContactAddress(ctx, draft.ContactID, ch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errf(KindUnknownContact, "contact %d does not exist", draft.ContactID)
		}
		return nil, wrapf(KindPersistenceFailure, err, "resolving contact %d", draft.ContactID)
	}

	payload := &delivery.Payload{
		From:       source,
		To:         destination,
		Body:       draft.Content,
		Attachment: attachmentsOrEmpty(draft.Attachments),
	}
	if ch == channel.TypeText {
		payload.Type = subtype.String()
	}

	resp, err := s.deliverer.Deliver(ctx, ch, payload)
	if err != nil {
		var statusErr *delivery.StatusError
		switch {
		case errors.As(err, &statusErr):
			e := wrapf(KindDeliveryFailed, err, "failed to send message")
			e.UpstreamStatus = statusErr.StatusCode
			e.UpstreamBody = statusErr.Body
			return nil, e
		case errors.Is(err, delivery.ErrUnreachable):
			return nil, wrapf(KindDeliveryUnavailable, err, "failed to send message")
		default:
			return nil, wrapf(KindDeliveryUnavailable, err, "failed to send message")
		}
	}

	if conv == nil {
		conv, err = s.threads.GetOrCreate(ctx, draft.UserID, draft.ContactID, ch)
		if err != nil {
			// The message left the building but we have nothing to link it
			// to: sent but not recorded.
			return nil, wrapf(KindPersistenceFailure, err, "message delivered but conversation could not be recorded")
		}
	}

	timestamp := draft.Timestamp
	if timestamp.IsZero() {
		timestamp = s.now().UTC()
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		UserID:         draft.UserID,
		ContactID:      draft.ContactID,
		Subtype:        subtype.String(),
		Content:        draft.Content,
		Attachments:    attachmentsOrEmpty(draft.Attachments),
		Timestamp:      timestamp,
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return nil, wrapf(KindPersistenceFailure, err, "message delivered but not recorded")
	}

	s.logger.Info("message sent",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"channel", ch,
		"subtype", subtype)

	return &SendResult{
		Message:          msg,
		Outgoing:         payload,
		ProviderResponse: resp,
	}, nil
}

// Callback is a provider-originated inbound notification.
type Callback struct {
	From              string
	To                string
	Subtype           channel.Subtype // empty means email
	ProviderMessageID string
	Body              string
	Attachments       []string
	Timestamp         time.Time
}

// Ingest appends an inbound callback to the correct thread: the user is
// resolved from the destination address, the contact from the source, and
// the conversation is found or created for the resolved channel. Returns
// the persisted message row.
func (s *Service) Ingest(ctx context.Context, cb *Callback) (*store.Message, error) {
	ch, err := channel.Classify(cb.Subtype)
	if err != nil {
		return nil, wrapf(KindInvalidChannel, err, "invalid message type %q", cb.Subtype)
	}

	userID, err := s.resolver.UserIDByAddress(ctx, cb.To, ch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errf(KindUnknownUser, "no user associated with destination %s", cb.To)
		}
		return nil, wrapf(KindPersistenceFailure, err, "resolving destination %s", cb.To)
	}

	contactID, err := s.resolver.ContactIDByAddress(ctx, cb.From, ch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errf(KindUnknownContact, "no contact associated with source %s", cb.From)
		}
		return nil, wrapf(KindPersistenceFailure, err, "resolving source %s", cb.From)
	}

	// The created conversation carries the resolved channel, so an email
	// callback never seeds a text thread.
	conv, err := s.threads.GetOrCreate(ctx, userID, contactID, ch)
	if err != nil {
		return nil, wrapf(KindPersistenceFailure, err, "resolving conversation")
	}

	subtype := cb.Subtype
	if ch == channel.TypeEmail {
		subtype = channel.SubtypeEmail
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		UserID:         userID,
		ContactID:      contactID,
		Subtype:        subtype.String(),
		Content:        cb.Body,
		Attachments:    attachmentsOrEmpty(cb.Attachments),
		Timestamp:      cb.Timestamp,
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return nil, wrapf(KindPersistenceFailure, err, "recording inbound message")
	}

	s.logger.Info("message ingested",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"channel", ch,
		"provider_message_id", cb.ProviderMessageID)

	return msg, nil
}

// attachmentsOrEmpty normalizes nil attachment lists to empty.
func attachmentsOrEmpty(attachments []string) []string {
	if attachments == nil {
		return []string{}
	}
	return attachments
}
