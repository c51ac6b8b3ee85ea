// ABOUTME: Error taxonomy for the routing engine
// ABOUTME: Every surfaced error carries a machine-readable kind and a human detail

package relay

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	KindInvalidChannel              Kind = "invalid_channel"
	KindUnknownUser                 Kind = "unknown_user"
	KindUnknownContact              Kind = "unknown_contact"
	KindConversationNotFound        Kind = "conversation_not_found"
	KindConversationChannelMismatch Kind = "conversation_channel_mismatch"
	KindDeliveryFailed              Kind = "delivery_failed"
	KindDeliveryUnavailable         Kind = "delivery_unavailable"
	KindPersistenceFailure          Kind = "persistence_failure"
)

// Error is a classified engine error. UpstreamStatus and UpstreamBody are
// populated for KindDeliveryFailed only, carrying the provider's last
// response.
type Error struct {
	Kind           Kind
	Detail         string
	UpstreamStatus int
	UpstreamBody   string
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errf builds a classified error with a formatted detail string.
func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// wrapf builds a classified error preserving the cause for errors.Is/As.
func wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain, or "" if the error is not
// a classified engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
