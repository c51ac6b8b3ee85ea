// Package store provides persistent storage for relay-gateway.
//
// # Architecture
//
// The package exposes a single Store interface with two SQL backends and an
// in-memory test double:
//
//   - SQLiteStore: modernc.org/sqlite backend, schema bootstrapped on open
//   - PostgresStore: sqlx over the pgx stdlib driver
//   - MockStore: in-memory implementation with write-failure injection
//
// Both SQL backends create their schema on startup (CREATE TABLE IF NOT
// EXISTS) so no external migration step is required.
//
// # Data Models
//
//   - User: local identity with unique phone number and email address
//   - Contact: external party owned by one user; phone/email optional
//   - Conversation: unique per (user_id, contact_id, channel_type) triple
//   - Message: immutable row within a conversation, ordered by
//     (timestamp, id)
//
// Contacts, conversations and messages cascade-delete from their parents:
// removing a contact removes its conversations and their messages.
//
// # Conversation Uniqueness
//
// The conversations table carries a unique index over the
// (user_id, contact_id, channel_type) triple. CreateConversation maps a
// constraint violation to ErrDuplicateConversation so callers can treat
// creation as "insert; on conflict, re-select". That index is the only
// duplicate-thread guard in the system; no application-level lock is held
// across the get-or-create step.
//
// # Error Handling
//
// Lookups return ErrNotFound for missing rows. Inserts return
// ErrDuplicateConversation or ErrDuplicateAddress for uniqueness
// violations. All other errors are wrapped with context about the failed
// operation.
package store
