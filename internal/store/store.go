// ABOUTME: Store interface and data types for grant record persistence
// ABOUTME: Defines ScopeKey, GrantRecord and the Store interface implemented by each backend

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a requested scope
var ErrNotFound = errors.New("not found")

// GrantKind discriminates bot grants from user grants
type GrantKind string

const (
	// GrantKindBot marks a credential shared by every user within a scope
	GrantKindBot GrantKind = "bot"
	// GrantKindUser marks a credential owned by one individual user
	GrantKindUser GrantKind = "user"
)

// ScopeKey is the exact coordinate identifying one credential's ownership
// boundary. Every field participates in equality; there is no partial or
// cross-partition matching. An empty PartitionID is the default application
// instance and is itself a distinct partition.
type ScopeKey struct {
	PartitionID  string
	EnterpriseID string
	TeamID       string
	// UserID is set only on user-grant keys. Bot-grant keys leave it empty.
	UserID string
}

// WithoutUser returns the bot-grant key for the same partition and
// enterprise/team coordinate.
func (k ScopeKey) WithoutUser() ScopeKey {
	k.UserID = ""
	return k
}

// WithUser returns the user-grant key for the given user id.
func (k ScopeKey) WithUser(userID string) ScopeKey {
	k.UserID = userID
	return k
}

// GrantRecord is one versioned credential row. Records are written through
// Append and never mutated afterward; resolution always asks for the record
// with the greatest Sequence per scope, so history-retaining and overwriting
// backends are observably equivalent to readers.
type GrantRecord struct {
	ID    string
	Scope ScopeKey
	Kind  GrantKind

	AppID               string
	IsEnterpriseInstall bool

	Token        string
	RefreshToken string
	// ExpiresAt is zero when the token does not expire.
	ExpiresAt time.Time
	Scopes    []string

	// Sequence is assigned by the backend at write time and is strictly
	// increasing across writers, so the latest write always wins.
	Sequence  int64
	CreatedAt time.Time
}

// Store defines the interface for grant record persistence.
//
// Backends may retain full write history or overwrite the current record
// per scope; either way FindLatest returns the record with the greatest
// sequence for an exact ScopeKey match.
type Store interface {
	// Append durably stores a record, assigning its ID, Sequence, and
	// CreatedAt, and returns the assigned sequence. When history retention
	// is disabled it behaves as an upsert keyed by the record's scope.
	Append(ctx context.Context, rec *GrantRecord) (int64, error)

	// FindLatest returns the record with the greatest sequence for an
	// exact ScopeKey match, or ErrNotFound.
	FindLatest(ctx context.Context, scope ScopeKey) (*GrantRecord, error)

	// DeleteAll removes every record for an exact ScopeKey match and
	// returns how many were removed. Deleting a scope with no records is
	// not an error.
	DeleteAll(ctx context.Context, scope ScopeKey) (int64, error)

	// List returns all stored records ordered by ascending sequence.
	List(ctx context.Context) ([]*GrantRecord, error)

	// Close releases any resources held by the store
	Close() error
}
