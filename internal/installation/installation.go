// ABOUTME: Caller-facing installation payload, lookup query, and not-found error
// ABOUTME: An Installation fans out into up to two grant records at write time

package installation

import (
	"fmt"
	"time"
)

// Grant is one OAuth credential grant, either bot- or user-level.
type Grant struct {
	Token        string
	RefreshToken string
	// ExpiresAt is zero when the token does not expire.
	ExpiresAt time.Time
	Scopes    []string
}

// Installation is the unit passed to StoreInstallation and returned by
// FetchInstallation. It may carry a bot grant, a user grant, or both. It is
// never stored as-is; each grant becomes its own record with its own
// lifetime.
type Installation struct {
	AppID        string
	EnterpriseID string
	TeamID       string
	// UserID identifies the installing user. Required for the user grant
	// to be persisted.
	UserID string
	// IsEnterpriseInstall marks an organization-wide install; the team id
	// is ignored when building scope keys for such installs.
	IsEnterpriseInstall bool

	Bot  *Grant
	User *Grant
}

// Query identifies the scope of a fetch or delete. A query without a UserID
// addresses the shared bot grant; with a UserID it also addresses that
// user's personal grant.
type Query struct {
	EnterpriseID        string
	TeamID              string
	UserID              string
	IsEnterpriseInstall bool
}

// NotFoundError is returned by FetchInstallation when neither the bot nor
// the requested user grant exists for the query scope.
type NotFoundError struct {
	EnterpriseID string
	TeamID       string
	UserID       string
}

// Error renders the message in the exact format existing callers match on.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("No installation data found (enterprise_id: %s, team_id: %s, user_id: %s)",
		orUndefined(e.EnterpriseID), orUndefined(e.TeamID), orUndefined(e.UserID))
}

func orUndefined(s string) string {
	if s == "" {
		return "undefined"
	}
	return s
}
