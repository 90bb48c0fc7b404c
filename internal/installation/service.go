// ABOUTME: Service is the installation resolution and versioning engine
// ABOUTME: Splits payloads into grant records, merges latest records on fetch, deletes asymmetrically

package installation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/installstore/internal/store"
)

// GrantStore defines what the service needs from storage
type GrantStore interface {
	Append(ctx context.Context, rec *store.GrantRecord) (int64, error)
	FindLatest(ctx context.Context, scope store.ScopeKey) (*store.GrantRecord, error)
	DeleteAll(ctx context.Context, scope store.ScopeKey) (int64, error)
	Close() error
}

// Service stores, resolves, and revokes installations for one application
// instance. The partition id is fixed at construction; two services with
// different partition ids never observe each other's records, even on the
// same backend. The service itself is stateless and safe for concurrent
// use; ordering between racing writes is settled by the backend-assigned
// sequence.
type Service struct {
	store       GrantStore
	partitionID string
	logger      *slog.Logger
}

// New creates an installation service bound to the given partition id.
// An empty partition id is the default application instance, itself a
// distinct partition. A nil logger falls back to slog.Default.
func New(grants GrantStore, partitionID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       grants,
		partitionID: partitionID,
		logger:      logger.With("component", "installation"),
	}
}

// botScope builds the shared-grant key for an enterprise/team coordinate.
// Organization-wide installs drop the team id so they are never conflated
// with a concrete workspace.
func (s *Service) botScope(enterpriseID, teamID string, enterpriseWide bool) store.ScopeKey {
	if enterpriseWide {
		teamID = ""
	}
	return store.ScopeKey{
		PartitionID:  s.partitionID,
		EnterpriseID: enterpriseID,
		TeamID:       teamID,
	}
}

// StoreInstallation persists the bot half and the user half of the payload
// as independent grant records. The two writes are deliberately not atomic:
// each half has its own lifetime, and a half that was written stays durable
// even if the other half's write fails. Storage errors are returned as-is.
func (s *Service) StoreInstallation(ctx context.Context, inst *Installation) error {
	scope := s.botScope(inst.EnterpriseID, inst.TeamID, inst.IsEnterpriseInstall)

	if inst.Bot != nil {
		rec := newGrantRecord(scope, store.GrantKindBot, inst, inst.Bot)
		if _, err := s.store.Append(ctx, rec); err != nil {
			return err
		}
	}

	if inst.User != nil && inst.UserID != "" {
		rec := newGrantRecord(scope.WithUser(inst.UserID), store.GrantKindUser, inst, inst.User)
		if _, err := s.store.Append(ctx, rec); err != nil {
			return err
		}
	}

	s.logger.Debug("stored installation",
		"enterprise", inst.EnterpriseID,
		"team", inst.TeamID,
		"user", inst.UserID,
		"bot", inst.Bot != nil,
		"user_grant", inst.User != nil)
	return nil
}

// FetchInstallation resolves the latest grants for the query scope. The bot
// half always comes from the latest bot record; the user half is looked up
// only when the query names a user. When every requested half is absent the
// result is a NotFoundError carrying the query coordinates. Storage errors
// are returned as-is so callers can tell "no data" from "storage down".
func (s *Service) FetchInstallation(ctx context.Context, q *Query) (*Installation, error) {
	scope := s.botScope(q.EnterpriseID, q.TeamID, q.IsEnterpriseInstall)

	botRec, err := s.store.FindLatest(ctx, scope)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var userRec *store.GrantRecord
	if q.UserID != "" {
		userRec, err = s.store.FindLatest(ctx, scope.WithUser(q.UserID))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if botRec == nil && userRec == nil {
		return nil, &NotFoundError{
			EnterpriseID: q.EnterpriseID,
			TeamID:       q.TeamID,
			UserID:       q.UserID,
		}
	}

	// Shared metadata prefers the bot record when both halves are present.
	meta := botRec
	if meta == nil {
		meta = userRec
	}

	inst := &Installation{
		AppID:               meta.AppID,
		EnterpriseID:        meta.Scope.EnterpriseID,
		TeamID:              meta.Scope.TeamID,
		UserID:              q.UserID,
		IsEnterpriseInstall: meta.IsEnterpriseInstall,
	}
	if botRec != nil {
		inst.Bot = grantOf(botRec)
	}
	if userRec != nil {
		inst.User = grantOf(userRec)
	}

	s.logger.Debug("fetched installation",
		"enterprise", q.EnterpriseID,
		"team", q.TeamID,
		"user", q.UserID,
		"bot", inst.Bot != nil,
		"user_grant", inst.User != nil)
	return inst, nil
}

// DeleteInstallation removes the user grant set when the query names a
// user, otherwise the bot grant set. Revoking one kind never touches the
// other: an individual's revocation leaves the shared bot grant alone, and
// removing the bot install leaves personal grants in place.
func (s *Service) DeleteInstallation(ctx context.Context, q *Query) error {
	scope := s.botScope(q.EnterpriseID, q.TeamID, q.IsEnterpriseInstall)
	if q.UserID != "" {
		scope = scope.WithUser(q.UserID)
	}

	n, err := s.store.DeleteAll(ctx, scope)
	if err != nil {
		return err
	}

	s.logger.Debug("deleted installation records",
		"enterprise", q.EnterpriseID,
		"team", q.TeamID,
		"user", q.UserID,
		"count", n)
	return nil
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

func newGrantRecord(scope store.ScopeKey, kind store.GrantKind, inst *Installation, g *Grant) *store.GrantRecord {
	return &store.GrantRecord{
		Scope:               scope,
		Kind:                kind,
		AppID:               inst.AppID,
		IsEnterpriseInstall: inst.IsEnterpriseInstall,
		Token:               g.Token,
		RefreshToken:        g.RefreshToken,
		ExpiresAt:           g.ExpiresAt,
		Scopes:              g.Scopes,
	}
}

func grantOf(rec *store.GrantRecord) *Grant {
	return &Grant{
		Token:        rec.Token,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
		Scopes:       rec.Scopes,
	}
}
