// ABOUTME: Postgres implementation of the Store interface using pgx/v5
// ABOUTME: Mirrors the SQLite backend with BIGSERIAL-assigned sequences

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier is the subset of pgxpool.Pool the store needs. Tests supply a
// stub implementation instead of a live database.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the Store interface using Postgres
type PostgresStore struct {
	db            pgQuerier
	pool          *pgxpool.Pool
	logger        *slog.Logger
	retainHistory bool
}

// NewPostgresStore connects to Postgres with the given DSN and ensures the
// schema exists. When retainHistory is false, Append overwrites the current
// record per scope instead of keeping every version.
func NewPostgresStore(ctx context.Context, dsn string, retainHistory bool) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PostgresStore{
		db:            pool,
		pool:          pool,
		logger:        slog.Default().With("component", "store"),
		retainHistory: retainHistory,
	}

	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized", "retain_history", retainHistory)
	return s, nil
}

// newPostgresStoreFromQuerier builds a store on an arbitrary querier.
// Used by tests to run without a live database.
func newPostgresStoreFromQuerier(q pgQuerier, retainHistory bool) *PostgresStore {
	return &PostgresStore{
		db:            q,
		logger:        slog.Default().With("component", "store"),
		retainHistory: retainHistory,
	}
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS grant_records (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			partition_id TEXT NOT NULL DEFAULT '',
			enterprise_id TEXT NOT NULL DEFAULT '',
			team_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			app_id TEXT NOT NULL DEFAULT '',
			is_enterprise_install BOOLEAN NOT NULL DEFAULT FALSE,
			token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at BIGINT NOT NULL DEFAULT 0,
			scopes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_grant_records_scope
			ON grant_records(partition_id, enterprise_id, team_id, user_id, seq);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return err
	}
	return nil
}

const pgInsert = `
	INSERT INTO grant_records (
		id, partition_id, enterprise_id, team_id, user_id, kind,
		app_id, is_enterprise_install, token, refresh_token, expires_at, scopes, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING seq`

// pgReplace deletes and re-inserts in a single statement so the overwrite
// is atomic without an explicit transaction.
const pgReplace = `
	WITH purged AS (
		DELETE FROM grant_records
		WHERE partition_id = $2 AND enterprise_id = $3 AND team_id = $4 AND user_id = $5
	)
	INSERT INTO grant_records (
		id, partition_id, enterprise_id, team_id, user_id, kind,
		app_id, is_enterprise_install, token, refresh_token, expires_at, scopes, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING seq`

// Append stores a grant record and returns its assigned sequence.
func (s *PostgresStore) Append(ctx context.Context, rec *GrantRecord) (int64, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := pgInsert
	if !s.retainHistory {
		query = pgReplace
	}

	var seq int64
	err := s.db.QueryRow(ctx, query,
		rec.ID,
		rec.Scope.PartitionID,
		rec.Scope.EnterpriseID,
		rec.Scope.TeamID,
		rec.Scope.UserID,
		string(rec.Kind),
		rec.AppID,
		rec.IsEnterpriseInstall,
		rec.Token,
		rec.RefreshToken,
		unixOrZero(rec.ExpiresAt),
		strings.Join(rec.Scopes, ","),
		rec.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("appending grant record: %w", err)
	}
	rec.Sequence = seq

	s.logger.Debug("stored grant record",
		"kind", rec.Kind,
		"partition", rec.Scope.PartitionID,
		"enterprise", rec.Scope.EnterpriseID,
		"team", rec.Scope.TeamID,
		"user", rec.Scope.UserID,
		"seq", seq)
	return seq, nil
}

// FindLatest returns the record with the greatest sequence for the scope.
func (s *PostgresStore) FindLatest(ctx context.Context, scope ScopeKey) (*GrantRecord, error) {
	query := `
		SELECT seq, id, partition_id, enterprise_id, team_id, user_id, kind,
		       app_id, is_enterprise_install, token, refresh_token, expires_at, scopes, created_at
		FROM grant_records
		WHERE partition_id = $1 AND enterprise_id = $2 AND team_id = $3 AND user_id = $4
		ORDER BY seq DESC
		LIMIT 1`

	row := s.db.QueryRow(ctx, query,
		scope.PartitionID, scope.EnterpriseID, scope.TeamID, scope.UserID)

	rec, err := scanGrantRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest grant record: %w", err)
	}
	return rec, nil
}

// DeleteAll removes every record for the exact scope.
func (s *PostgresStore) DeleteAll(ctx context.Context, scope ScopeKey) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM grant_records WHERE partition_id = $1 AND enterprise_id = $2 AND team_id = $3 AND user_id = $4`,
		scope.PartitionID, scope.EnterpriseID, scope.TeamID, scope.UserID)
	if err != nil {
		return 0, fmt.Errorf("deleting grant records: %w", err)
	}

	n := tag.RowsAffected()
	s.logger.Debug("deleted grant records",
		"partition", scope.PartitionID,
		"enterprise", scope.EnterpriseID,
		"team", scope.TeamID,
		"user", scope.UserID,
		"count", n)
	return n, nil
}

// List returns all records ordered by ascending sequence.
func (s *PostgresStore) List(ctx context.Context) ([]*GrantRecord, error) {
	query := `
		SELECT seq, id, partition_id, enterprise_id, team_id, user_id, kind,
		       app_id, is_enterprise_install, token, refresh_token, expires_at, scopes, created_at
		FROM grant_records
		ORDER BY seq ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing grant records: %w", err)
	}
	defer rows.Close()

	var recs []*GrantRecord
	for rows.Next() {
		rec, err := scanGrantRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning grant record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grant records: %w", err)
	}
	return recs, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
