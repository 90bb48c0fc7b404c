// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides grant record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db            *sql.DB
	logger        *slog.Logger
	retainHistory bool
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
// When retainHistory is false, Append overwrites the current record per
// scope instead of keeping every version.
func NewSQLiteStore(path string, retainHistory bool) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:            db,
		logger:        logger,
		retainHistory: retainHistory,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "retain_history", retainHistory)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// AUTOINCREMENT keeps sequences strictly increasing even after the
// highest-sequence row for a scope has been deleted.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS grant_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			partition_id TEXT NOT NULL DEFAULT '',
			enterprise_id TEXT NOT NULL DEFAULT '',
			team_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			app_id TEXT NOT NULL DEFAULT '',
			is_enterprise_install INTEGER NOT NULL DEFAULT 0,
			token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL DEFAULT 0,
			scopes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_grant_records_scope
			ON grant_records(partition_id, enterprise_id, team_id, user_id, seq);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

const sqliteInsert = `
	INSERT INTO grant_records (
		id, partition_id, enterprise_id, team_id, user_id, kind,
		app_id, is_enterprise_install, token, refresh_token, expires_at, scopes, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Append stores a grant record and returns its assigned sequence.
func (s *SQLiteStore) Append(ctx context.Context, rec *GrantRecord) (int64, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	args := []any{
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
	}

	var result sql.Result
	var err error
	if s.retainHistory {
		result, err = s.db.ExecContext(ctx, sqliteInsert, args...)
		if err != nil {
			return 0, fmt.Errorf("appending grant record: %w", err)
		}
	} else {
		// Overwrite mode: replace the current record for the scope. The
		// delete and insert share a transaction so readers never observe
		// a half-replaced scope.
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return 0, fmt.Errorf("beginning overwrite: %w", txErr)
		}
		defer tx.Rollback()

		if _, err = tx.ExecContext(ctx,
			`DELETE FROM grant_records WHERE partition_id = ? AND enterprise_id = ? AND team_id = ? AND user_id = ?`,
			rec.Scope.PartitionID, rec.Scope.EnterpriseID, rec.Scope.TeamID, rec.Scope.UserID,
		); err != nil {
			return 0, fmt.Errorf("replacing grant record: %w", err)
		}
		result, err = tx.ExecContext(ctx, sqliteInsert, args...)
		if err != nil {
			return 0, fmt.Errorf("replacing grant record: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return 0, fmt.Errorf("committing overwrite: %w", err)
		}
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting assigned sequence: %w", err)
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
func (s *SQLiteStore) FindLatest(ctx context.Context, scope ScopeKey) (*GrantRecord, error) {
	query := `
		SELECT seq, id, partition_id, enterprise_id, team_id, user_id, kind,
		       app_id, is_enterprise_install, token, refresh_token, expires_at, scopes, created_at
		FROM grant_records
		WHERE partition_id = ? AND enterprise_id = ? AND team_id = ? AND user_id = ?
		ORDER BY seq DESC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query,
		scope.PartitionID, scope.EnterpriseID, scope.TeamID, scope.UserID)

	rec, err := scanGrantRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest grant record: %w", err)
	}
	return rec, nil
}

// DeleteAll removes every record for the exact scope.
func (s *SQLiteStore) DeleteAll(ctx context.Context, scope ScopeKey) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM grant_records WHERE partition_id = ? AND enterprise_id = ? AND team_id = ? AND user_id = ?`,
		scope.PartitionID, scope.EnterpriseID, scope.TeamID, scope.UserID)
	if err != nil {
		return 0, fmt.Errorf("deleting grant records: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("deleted grant records",
		"partition", scope.PartitionID,
		"enterprise", scope.EnterpriseID,
		"team", scope.TeamID,
		"user", scope.UserID,
		"count", n)
	return n, nil
}

// List returns all records ordered by ascending sequence.
func (s *SQLiteStore) List(ctx context.Context) ([]*GrantRecord, error) {
	query := `
		SELECT seq, id, partition_id, enterprise_id, team_id, user_id, kind,
		       app_id, is_enterprise_install, token, refresh_token, expires_at, scopes, created_at
		FROM grant_records
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query)
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

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrantRecord(row rowScanner) (*GrantRecord, error) {
	var rec GrantRecord
	var kind string
	var expiresAt int64
	var scopes string

	err := row.Scan(
		&rec.Sequence,
		&rec.ID,
		&rec.Scope.PartitionID,
		&rec.Scope.EnterpriseID,
		&rec.Scope.TeamID,
		&rec.Scope.UserID,
		&kind,
		&rec.AppID,
		&rec.IsEnterpriseInstall,
		&rec.Token,
		&rec.RefreshToken,
		&expiresAt,
		&scopes,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = GrantKind(kind)
	if expiresAt != 0 {
		rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	if scopes != "" {
		rec.Scopes = strings.Split(scopes, ",")
	}
	return &rec, nil
}

// unixOrZero maps the zero time to 0 so "no expiry" survives a round-trip.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
