// Package store implements the authorization kernel's permission store
// (C2): durable grants and an append-only audit log over an embedded
// relational database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/stacklok/localghost/pkg/kernelerrors"
	"github.com/stacklok/localghost/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Clock abstracts time for lazy-expiry tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the permission store (C2). A single *sql.DB with MaxOpenConns(1)
// is the exclusive writer, serializing every operation per spec.md §5.
type Store struct {
	db    *sql.DB
	clock Clock
}

// Open creates the parent directory (if needed), opens the database at
// path, and runs migrations. The returned Store owns the connection; call
// Close when done.
func Open(path string, clock Clock) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create data directory: %v", kernelerrors.ErrStoreUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", kernelerrors.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: failed to set pragmas: %v", kernelerrors.ErrStoreUnavailable, err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: failed to set migration dialect: %v", kernelerrors.ErrStoreUnavailable, err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: schema migration failed: %v", kernelerrors.ErrStoreUnavailable, err)
	}

	if clock == nil {
		clock = realClock{}
	}
	return &Store{db: db, clock: clock}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: failed to close database: %v", kernelerrors.ErrStoreUnavailable, err)
	}
	return nil
}

// Grant upserts a permission row and appends a grant audit entry, within a
// single transaction (spec.md §4.2).
func (s *Store) Grant(
	ctx context.Context,
	clientID, clientName, endpoint string,
	permissions []string,
	kind GrantKind,
	token string,
	durationHours *float64,
) error {
	now := s.clock.Now().UTC()
	expiresAt := expiryFor(kind, now, durationHours)

	permsJSON, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var expiresAtStr any
		if expiresAt != nil {
			expiresAtStr = expiresAt.Format(time.RFC3339)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (client_id, client_name, endpoint, permissions, grant_type, granted_at, expires_at, token)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(client_id, endpoint) DO UPDATE SET
				client_name = excluded.client_name,
				permissions = excluded.permissions,
				grant_type = excluded.grant_type,
				granted_at = excluded.granted_at,
				expires_at = excluded.expires_at,
				token = excluded.token
		`, clientID, nullableString(clientName), endpoint, string(permsJSON), string(kind), now.Format(time.RFC3339), expiresAtStr, token)
		if err != nil {
			return fmt.Errorf("failed to upsert permission: %w", err)
		}

		return appendAudit(ctx, tx, now, clientID, endpoint, AuditGrant, map[string]any{"grant_type": string(kind)})
	})
}

// Check returns the grant for (clientID, endpoint), deleting it first if
// its expires_at has elapsed (lazy eviction; no audit entry is written for
// the eviction itself).
func (s *Store) Check(ctx context.Context, clientID, endpoint string) (*Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, client_name, endpoint, permissions, grant_type, granted_at, expires_at, token
		FROM permissions WHERE client_id = ? AND endpoint = ?
	`, clientID, endpoint)

	grant, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to check permission: %v", kernelerrors.ErrStoreUnavailable, err)
	}

	if grant.ExpiresAt != nil && !s.clock.Now().Before(*grant.ExpiresAt) {
		if _, delErr := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE client_id = ? AND endpoint = ?`, clientID, endpoint); delErr != nil {
			logger.Warnf("failed to evict expired grant for %s/%s: %v", clientID, endpoint, delErr)
		}
		return nil, nil
	}

	return grant, nil
}

// Revoke deletes the (clientID, endpoint) grant if present and appends a
// revoke audit entry unconditionally, even when no row matched.
func (s *Store) Revoke(ctx context.Context, clientID, endpoint string) error {
	now := s.clock.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE client_id = ? AND endpoint = ?`, clientID, endpoint); err != nil {
			return fmt.Errorf("failed to revoke permission: %w", err)
		}
		return appendAudit(ctx, tx, now, clientID, endpoint, AuditRevoke, map[string]any{})
	})
}

// RevokeAll deletes every grant for clientID and appends one revoke_all
// audit entry with endpoint "*".
func (s *Store) RevokeAll(ctx context.Context, clientID string) error {
	now := s.clock.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("failed to revoke all permissions: %w", err)
		}
		return appendAudit(ctx, tx, now, clientID, "*", AuditRevokeAll, map[string]any{})
	})
}

// ListAll returns every grant row, ordered by granted_at descending, with
// no expiry filtering. Check is the authoritative accessor; callers
// presenting this list must account for rows that Check would evict.
func (s *Store) ListAll(ctx context.Context) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, client_name, endpoint, permissions, grant_type, granted_at, expires_at, token
		FROM permissions ORDER BY granted_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list permissions: %v", kernelerrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt permission row: %v", kernelerrors.ErrStoreUnavailable, err)
		}
		grants = append(grants, *grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate permissions: %v", kernelerrors.ErrStoreUnavailable, err)
	}
	return grants, nil
}

// ListAudit returns audit entries for a client in causal (chronological)
// order; used by the store and kernel scenario tests (spec.md §8.9).
func (s *Store) ListAudit(ctx context.Context, clientID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, client_id, endpoint, action, details
		FROM audit_log WHERE client_id = ? ORDER BY id ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list audit log: %v", kernelerrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		var detailsJSON sql.NullString
		var action string
		if err := rows.Scan(&e.ID, &ts, &e.ClientID, &e.Endpoint, &action, &detailsJSON); err != nil {
			return nil, fmt.Errorf("%w: corrupt audit row: %v", kernelerrors.ErrStoreUnavailable, err)
		}
		e.Action = AuditAction(action)
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt audit timestamp: %v", kernelerrors.ErrStoreUnavailable, err)
		}
		e.Timestamp = parsed
		if detailsJSON.Valid {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				return nil, fmt.Errorf("%w: corrupt audit details: %v", kernelerrors.ErrStoreUnavailable, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", kernelerrors.ErrStoreUnavailable, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warnf("failed to roll back transaction: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", kernelerrors.ErrStoreUnavailable, err)
	}
	return nil
}

func appendAudit(ctx context.Context, tx *sql.Tx, ts time.Time, clientID, endpoint string, action AuditAction, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		// An audit write failure must not abort the primary grant/revoke
		// (spec.md §7); we log and proceed, still inside the same
		// transaction as the primary mutation.
		logger.Warnf("failed to marshal audit details for %s/%s: %v", clientID, endpoint, err)
		detailsJSON = []byte("{}")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, client_id, endpoint, action, details)
		VALUES (?, ?, ?, ?, ?)
	`, ts.Format(time.RFC3339), clientID, endpoint, string(action), string(detailsJSON)); err != nil {
		logger.Warnf("failed to append audit entry for %s/%s: %v", clientID, endpoint, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(row scanner) (*Grant, error) {
	var g Grant
	var clientName, expiresAt, tok sql.NullString
	var permsJSON, grantedAt, grantType string

	if err := row.Scan(&g.ID, &g.ClientID, &clientName, &g.Endpoint, &permsJSON, &grantType, &grantedAt, &expiresAt, &tok); err != nil {
		return nil, err
	}

	if clientName.Valid {
		g.ClientName = clientName.String
	}
	if tok.Valid {
		g.Token = tok.String
	}
	g.Kind = GrantKind(grantType)

	if err := json.Unmarshal([]byte(permsJSON), &g.Permissions); err != nil {
		return nil, fmt.Errorf("corrupt permissions column: %w", err)
	}

	granted, err := time.Parse(time.RFC3339, grantedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt granted_at column: %w", err)
	}
	g.GrantedAt = granted

	if expiresAt.Valid {
		exp, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt expires_at column: %w", err)
		}
		g.ExpiresAt = &exp
	}

	return &g, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
