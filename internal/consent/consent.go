// Package consent tracks which authors have opted in to knowledge
// extraction from private sources. The registry fails closed: an author
// missing from it, or any lookup failure, means no consent.
package consent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// Registry stores consent grants in the shared SQLite database, keyed by
// (source scope, author hash). A grant covers one community only: consenting
// in one guild says nothing about the same author elsewhere. Authors are
// identified only by their opaque hash; raw platform ids never reach this
// table.
type Registry struct {
	db *sql.DB
}

// NewRegistry creates the registry and ensures its table exists.
func NewRegistry(db *sql.DB) (*Registry, error) {
	r := &Registry{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS consent (
			source_scope TEXT NOT NULL,
			author_hash  TEXT NOT NULL,
			granted_at   TIMESTAMP NOT NULL,
			revoked_at   TIMESTAMP,
			PRIMARY KEY (source_scope, author_hash)
		)`); err != nil {
		return nil, fmt.Errorf("consent: create table: %w", err)
	}
	return r, nil
}

// Grant records (or restores) consent for an author hash within one scope.
func (r *Registry) Grant(ctx context.Context, scope, authorHash string) error {
	if scope == "" {
		return fmt.Errorf("consent: empty source scope")
	}
	if authorHash == "" {
		return fmt.Errorf("consent: empty author hash")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consent (source_scope, author_hash, granted_at, revoked_at)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(source_scope, author_hash) DO UPDATE SET
			granted_at = excluded.granted_at,
			revoked_at = NULL`,
		scope, authorHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("consent: grant: %w", err)
	}
	logging.Get(logging.CategoryConsent).Info("Consent granted for %s in %s", authorHash[:8], scope)
	return nil
}

// Revoke withdraws consent within one scope. Future batches exclude the
// author immediately; already-persisted articles are handled by the store's
// recompilation hook.
func (r *Registry) Revoke(ctx context.Context, scope, authorHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE consent SET revoked_at = ?
		WHERE source_scope = ? AND author_hash = ? AND revoked_at IS NULL`,
		time.Now().UTC(), scope, authorHash)
	if err != nil {
		return fmt.Errorf("consent: revoke: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("consent: no active grant for author in scope %s", scope)
	}
	logging.Get(logging.CategoryConsent).Info("Consent revoked for %s in %s", authorHash[:8], scope)
	return nil
}

// ConsentedAuthors returns the set of author hashes with an active grant in
// the given scope.
func (r *Registry) ConsentedAuthors(ctx context.Context, scope string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT author_hash FROM consent WHERE source_scope = ? AND revoked_at IS NULL`,
		scope)
	if err != nil {
		return nil, fmt.Errorf("consent: list: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("consent: scan: %w", err)
		}
		set[hash] = true
	}
	return set, rows.Err()
}

// Filter splits a scope's messages into those from consented authors and the
// rest. Only grants recorded for that scope count. Any lookup error is
// returned and callers must treat the whole batch as unconsented; an empty
// scope is a lookup error for the same reason.
func (r *Registry) Filter(ctx context.Context, scope string, messages []types.RawMessage) (kept, excluded []types.RawMessage, err error) {
	if scope == "" {
		return nil, nil, fmt.Errorf("consent: empty source scope")
	}
	consented, err := r.ConsentedAuthors(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range messages {
		if consented[m.AuthorHash] {
			kept = append(kept, m)
		} else {
			excluded = append(excluded, m)
		}
	}
	return kept, excluded, nil
}
