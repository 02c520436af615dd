package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// Channel is a monitored conversation source: a chat channel or a forum
// repository. It is shared by all articles extracted from it.
type Channel struct {
	ID          int64
	Source      types.SourceType
	ExternalID  string
	ServerScope string
	Name        string
	Monitored   bool
	CreatedAt   time.Time
}

// RegisterChannel upserts a channel record and returns its id. Registering
// an existing (source, external_id) pair updates the name and scope.
func (s *Store) RegisterChannel(ctx context.Context, ch Channel) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	monitored := 0
	if ch.Monitored {
		monitored = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (source_type, external_id, server_scope, name, monitored)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_type, external_id) DO UPDATE SET
			server_scope = excluded.server_scope,
			name = excluded.name,
			monitored = excluded.monitored`,
		ch.Source, ch.ExternalID, ch.ServerScope, ch.Name, monitored)
	if err != nil {
		return 0, fmt.Errorf("failed to register channel: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM channels WHERE source_type = ? AND external_id = ?`,
		ch.Source, ch.ExternalID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read back channel id: %w", err)
	}
	logging.StoreDebug("Registered channel %s/%s as id %d", ch.Source, ch.ExternalID, id)
	return id, nil
}

// ResolveChannel looks a channel up by its external id under the declared
// source. Resolution is by (source_type, external_id) alone; the server
// scope is informational and does not participate in identity.
func (s *Store) ResolveChannel(ctx context.Context, source types.SourceType, externalID string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_type, external_id, server_scope, name, monitored, created_at
		FROM channels WHERE source_type = ? AND external_id = ?`,
		source, externalID)

	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel: %w", err)
	}
	return ch, nil
}

// MonitoredChannels lists the channels a producer should watch for a source.
func (s *Store) MonitoredChannels(ctx context.Context, source types.SourceType) ([]Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_type, external_id, server_scope, name, monitored, created_at
		FROM channels WHERE source_type = ? AND monitored = 1
		ORDER BY id`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// SetChannelMonitored flips the producer watch flag.
func (s *Store) SetChannelMonitored(ctx context.Context, id int64, monitored bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag := 0
	if monitored {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET monitored = ? WHERE id = ?`, flag, id)
	if err != nil {
		return fmt.Errorf("failed to update channel %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	var name sql.NullString
	var monitored int
	if err := row.Scan(&ch.ID, &ch.Source, &ch.ExternalID, &ch.ServerScope,
		&name, &monitored, &ch.CreatedAt); err != nil {
		return nil, err
	}
	ch.Name = name.String
	ch.Monitored = monitored == 1
	return &ch, nil
}
