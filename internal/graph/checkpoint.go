package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CheckpointStore persists graph state across invocations, keyed by thread
// id. Implementations must tolerate concurrent workers touching different
// thread ids.
type CheckpointStore interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context, threadID string) (State, bool, error)
	Delete(ctx context.Context, threadID string) error
}

// =============================================================================
// IN-MEMORY CHECKPOINTS
// =============================================================================

// MemoryCheckpoints is a process-local CheckpointStore for tests and dev runs.
type MemoryCheckpoints struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryCheckpoints creates an empty in-memory store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{states: make(map[string]State)}
}

// Save stores a deep copy of the state.
func (m *MemoryCheckpoints) Save(_ context.Context, state State) error {
	if state.ThreadID == "" {
		return errors.New("checkpoint: empty thread id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	m.mu.Lock()
	m.states[state.ThreadID] = copied
	m.mu.Unlock()
	return nil
}

// Load returns the stored state and whether it exists.
func (m *MemoryCheckpoints) Load(_ context.Context, threadID string) (State, bool, error) {
	m.mu.RLock()
	state, ok := m.states[threadID]
	m.mu.RUnlock()
	return state, ok, nil
}

// Delete removes a checkpoint; missing ids are not an error.
func (m *MemoryCheckpoints) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.states, threadID)
	m.mu.Unlock()
	return nil
}

// =============================================================================
// SQLITE CHECKPOINTS
// =============================================================================

// SQLiteCheckpoints stores state as JSON rows in the shared SQLite database.
type SQLiteCheckpoints struct {
	db *sql.DB
}

// NewSQLiteCheckpoints creates the store and ensures its table exists.
func NewSQLiteCheckpoints(db *sql.DB) (*SQLiteCheckpoints, error) {
	s := &SQLiteCheckpoints{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS graph_checkpoints (
			thread_id  TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("checkpoint: create table: %w", err)
	}
	return s, nil
}

// Save upserts the state row.
func (s *SQLiteCheckpoints) Save(ctx context.Context, state State) error {
	if state.ThreadID == "" {
		return errors.New("checkpoint: empty thread id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_checkpoints (thread_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.ThreadID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", state.ThreadID, err)
	}
	return nil
}

// Load fetches a checkpoint by thread id.
func (s *SQLiteCheckpoints) Load(ctx context.Context, threadID string) (State, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM graph_checkpoints WHERE thread_id = ?`, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: load %s: %w", threadID, err)
	}
	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return State{}, false, fmt.Errorf("checkpoint: decode %s: %w", threadID, err)
	}
	return state, true, nil
}

// Delete removes a checkpoint row.
func (s *SQLiteCheckpoints) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", threadID, err)
	}
	return nil
}
