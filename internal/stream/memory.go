package stream

import (
	"context"
	"sync"
	"time"

	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// memoryCap bounds each per-key log. Well above the flush size; reaching it
// means the flusher is stalled, and the oldest messages are dropped with a
// warning rather than blocking producers.
const memoryCap = 10 * FlushBatchSize

type memoryLog struct {
	messages []types.RawMessage
	since    time.Time
}

// MemoryBuffer is a process-local Buffer for tests and single-node dev runs.
type MemoryBuffer struct {
	mu   sync.Mutex
	logs map[Key]*memoryLog
	now  func() time.Time
}

// NewMemoryBuffer creates an empty buffer.
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{logs: make(map[Key]*memoryLog), now: time.Now}
}

// Append adds a message to the key's log.
func (b *MemoryBuffer) Append(_ context.Context, key Key, msg types.RawMessage) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log, ok := b.logs[key]
	if !ok {
		log = &memoryLog{since: b.now()}
		b.logs[key] = log
	}
	if len(log.messages) >= memoryCap {
		logging.Get(logging.CategoryIngest).Warn("Buffer %s at capacity, dropping oldest message", key)
		log.messages = log.messages[1:]
	}
	log.messages = append(log.messages, msg)
	return len(log.messages), nil
}

// Due lists keys at the size or age trigger.
func (b *MemoryBuffer) Due(_ context.Context) ([]Key, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var due []Key
	for key, log := range b.logs {
		if len(log.messages) == 0 {
			continue
		}
		if len(log.messages) >= FlushBatchSize || now.Sub(log.since) >= FlushMaxAge {
			due = append(due, key)
		}
	}
	return due, nil
}

// Drain atomically takes the key's messages and resets the log.
func (b *MemoryBuffer) Drain(_ context.Context, key Key) ([]types.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log, ok := b.logs[key]
	if !ok || len(log.messages) == 0 {
		return nil, nil
	}
	messages := log.messages
	delete(b.logs, key)
	return messages, nil
}
