// Package stream buffers incoming messages per (source, channel) and flushes
// them to the worker pool as batches. A flush triggers when a buffer reaches
// the batch size or its oldest message exceeds the age cap, whichever comes
// first. Draining is read-then-delete under an advisory lock so a crash
// between reset and dispatch never loses messages and concurrent flushers
// never double-dispatch a key.
package stream

import (
	"context"
	"fmt"
	"time"

	"threadloom/internal/types"
)

// Flush triggers.
const (
	// FlushBatchSize flushes a buffer when it holds this many messages.
	FlushBatchSize = 50

	// FlushMaxAge flushes a buffer when its oldest message is this old.
	FlushMaxAge = 300 * time.Second
)

// Key identifies one buffer log.
type Key struct {
	Source      types.SourceType
	ServerScope string
	ChannelID   string
}

// String renders the key for use in stream names and logs.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Source, k.ServerScope, k.ChannelID)
}

// Buffer is the per-channel message log.
type Buffer interface {
	// Append adds a message and returns the buffer's new length.
	Append(ctx context.Context, key Key, msg types.RawMessage) (int, error)

	// Due lists keys whose buffers should flush now (size or age trigger).
	Due(ctx context.Context) ([]Key, error)

	// Drain atomically reads and clears one buffer. It returns nil without
	// error when the buffer is empty or another flusher holds the key.
	Drain(ctx context.Context, key Key) ([]types.RawMessage, error)
}
