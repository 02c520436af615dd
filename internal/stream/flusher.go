package stream

import (
	"context"
	"time"

	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// BatchHandler receives a flushed batch. Handlers own retry; a returned
// error is logged and the messages are considered dispatched.
type BatchHandler func(ctx context.Context, batch types.Batch) error

// Flusher connects a Buffer to the worker pool: size-triggered flushes fire
// from Publish, age-triggered flushes from the Run ticker. At most one flush
// is in flight per key, guaranteed by Buffer.Drain.
type Flusher struct {
	buffer   Buffer
	handler  BatchHandler
	interval time.Duration
	now      func() time.Time
}

// NewFlusher builds a flusher polling for age-triggered flushes at the given
// interval.
func NewFlusher(buffer Buffer, handler BatchHandler, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Flusher{buffer: buffer, handler: handler, interval: interval, now: time.Now}
}

// Publish appends a message and flushes immediately when the buffer reaches
// the batch size.
func (f *Flusher) Publish(ctx context.Context, key Key, msg types.RawMessage) error {
	length, err := f.buffer.Append(ctx, key, msg)
	if err != nil {
		return err
	}
	if length >= FlushBatchSize {
		f.Flush(ctx, key)
	}
	return nil
}

// Flush drains one key and hands the batch to the handler.
func (f *Flusher) Flush(ctx context.Context, key Key) {
	messages, err := f.buffer.Drain(ctx, key)
	if err != nil {
		logging.Get(logging.CategoryIngest).Error("Drain of %s failed: %v", key, err)
		return
	}
	if len(messages) == 0 {
		return
	}

	batch := types.Batch{
		Source:      key.Source,
		ServerScope: key.ServerScope,
		ChannelID:   key.ChannelID,
		Messages:    messages,
		CreatedAt:   f.now(),
	}
	logging.Ingest("Flushing %d messages from %s", len(messages), key)
	if err := f.handler(ctx, batch); err != nil {
		logging.Get(logging.CategoryIngest).Error("Batch handler for %s failed: %v", key, err)
	}
}

// Run polls for age-triggered flushes until the context is cancelled.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			due, err := f.buffer.Due(ctx)
			if err != nil {
				logging.Get(logging.CategoryIngest).Error("Due check failed: %v", err)
				continue
			}
			for _, key := range due {
				f.Flush(ctx, key)
			}
		}
	}
}
