package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"threadloom/internal/logging"
	"threadloom/internal/types"
)

const (
	keyPrefix   = "loom:buf:"
	registryKey = "loom:buf:keys"
	lockTTL     = 30 * time.Second
)

// RedisBuffer implements Buffer on Redis Streams so multiple ingest
// processes can share one buffer. Each key maps to a stream holding the
// serialized messages, a first-append timestamp, and a drain lock.
type RedisBuffer struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisBuffer connects to Redis and verifies the connection.
func NewRedisBuffer(ctx context.Context, addr string) (*RedisBuffer, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("stream: redis ping: %w", err)
	}
	return &RedisBuffer{client: client, now: time.Now}, nil
}

// Close releases the client.
func (b *RedisBuffer) Close() error {
	return b.client.Close()
}

func streamName(key Key) string { return keyPrefix + key.String() }

func sinceName(key Key) string { return keyPrefix + key.String() + ":since" }

func lockName(key Key) string { return keyPrefix + key.String() + ":lock" }

func registryField(key Key) string {
	return fmt.Sprintf("%s|%s|%s", key.Source, key.ServerScope, key.ChannelID)
}

// Append XADDs the message and tracks the buffer's first-append time.
func (b *RedisBuffer) Append(ctx context.Context, key Key, msg types.RawMessage) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("stream: marshal message: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName(key),
		Values: map[string]any{"m": string(data)},
	})
	pipe.SetNX(ctx, sinceName(key), strconv.FormatInt(b.now().Unix(), 10), 0)
	pipe.SAdd(ctx, registryKey, registryField(key))
	lenCmd := pipe.XLen(ctx, streamName(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("stream: append to %s: %w", key, err)
	}
	return int(lenCmd.Val()), nil
}

// Due checks every registered key against the size and age triggers.
func (b *RedisBuffer) Due(ctx context.Context) ([]Key, error) {
	fields, err := b.client.SMembers(ctx, registryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("stream: list keys: %w", err)
	}

	now := b.now()
	var due []Key
	for _, field := range fields {
		key, ok := parseRegistryField(field)
		if !ok {
			continue
		}
		length, err := b.client.XLen(ctx, streamName(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("stream: xlen %s: %w", key, err)
		}
		if length == 0 {
			continue
		}
		if length >= FlushBatchSize {
			due = append(due, key)
			continue
		}
		since, err := b.client.Get(ctx, sinceName(key)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stream: since %s: %w", key, err)
		}
		sinceUnix, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			continue
		}
		if now.Sub(time.Unix(sinceUnix, 0)) >= FlushMaxAge {
			due = append(due, key)
		}
	}
	return due, nil
}

// Drain reads then deletes the stream under an advisory lock. Crashing after
// the read but before the delete leaves the messages in place for the next
// drain; the worker layer handles the resulting redelivery.
func (b *RedisBuffer) Drain(ctx context.Context, key Key) ([]types.RawMessage, error) {
	locked, err := b.client.SetNX(ctx, lockName(key), "1", lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("stream: lock %s: %w", key, err)
	}
	if !locked {
		logging.IngestDebug("Buffer %s locked by another flusher", key)
		return nil, nil
	}
	defer b.client.Del(ctx, lockName(key))

	entries, err := b.client.XRange(ctx, streamName(key), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("stream: read %s: %w", key, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	messages := make([]types.RawMessage, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["m"].(string)
		if !ok {
			logging.Get(logging.CategoryIngest).Warn("Buffer %s entry %s has no payload", key, entry.ID)
			continue
		}
		var msg types.RawMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			logging.Get(logging.CategoryIngest).Warn("Buffer %s entry %s undecodable: %v", key, entry.ID, err)
			continue
		}
		messages = append(messages, msg)
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, streamName(key))
	pipe.Del(ctx, sinceName(key))
	pipe.SRem(ctx, registryKey, registryField(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("stream: reset %s: %w", key, err)
	}
	return messages, nil
}

func parseRegistryField(field string) (Key, bool) {
	parts := strings.SplitN(field, "|", 3)
	if len(parts) != 3 {
		return Key{}, false
	}
	return Key{
		Source:      types.SourceType(parts[0]),
		ServerScope: parts[1],
		ChannelID:   parts[2],
	}, true
}
