// Package discord ingests chat messages over the Discord gateway. Each
// message on a monitored channel is anonymized and published into the stream
// buffer; raw platform user IDs never leave this package.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"threadloom/internal/identity"
	"threadloom/internal/logging"
	"threadloom/internal/store"
	"threadloom/internal/stream"
	"threadloom/internal/types"
)

// RefreshInterval is how often the producer re-reads the monitored channel
// set, so channels toggled at runtime take effect without a reconnect.
const RefreshInterval = time.Minute

// Publisher is the slice of the stream flusher the producer needs.
type Publisher interface {
	Publish(ctx context.Context, key stream.Key, msg types.RawMessage) error
}

// ChannelSource lists the channels currently opted in for ingestion.
type ChannelSource interface {
	MonitoredChannels(ctx context.Context, source types.SourceType) ([]store.Channel, error)
}

// Producer bridges the Discord gateway into the stream buffer.
type Producer struct {
	session   *discordgo.Session
	publisher Publisher
	channels  ChannelSource
	refresh   time.Duration

	mu      sync.RWMutex
	watched map[string]bool // channel external id -> monitored
}

// NewProducer builds a gateway producer. The session is configured but not
// opened; Start connects.
func NewProducer(token string, publisher Publisher, channels ChannelSource) (*Producer, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	return &Producer{
		session:   session,
		publisher: publisher,
		channels:  channels,
		refresh:   RefreshInterval,
		watched:   map[string]bool{},
	}, nil
}

// Start connects to the gateway and blocks until the context is cancelled,
// refreshing the monitored channel set periodically.
func (p *Producer) Start(ctx context.Context) error {
	if err := p.refreshChannels(ctx); err != nil {
		return fmt.Errorf("discord: initial channel load: %w", err)
	}

	p.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		p.handleMessage(ctx, m)
	})
	if err := p.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	logging.Ingest("Discord gateway connected, watching %d channels", p.watchedCount())

	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := p.session.Close(); err != nil {
				logging.Get(logging.CategoryIngest).Warn("Gateway close failed: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := p.refreshChannels(ctx); err != nil {
				logging.Get(logging.CategoryIngest).Warn("Channel refresh failed: %v", err)
			}
		}
	}
}

func (p *Producer) refreshChannels(ctx context.Context) error {
	channels, err := p.channels.MonitoredChannels(ctx, types.SourceDiscord)
	if err != nil {
		return err
	}
	watched := make(map[string]bool, len(channels))
	for _, ch := range channels {
		watched[ch.ExternalID] = true
	}
	p.mu.Lock()
	p.watched = watched
	p.mu.Unlock()
	logging.IngestDebug("Watching %d discord channels", len(watched))
	return nil
}

func (p *Producer) watching(channelID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.watched[channelID]
}

func (p *Producer) watchedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.watched)
}

// handleMessage filters and publishes one gateway event. Bots, direct
// messages, unmonitored channels, and empty bodies are dropped.
func (p *Producer) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if !p.watching(m.ChannelID) {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}

	key := stream.Key{
		Source:      types.SourceDiscord,
		ServerScope: m.GuildID,
		ChannelID:   m.ChannelID,
	}
	if err := p.publisher.Publish(ctx, key, convertMessage(m.Message)); err != nil {
		logging.Get(logging.CategoryIngest).Error("Publish of message %s failed: %v", m.ID, err)
	}
}

// convertMessage anonymizes a gateway message. Author and mention IDs are
// replaced by their hashes before the message leaves the producer.
func convertMessage(m *discordgo.Message) types.RawMessage {
	msg := types.RawMessage{
		ID:         m.ID,
		AuthorHash: identity.HashString(m.Author.ID),
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		HasCode:    types.HasCodeFence(m.Content),
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		msg.ReplyTo = ref.MessageID
	}
	for _, user := range m.Mentions {
		msg.Mentions = append(msg.Mentions, identity.HashString(user.ID))
	}
	return msg
}
