package discord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"threadloom/internal/identity"
	"threadloom/internal/store"
	"threadloom/internal/stream"
	"threadloom/internal/types"
)

// =============================================================================
// FAKES
// =============================================================================

type fakePublisher struct {
	keys []stream.Key
	msgs []types.RawMessage
}

func (f *fakePublisher) Publish(_ context.Context, key stream.Key, msg types.RawMessage) error {
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeChannels struct {
	channels []store.Channel
	err      error
}

func (f *fakeChannels) MonitoredChannels(context.Context, types.SourceType) ([]store.Channel, error) {
	return f.channels, f.err
}

func testProducer(pub *fakePublisher, watched ...string) *Producer {
	p := &Producer{
		publisher: pub,
		watched:   map[string]bool{},
	}
	for _, id := range watched {
		p.watched[id] = true
	}
	return p
}

func gatewayMessage(id, guild, channel, author, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		GuildID:   guild,
		ChannelID: channel,
		Author:    &discordgo.User{ID: author},
		Content:   content,
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}}
}

// =============================================================================
// TESTS
// =============================================================================

func TestConvertMessage_AnonymizesAuthorAndMentions(t *testing.T) {
	m := gatewayMessage("m1", "guild-1", "chan-1", "111222333", "how do I fix this?")
	m.Mentions = []*discordgo.User{{ID: "444"}, {ID: "555"}}
	m.MessageReference = &discordgo.MessageReference{MessageID: "m0"}

	msg := convertMessage(m.Message)

	if msg.ID != "m1" {
		t.Errorf("id: %q", msg.ID)
	}
	if msg.AuthorHash != identity.HashString("111222333") {
		t.Errorf("author hash wrong: %q", msg.AuthorHash)
	}
	if msg.AuthorHash == "111222333" {
		t.Error("raw author id leaked")
	}
	if msg.ReplyTo != "m0" {
		t.Errorf("reply_to: %q", msg.ReplyTo)
	}
	want := []string{identity.HashString("444"), identity.HashString("555")}
	if len(msg.Mentions) != 2 || msg.Mentions[0] != want[0] || msg.Mentions[1] != want[1] {
		t.Errorf("mentions not hashed: %v", msg.Mentions)
	}
	if msg.HasCode {
		t.Error("no code fence in content")
	}
}

func TestConvertMessage_DetectsCodeFence(t *testing.T) {
	m := gatewayMessage("m1", "g", "c", "1", "try this:\n```js\nfoo()\n```")
	if msg := convertMessage(m.Message); !msg.HasCode {
		t.Error("fenced code not detected")
	}
}

func TestHandleMessage_PublishesToMonitoredChannel(t *testing.T) {
	pub := &fakePublisher{}
	p := testProducer(pub, "chan-1")

	p.handleMessage(context.Background(), gatewayMessage("m1", "guild-1", "chan-1", "42", "hello"))

	if len(pub.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(pub.msgs))
	}
	key := pub.keys[0]
	if key.Source != types.SourceDiscord || key.ServerScope != "guild-1" || key.ChannelID != "chan-1" {
		t.Errorf("key wrong: %+v", key)
	}
}

func TestHandleMessage_DropsFiltered(t *testing.T) {
	pub := &fakePublisher{}
	p := testProducer(pub, "chan-1")
	ctx := context.Background()

	// Unmonitored channel.
	p.handleMessage(ctx, gatewayMessage("m1", "guild-1", "chan-2", "42", "hello"))

	// Bot author.
	bot := gatewayMessage("m2", "guild-1", "chan-1", "42", "hello")
	bot.Author.Bot = true
	p.handleMessage(ctx, bot)

	// Direct message (no guild).
	p.handleMessage(ctx, gatewayMessage("m3", "", "chan-1", "42", "hello"))

	// Whitespace-only body.
	p.handleMessage(ctx, gatewayMessage("m4", "guild-1", "chan-1", "42", "  \n "))

	// Missing author.
	orphan := gatewayMessage("m5", "guild-1", "chan-1", "42", "hello")
	orphan.Author = nil
	p.handleMessage(ctx, orphan)

	if len(pub.msgs) != 0 {
		t.Errorf("filtered messages were published: %+v", pub.msgs)
	}
}

func TestRefreshChannels_UpdatesWatchSet(t *testing.T) {
	pub := &fakePublisher{}
	p := testProducer(pub)
	p.channels = &fakeChannels{channels: []store.Channel{
		{ExternalID: "chan-1", Monitored: true},
		{ExternalID: "chan-2", Monitored: true},
	}}

	if err := p.refreshChannels(context.Background()); err != nil {
		t.Fatalf("refreshChannels failed: %v", err)
	}
	if !p.watching("chan-1") || !p.watching("chan-2") {
		t.Error("channels not watched after refresh")
	}
	if p.watching("chan-3") {
		t.Error("unknown channel watched")
	}

	p.channels = &fakeChannels{channels: []store.Channel{{ExternalID: "chan-2"}}}
	if err := p.refreshChannels(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.watching("chan-1") {
		t.Error("dropped channel still watched")
	}
}

func TestRefreshChannels_KeepsWatchSetOnError(t *testing.T) {
	p := testProducer(&fakePublisher{}, "chan-1")
	p.channels = &fakeChannels{err: errors.New("db locked")}

	if err := p.refreshChannels(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !p.watching("chan-1") {
		t.Error("watch set cleared by failed refresh")
	}
}
