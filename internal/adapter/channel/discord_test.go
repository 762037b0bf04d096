//go:build discord

package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/domain"
)

type fakeDiscord struct {
	mu       sync.Mutex
	channels map[string]*discordgo.Channel
	history  map[string][]*discordgo.Message
	sent     []string // target channel IDs
	threads  []string // message IDs threads were started on
	reacted  []string
	nextID   int
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		channels: map[string]*discordgo.Channel{
			"C1": {ID: "C1", Type: discordgo.ChannelTypeGuildText},
			"T1": {ID: "T1", ParentID: "C1", Type: discordgo.ChannelTypeGuildPublicThread},
		},
		history: map[string][]*discordgo.Message{},
	}
}

func (f *fakeDiscord) ChannelMessageSend(channelID, _ string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, channelID)
	return &discordgo.Message{ID: "out" + string(rune('0'+f.nextID)), ChannelID: channelID}, nil
}

func (f *fakeDiscord) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	for _, m := range f.history[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, errors.New("unknown message")
}

func (f *fakeDiscord) ChannelMessages(channelID string, _ int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	msgs := f.history[channelID]
	out := make([]*discordgo.Message, len(msgs))
	// newest first, like the API
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out, nil
}

func (f *fakeDiscord) MessageReactionAdd(channelID, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted = append(f.reacted, "+"+emoji+"@"+channelID+"/"+messageID)
	return nil
}

func (f *fakeDiscord) MessageReactionRemove(channelID, messageID, emoji, userID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted = append(f.reacted, "-"+emoji+"@"+channelID+"/"+messageID+"/"+userID)
	return nil
}

func (f *fakeDiscord) MessageThreadStart(channelID, messageID, _ string, _ int, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = append(f.threads, messageID)
	ch := &discordgo.Channel{ID: messageID, ParentID: channelID, Type: discordgo.ChannelTypeGuildPublicThread}
	f.channels[messageID] = ch
	return ch, nil
}

func (f *fakeDiscord) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		return ch, nil
	}
	return nil, errors.New("unknown channel")
}

func newTestDiscord(f *fakeDiscord, opts ...DiscordOption) *DiscordPlatform {
	d := NewDiscordPlatform("token", slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	d.api = f
	d.botUserID = "BOT"
	return d
}

func TestDiscordSendOpensThreadOnce(t *testing.T) {
	f := newFakeDiscord()
	d := newTestDiscord(f)

	_, err := d.SendMessage(context.Background(), "C1", "first reply", "M1")
	require.NoError(t, err)
	_, err = d.SendMessage(context.Background(), "C1", "second reply", "M1")
	require.NoError(t, err)

	assert.Equal(t, []string{"M1"}, f.threads)
	assert.Equal(t, []string{"M1", "M1"}, f.sent)
}

func TestDiscordSendWithoutThread(t *testing.T) {
	f := newFakeDiscord()
	d := newTestDiscord(f)

	id, err := d.SendMessage(context.Background(), "C1", "hi", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"C1"}, f.sent)
	assert.Empty(t, f.threads)
}

func TestDiscordReactionsUseMessageLocation(t *testing.T) {
	f := newFakeDiscord()
	d := newTestDiscord(f)

	id, err := d.SendMessage(context.Background(), "C1", "approval?", "T1")
	require.NoError(t, err)
	require.NoError(t, d.AddReaction(context.Background(), "C1", id, "✅"))
	require.NoError(t, d.RemoveReaction(context.Background(), "C1", "unknown", "👀"))

	assert.Equal(t, []string{"+✅@T1/" + id, "-👀@C1/unknown/@me"}, f.reacted)
}

func TestDiscordGetThreadMessages(t *testing.T) {
	f := newFakeDiscord()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	f.history["C1"] = []*discordgo.Message{
		{ID: "T1", Content: "<@BOT> help", Author: &discordgo.User{ID: "U1", Username: "alice"}, Timestamp: base},
	}
	f.history["T1"] = []*discordgo.Message{
		{ID: "a", Content: "on it", Author: &discordgo.User{ID: "BOT", Username: "warden"}, Timestamp: base.Add(time.Minute)},
		{ID: "b", Content: "thanks", Author: &discordgo.User{ID: "U2", Username: "bob", GlobalName: "Bob"}, Timestamp: base.Add(2 * time.Minute)},
		{ID: "c", Content: "system"},
	}
	d := newTestDiscord(f)

	msgs, err := d.GetThreadMessages(context.Background(), "C1", "T1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"T1", "a", "b"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, "Bob", msgs[2].AuthorName)
}

func TestDiscordEvents(t *testing.T) {
	f := newFakeDiscord()
	d := newTestDiscord(f, WithDiscordChannels([]string{"C1"}))

	msgs := make(chan domain.InboundMessage, 4)
	reactions := make(chan domain.Reaction, 4)
	d.OnMessage(func(_ context.Context, m domain.InboundMessage) error { msgs <- m; return nil })
	d.OnReaction(func(_ context.Context, r domain.Reaction) error { reactions <- r; return nil })

	bot := &discordgo.User{ID: "BOT"}
	alice := &discordgo.User{ID: "U1", Username: "alice"}

	// mention in a thread
	d.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: "T1", GuildID: "G", Content: "<@BOT> hi", Author: alice, Mentions: []*discordgo.User{bot},
	}})
	// no mention in a guild channel
	d.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m2", ChannelID: "C1", GuildID: "G", Content: "chatter", Author: alice,
	}})
	// bot's own message
	d.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m3", ChannelID: "C1", GuildID: "G", Content: "me", Author: bot, Mentions: []*discordgo.User{bot},
	}})
	d.onReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		UserID: "U2", MessageID: "out1", ChannelID: "T1", Emoji: discordgo.Emoji{Name: "✅"},
	}})
	d.onReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		UserID: "BOT", MessageID: "m1", ChannelID: "T1", Emoji: discordgo.Emoji{Name: "👀"},
	}})
	d.wg.Wait()

	require.Len(t, msgs, 1)
	m := <-msgs
	assert.Equal(t, "C1", m.ChannelID)
	assert.Equal(t, "T1", m.ThreadID)
	assert.Equal(t, "alice", m.SenderName)

	require.Len(t, reactions, 1)
	assert.Equal(t, domain.Reaction{ChannelID: "C1", MessageID: "out1", Emoji: "white_check_mark", UserID: "U2"}, <-reactions)
}

func TestThreadName(t *testing.T) {
	assert.Equal(t, "conversation", threadName("<@BOT>"))
	assert.Equal(t, "deploy status", threadName("<@BOT> deploy status"))
	assert.Len(t, []rune(threadName(string(make([]rune, 200)))), discordThreadNameSize)
}

func TestDiscordEmojiTranslation(t *testing.T) {
	assert.Equal(t, "✅", toDiscordEmoji("white_check_mark"))
	assert.Equal(t, "✅", toDiscordEmoji(":white_check_mark:"))
	assert.Equal(t, "custom:123", toDiscordEmoji("custom:123"))
	assert.Equal(t, "x", fromDiscordEmoji("❌"))
	assert.Equal(t, "🦄", fromDiscordEmoji("🦄"))

	f := newFakeDiscord()
	d := newTestDiscord(f)
	require.NoError(t, d.AddReaction(context.Background(), "C1", "m1", "eyes"))
	assert.Equal(t, []string{"+👀@C1/m1"}, f.reacted)
}
