//go:build discord

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"warden/internal/domain"
)

const (
	discordHistoryLimit   = 100
	discordThreadArchive  = 1440 // minutes
	discordThreadNameSize = 80
)

// discordAPI is the subset of the discordgo session the platform uses.
type discordAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	MessageThreadStart(channelID, messageID, name string, archiveDuration int, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// DiscordOption configures the Discord platform.
type DiscordOption func(*DiscordPlatform)

// WithDiscordGuild limits the bot to a specific guild.
func WithDiscordGuild(guildID string) DiscordOption {
	return func(d *DiscordPlatform) { d.guildID = guildID }
}

// WithDiscordChannels limits the bot to specific parent channel IDs.
func WithDiscordChannels(ids []string) DiscordOption {
	return func(d *DiscordPlatform) {
		d.channelIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			d.channelIDs[id] = true
		}
	}
}

// DiscordPlatform implements domain.Platform for Discord.
//
// Discord threads are channels of their own. Events inside a thread are
// reported with the parent channel as ChannelID and the thread as
// ThreadID, so a conversation keeps one identity whether or not the bot
// opened the thread. Replies outside a thread open one on the triggering
// message, which gives the thread the same ID as that message.
type DiscordPlatform struct {
	token      string
	session    *discordgo.Session
	api        discordAPI
	logger     *slog.Logger
	guildID    string
	channelIDs map[string]bool

	onMessage  domain.MessageHandler
	onReaction domain.ReactionHandler

	mu        sync.RWMutex
	botUserID string
	parents   sync.Map // channel ID → parent channel ID, "" when not a thread
	located   sync.Map // message ID → channel the message lives in
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ domain.Platform = (*DiscordPlatform)(nil)

// NewDiscordPlatform creates a Discord platform.
func NewDiscordPlatform(token string, logger *slog.Logger, opts ...DiscordOption) *DiscordPlatform {
	d := &DiscordPlatform{
		token:  token,
		logger: logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *DiscordPlatform) Name() string { return "discord" }

func (d *DiscordPlatform) BotUserID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.botUserID
}

func (d *DiscordPlatform) OnMessage(h domain.MessageHandler)   { d.onMessage = h }
func (d *DiscordPlatform) OnReaction(h domain.ReactionHandler) { d.onReaction = h }

// Start opens the gateway session and blocks until ctx is done.
func (d *DiscordPlatform) Start(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentMessageContent

	d.mu.Lock()
	d.session = dg
	d.api = dg
	d.ctx, d.cancel = context.WithCancel(ctx)
	ctx = d.ctx
	d.mu.Unlock()

	dg.AddHandler(d.onMessageCreate)
	dg.AddHandler(d.onReactionAdd)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.mu.Lock()
	d.botUserID = dg.State.User.ID
	d.mu.Unlock()
	d.logger.Info("discord platform started", "user_id", d.BotUserID())

	<-ctx.Done()
	d.wg.Wait()
	return dg.Close()
}

func (d *DiscordPlatform) Stop(_ context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// SendMessage posts text into threadID, opening the thread on the message
// of that ID when it does not exist yet.
func (d *DiscordPlatform) SendMessage(_ context.Context, channelID, text, threadID string) (string, error) {
	target := channelID
	if threadID != "" && threadID != channelID {
		if err := d.ensureThread(channelID, threadID, text); err != nil {
			return "", err
		}
		target = threadID
	}
	msg, err := d.api.ChannelMessageSend(target, text)
	if err != nil {
		return "", fmt.Errorf("discord send: %w", err)
	}
	d.located.Store(msg.ID, target)
	return msg.ID, nil
}

func (d *DiscordPlatform) ensureThread(channelID, threadID, text string) error {
	if parent, ok := d.parents.Load(threadID); ok && parent.(string) != "" {
		return nil
	}
	if ch, err := d.api.Channel(threadID); err == nil && ch.IsThread() {
		d.parents.Store(threadID, ch.ParentID)
		return nil
	}
	ch, err := d.api.MessageThreadStart(channelID, threadID, threadName(text), discordThreadArchive)
	if err != nil {
		return fmt.Errorf("discord start thread: %w", err)
	}
	d.parents.Store(ch.ID, channelID)
	return nil
}

func (d *DiscordPlatform) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	if err := d.api.MessageReactionAdd(d.locate(channelID, messageID), messageID, toDiscordEmoji(emoji)); err != nil {
		return fmt.Errorf("discord add reaction: %w", err)
	}
	return nil
}

func (d *DiscordPlatform) RemoveReaction(_ context.Context, channelID, messageID, emoji string) error {
	if err := d.api.MessageReactionRemove(d.locate(channelID, messageID), messageID, toDiscordEmoji(emoji), "@me"); err != nil {
		return fmt.Errorf("discord remove reaction: %w", err)
	}
	return nil
}

// GetThreadMessages returns the thread starter (when the thread was opened
// on a message) followed by the thread's messages, oldest first.
func (d *DiscordPlatform) GetThreadMessages(_ context.Context, channelID, threadID string) ([]domain.ThreadMessage, error) {
	msgs, err := d.api.ChannelMessages(threadID, discordHistoryLimit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("discord thread history: %w", err)
	}
	if starter, err := d.api.ChannelMessage(channelID, threadID); err == nil && starter != nil {
		msgs = append(msgs, starter)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	out := make([]domain.ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Author == nil {
			continue
		}
		out = append(out, domain.ThreadMessage{
			ID:         m.ID,
			AuthorID:   m.Author.ID,
			AuthorName: authorName(m.Author),
			Text:       m.Content,
			Timestamp:  m.Timestamp,
		})
	}
	return out, nil
}

func (d *DiscordPlatform) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == d.BotUserID() {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}

	channelID, threadID := d.resolve(m.ChannelID)
	if !d.watched(channelID) {
		return
	}
	// In guilds the bot only answers when mentioned; DMs are always addressed.
	if m.GuildID != "" && !d.mentioned(m.Mentions) {
		return
	}

	d.located.Store(m.ID, m.ChannelID)
	d.dispatchMessage(domain.InboundMessage{
		ID:         m.ID,
		ChannelID:  channelID,
		ThreadID:   threadID,
		Text:       m.Content,
		SenderID:   m.Author.ID,
		SenderName: authorName(m.Author),
		Timestamp:  m.Timestamp,
	})
}

func (d *DiscordPlatform) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.UserID == d.BotUserID() {
		return
	}
	channelID, _ := d.resolve(r.ChannelID)
	if !d.watched(channelID) {
		return
	}
	d.located.Store(r.MessageID, r.ChannelID)
	d.dispatchReaction(domain.Reaction{
		ChannelID: channelID,
		MessageID: r.MessageID,
		Emoji:     fromDiscordEmoji(r.Emoji.Name),
		UserID:    r.UserID,
	})
}

// resolve maps a raw Discord channel ID to (parent channel, thread).
func (d *DiscordPlatform) resolve(rawID string) (string, string) {
	if v, ok := d.parents.Load(rawID); ok {
		if parent := v.(string); parent != "" {
			return parent, rawID
		}
		return rawID, ""
	}

	var ch *discordgo.Channel
	if d.session != nil {
		ch, _ = d.session.State.Channel(rawID)
	}
	if ch == nil && d.api != nil {
		var err error
		if ch, err = d.api.Channel(rawID); err != nil {
			d.logger.Debug("discord channel lookup failed", "channel", rawID, "error", err)
			return rawID, ""
		}
	}
	if ch != nil && ch.IsThread() {
		d.parents.Store(rawID, ch.ParentID)
		return ch.ParentID, rawID
	}
	d.parents.Store(rawID, "")
	return rawID, ""
}

// locate returns the channel a message lives in, defaulting to channelID.
func (d *DiscordPlatform) locate(channelID, messageID string) string {
	if v, ok := d.located.Load(messageID); ok {
		return v.(string)
	}
	return channelID
}

func (d *DiscordPlatform) mentioned(users []*discordgo.User) bool {
	bot := d.BotUserID()
	for _, u := range users {
		if u != nil && u.ID == bot {
			return true
		}
	}
	return false
}

func (d *DiscordPlatform) watched(channelID string) bool {
	return len(d.channelIDs) == 0 || d.channelIDs[channelID]
}

func (d *DiscordPlatform) handlerCtx() context.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ctx != nil {
		return d.ctx
	}
	return context.Background()
}

func (d *DiscordPlatform) dispatchMessage(msg domain.InboundMessage) {
	if d.onMessage == nil {
		return
	}
	ctx := d.handlerCtx()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.onMessage(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("discord message handler error", "channel", msg.ChannelID, "message_id", msg.ID, "error", err)
		}
	}()
}

func (d *DiscordPlatform) dispatchReaction(r domain.Reaction) {
	if d.onReaction == nil {
		return
	}
	ctx := d.handlerCtx()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.onReaction(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("discord reaction handler error", "channel", r.ChannelID, "message_id", r.MessageID, "error", err)
		}
	}()
}

func authorName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// threadName derives a thread title from the first reply.
func threadName(text string) string {
	name := []rune(CleanMentions(text))
	if len(name) == 0 {
		return "conversation"
	}
	if len(name) > discordThreadNameSize {
		name = name[:discordThreadNameSize]
	}
	return string(name)
}

// Emoji are configured as Slack-style shortcodes. Discord speaks unicode
// for standard emoji, so the common ones are translated both ways.
var discordShortcodes = map[string]string{
	"white_check_mark":       "✅",
	"heavy_check_mark":       "✔️",
	"x":                      "❌",
	"no_entry_sign":          "🚫",
	"eyes":                   "👀",
	"warning":                "⚠️",
	"hourglass":              "⌛",
	"hourglass_flowing_sand": "⏳",
	"+1":                     "👍",
	"-1":                     "👎",
}

var discordUnicode = func() map[string]string {
	m := make(map[string]string, len(discordShortcodes))
	for code, u := range discordShortcodes {
		m[u] = code
	}
	return m
}()

func toDiscordEmoji(name string) string {
	if u, ok := discordShortcodes[strings.Trim(name, ":")]; ok {
		return u
	}
	return name
}

func fromDiscordEmoji(name string) string {
	if code, ok := discordUnicode[name]; ok {
		return code
	}
	return name
}
