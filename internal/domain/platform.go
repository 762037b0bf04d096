package domain

import (
	"context"
	"time"
)

// InboundMessage is a message addressed to the bot.
type InboundMessage struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	ThreadID   string    `json:"thread_id,omitempty"` // empty when not in a thread
	Text       string    `json:"text"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReplyThread returns the thread replies belong to. Outside a thread the
// inbound message itself becomes the thread root.
func (m InboundMessage) ReplyThread() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.ID
}

// Reaction is an emoji added to a message by a user.
type Reaction struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
}

// ThreadMessage is one historical message in a thread, oldest first.
type ThreadMessage struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageHandler is invoked for every inbound message addressed to the bot.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// ReactionHandler is invoked for every reaction added in a watched channel.
type ReactionHandler func(ctx context.Context, r Reaction) error

// Platform is the chat platform the agent lives in.
type Platform interface {
	Name() string
	// BotUserID is the platform identity of the bot itself. Valid after Start
	// has connected.
	BotUserID() string
	SendMessage(ctx context.Context, channelID, text, threadID string) (string, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error
	GetThreadMessages(ctx context.Context, channelID, threadID string) ([]ThreadMessage, error)
	OnMessage(h MessageHandler)
	OnReaction(h ReactionHandler)
	// Start connects and blocks until ctx is cancelled.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
