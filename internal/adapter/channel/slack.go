//go:build slack

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"warden/internal/domain"
)

const slackRepliesPageSize = 200

// slackAPI is the subset of the Slack Web API the platform uses.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

// SlackOption configures the Slack platform.
type SlackOption func(*SlackPlatform)

// WithSlackChannels limits the bot to specific channel IDs.
func WithSlackChannels(ids []string) SlackOption {
	return func(s *SlackPlatform) {
		s.channelIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			s.channelIDs[id] = true
		}
	}
}

// SlackPlatform implements domain.Platform for Slack via Socket Mode.
// The bot answers app mentions and direct messages; reactions on any
// message in a watched channel are forwarded.
type SlackPlatform struct {
	botToken   string
	appToken   string
	api        slackAPI
	logger     *slog.Logger
	channelIDs map[string]bool

	onMessage  domain.MessageHandler
	onReaction domain.ReactionHandler

	mu        sync.RWMutex
	botUserID string
	userNames sync.Map // userID → display name
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ domain.Platform = (*SlackPlatform)(nil)

// NewSlackPlatform creates a Slack platform.
func NewSlackPlatform(botToken, appToken string, logger *slog.Logger, opts ...SlackOption) *SlackPlatform {
	s := &SlackPlatform{
		botToken: botToken,
		appToken: appToken,
		api:      slack.New(botToken, slack.OptionAppLevelToken(appToken)),
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SlackPlatform) Name() string { return "slack" }

func (s *SlackPlatform) BotUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botUserID
}

func (s *SlackPlatform) OnMessage(h domain.MessageHandler)   { s.onMessage = h }
func (s *SlackPlatform) OnReaction(h domain.ReactionHandler) { s.onReaction = h }

// Start connects over Socket Mode and dispatches events until ctx is done.
func (s *SlackPlatform) Start(ctx context.Context) error {
	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	s.mu.Lock()
	s.botUserID = auth.UserID
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.logger.Info("slack platform started", "bot_user_id", auth.UserID, "team", auth.Team)

	client, ok := s.api.(*slack.Client)
	if !ok {
		return errors.New("slack socket mode needs a *slack.Client")
	}
	sm := socketmode.New(client)

	go s.eventLoop(ctx, sm)
	err = sm.RunContext(ctx)
	s.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *SlackPlatform) Stop(_ context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// SendMessage posts text, in threadID when set, and returns the message ts.
func (s *SlackPlatform) SendMessage(ctx context.Context, channelID, text, threadID string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	_, ts, err := s.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post message: %w", err)
	}
	return ts, nil
}

func (s *SlackPlatform) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := s.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(channelID, messageID))
	if err != nil && err.Error() != "already_reacted" {
		return fmt.Errorf("slack add reaction: %w", err)
	}
	return nil
}

func (s *SlackPlatform) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := s.api.RemoveReactionContext(ctx, emoji, slack.NewRefToMessage(channelID, messageID))
	if err != nil && err.Error() != "no_reaction" {
		return fmt.Errorf("slack remove reaction: %w", err)
	}
	return nil
}

// GetThreadMessages returns every message of the thread, oldest first,
// following pagination cursors.
func (s *SlackPlatform) GetThreadMessages(ctx context.Context, channelID, threadID string) ([]domain.ThreadMessage, error) {
	var out []domain.ThreadMessage
	cursor := ""
	for {
		msgs, hasMore, next, err := s.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadID,
			Cursor:    cursor,
			Limit:     slackRepliesPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("slack conversation replies: %w", err)
		}
		for _, m := range msgs {
			author := m.User
			if author == "" && m.BotID != "" {
				author = s.BotUserID()
			}
			out = append(out, domain.ThreadMessage{
				ID:         m.Timestamp,
				AuthorID:   author,
				AuthorName: s.userName(ctx, author),
				Text:       m.Text,
				Timestamp:  parseSlackTS(m.Timestamp),
			})
		}
		if !hasMore || next == "" {
			return out, nil
		}
		cursor = next
	}
}

func (s *SlackPlatform) eventLoop(ctx context.Context, sm *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sm.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				sm.Ack(*evt.Request)
			}
			s.handleEvent(ctx, apiEvent.InnerEvent.Data)
		}
	}
}

// handleEvent turns one Events API payload into a handler call. Each
// message and reaction runs in its own goroutine.
func (s *SlackPlatform) handleEvent(ctx context.Context, data any) {
	switch ev := data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" || ev.User == "" || !s.watched(ev.Channel) {
			return
		}
		s.dispatchMessage(ctx, domain.InboundMessage{
			ID:        ev.TimeStamp,
			ChannelID: ev.Channel,
			ThreadID:  ev.ThreadTimeStamp,
			Text:      ev.Text,
			SenderID:  ev.User,
			Timestamp: parseSlackTS(ev.TimeStamp),
		})

	case *slackevents.MessageEvent:
		// Mentions in channels arrive as app_mention; only DMs are taken here.
		if ev.ChannelType != "im" || ev.SubType != "" || ev.BotID != "" || ev.User == "" || ev.User == s.BotUserID() {
			return
		}
		s.dispatchMessage(ctx, domain.InboundMessage{
			ID:        ev.TimeStamp,
			ChannelID: ev.Channel,
			ThreadID:  ev.ThreadTimeStamp,
			Text:      ev.Text,
			SenderID:  ev.User,
			Timestamp: parseSlackTS(ev.TimeStamp),
		})

	case *slackevents.ReactionAddedEvent:
		if ev.Item.Type != "message" || ev.User == s.BotUserID() || !s.watched(ev.Item.Channel) {
			return
		}
		s.dispatchReaction(ctx, domain.Reaction{
			ChannelID: ev.Item.Channel,
			MessageID: ev.Item.Timestamp,
			Emoji:     ev.Reaction,
			UserID:    ev.User,
		})
	}
}

func (s *SlackPlatform) dispatchMessage(ctx context.Context, msg domain.InboundMessage) {
	if s.onMessage == nil {
		return
	}
	msg.SenderName = s.userName(ctx, msg.SenderID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.onMessage(ctx, msg); err != nil {
			s.logger.Error("slack message handler error", "channel", msg.ChannelID, "message_id", msg.ID, "error", err)
		}
	}()
}

func (s *SlackPlatform) dispatchReaction(ctx context.Context, r domain.Reaction) {
	if s.onReaction == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.onReaction(ctx, r); err != nil {
			s.logger.Error("slack reaction handler error", "channel", r.ChannelID, "message_id", r.MessageID, "error", err)
		}
	}()
}

func (s *SlackPlatform) watched(channelID string) bool {
	return len(s.channelIDs) == 0 || s.channelIDs[channelID]
}

// userName resolves a display name, caching the answer.
func (s *SlackPlatform) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	if v, ok := s.userNames.Load(userID); ok {
		return v.(string)
	}
	info, err := s.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		s.logger.Debug("slack user lookup failed", "user_id", userID, "error", err)
		return userID
	}
	name := info.Profile.DisplayName
	if name == "" {
		name = info.RealName
	}
	if name == "" {
		name = info.Name
	}
	s.userNames.Store(userID, name)
	return name
}

// parseSlackTS converts a message ts ("1700000000.000100") to a time.
func parseSlackTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, nanos)
}
