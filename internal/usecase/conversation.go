package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"warden/internal/domain"
	"warden/internal/infra/tracer"
)

// mentionPattern matches user mentions in Slack (<@U123>) and Discord
// (<@123>, <@!123>) markup.
var mentionPattern = regexp.MustCompile(`<@!?\w+>`)

// ConversationBuilder turns an inbound message and its thread into the
// message list sent to the LLM. It only reads from the platform.
type ConversationBuilder struct {
	platform     domain.Platform
	systemPrompt string
	directory    *domain.Directory
	logger       *slog.Logger
}

func NewConversationBuilder(platform domain.Platform, systemPrompt string, logger *slog.Logger) *ConversationBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationBuilder{platform: platform, systemPrompt: systemPrompt, logger: logger}
}

// WithDirectory makes Preamble describe known senders by their directory
// entry instead of their platform profile.
func (b *ConversationBuilder) WithDirectory(d *domain.Directory) *ConversationBuilder {
	b.directory = d
	return b
}

// Build returns the conversation for msg, oldest first, ending with msg.
//
// Outside a thread the conversation is the message alone. Inside a thread
// the history is mapped by author: the bot becomes assistant, everybody
// else becomes user and is prefixed with their name. A history that cannot
// be fetched degrades to the single-message form.
func (b *ConversationBuilder) Build(ctx context.Context, msg domain.InboundMessage) []domain.Message {
	_, span := tracer.StartSpan(ctx, "agent.build_context")
	defer span.End()

	if msg.ThreadID == "" {
		return []domain.Message{userMessage(msg, false)}
	}

	history, err := b.platform.GetThreadMessages(ctx, msg.ChannelID, msg.ThreadID)
	if err != nil {
		b.logger.Warn("thread history unavailable", "channel", msg.ChannelID, "thread", msg.ThreadID, "error", err)
		tracer.RecordError(span, err)
		return []domain.Message{userMessage(msg, false)}
	}

	var conv []domain.Message
	botID := b.platform.BotUserID()
	for _, h := range history {
		if h.ID == msg.ID {
			continue
		}
		text := CleanText(h.Text)
		if text == "" {
			continue
		}
		if botID != "" && h.AuthorID == botID {
			conv = append(conv, domain.Message{Role: domain.RoleAssistant, Content: text, Timestamp: h.Timestamp})
			continue
		}
		conv = append(conv, domain.Message{
			Role:      domain.RoleUser,
			Content:   prefixed(displayName(h.AuthorName, h.AuthorID), text),
			Name:      h.AuthorID,
			Timestamp: h.Timestamp,
		})
	}
	conv = append(conv, userMessage(msg, true))

	b.logger.Debug("thread context loaded",
		"thread", msg.ThreadID,
		"history", len(history),
		"messages", len(conv),
	)
	tracer.SetOK(span)
	return conv
}

// Preamble returns the system messages placed before the conversation: the
// configured prompt and a line identifying who is asking.
func (b *ConversationBuilder) Preamble(msg domain.InboundMessage) []domain.Message {
	var conv []domain.Message
	if strings.TrimSpace(b.systemPrompt) != "" {
		conv = append(conv, domain.Message{Role: domain.RoleSystem, Content: b.systemPrompt})
	}
	return append(conv, domain.Message{Role: domain.RoleSystem, Content: b.identity(msg)})
}

// identity describes the sender. A sender found in the directory is shown
// with their tool identities, platform IDs and teams.
func (b *ConversationBuilder) identity(msg domain.InboundMessage) string {
	platform := b.platform.Name()
	p, ok := b.directory.ByPlatformID(platform, msg.SenderID)
	if !ok {
		return fmt.Sprintf("User asking: %s (platform: %s, id: %s)",
			displayName(msg.SenderName, msg.SenderID), platform, msg.SenderID)
	}

	lines := []string{fmt.Sprintf("User asking: %s (id: %s)", p.DisplayName(), p.ID)}
	for _, tool := range sortedKeys(p.Tools) {
		if fields := p.Tools[tool]; len(fields) > 0 {
			lines = append(lines, fmt.Sprintf("%s: %s", tool, joinPairs(fields)))
		}
	}
	if len(p.Platforms) > 0 {
		lines = append(lines, "Platforms: "+joinPairs(p.Platforms))
	}
	var teams []string
	for _, t := range b.directory.TeamsOf(p.ID) {
		if roles := t.Roles(p.ID); len(roles) > 0 {
			teams = append(teams, fmt.Sprintf("%s (%s)", t.Name, strings.Join(roles, ", ")))
		} else {
			teams = append(teams, t.Name)
		}
	}
	if len(teams) > 0 {
		lines = append(lines, "Teams: "+strings.Join(teams, ", "))
	}
	return strings.Join(lines, "\n")
}

// joinPairs renders m as "k=v, k=v" in key order.
func joinPairs(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func userMessage(msg domain.InboundMessage, inThread bool) domain.Message {
	text := CleanText(msg.Text)
	if inThread {
		text = prefixed(displayName(msg.SenderName, msg.SenderID), text)
	}
	return domain.Message{
		Role:      domain.RoleUser,
		Content:   text,
		Name:      msg.SenderID,
		Timestamp: msg.Timestamp,
	}
}

// CleanText removes user mentions and surrounding whitespace.
func CleanText(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

func prefixed(name, text string) string {
	return "[" + name + "]: " + text
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
