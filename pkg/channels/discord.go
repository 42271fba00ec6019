package channels

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/edgy-raven/helper-chatbot/pkg/agent"
	"github.com/edgy-raven/helper-chatbot/pkg/bus"
	"github.com/edgy-raven/helper-chatbot/pkg/config"
	"github.com/edgy-raven/helper-chatbot/pkg/logger"
)

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>|@everyone|@here`)

const (
	typingRefreshInterval = 8 * time.Second
	sendTimeout           = 10 * time.Second
	transcriptTimeFormat  = "2006-01-02T15:04:05Z"
)

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

// DiscordChannel listens for guild and DM messages that mention the bot,
// assembles a recent-conversation transcript, and publishes each message
// onto the bus for turn processing.
type DiscordChannel struct {
	*BaseChannel
	session        *discordgo.Session
	token          string
	historyLimit   int
	replyChainHops int
	maxReplyChars  int

	typingMu sync.Mutex
	typing   map[string]*typingSession
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel:    NewBaseChannel("discord", b, cfg.AllowFrom),
		token:          cfg.Token,
		historyLimit:   cfg.HistoryLimit,
		replyChainHops: cfg.ReplyChainHops,
		maxReplyChars:  cfg.MaxReplyChars,
		typing:         make(map[string]*typingSession),
	}
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	if d.token == "" {
		return fmt.Errorf("discord token not configured")
	}

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.handleMessage)

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}

	d.session = session
	d.setRunning(true)
	logger.InfoC("discord", "channel started")
	return nil
}

func (d *DiscordChannel) Stop(ctx context.Context) error {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			logger.WarnCF("discord", "error closing session", map[string]interface{}{"error": err.Error()})
		}
		d.session = nil
	}
	d.setRunning(false)
	logger.InfoC("discord", "channel stopped")
	return nil
}

// Send delivers a reply, clipped to the configured length, and stops the
// typing indicator for that chat.
func (d *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	defer d.endTyping(msg.ChatID)

	if d.session == nil {
		return fmt.Errorf("discord session not started")
	}
	content := clipReply(msg.Content, d.maxReplyChars)
	if content == "" {
		return nil
	}

	channelID := msg.ChatID
	if userID, ok := strings.CutPrefix(channelID, "dm:"); ok {
		dm, err := d.session.UserChannelCreate(userID)
		if err != nil {
			return fmt.Errorf("failed to open dm channel: %w", err)
		}
		channelID = dm.ID
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.session.ChannelMessageSend(channelID, content)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timed out sending discord message to %s", msg.ChatID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !d.isAddressed(s, m) {
		return
	}
	if !d.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "sender not in allowlist", map[string]interface{}{"sender": m.Author.ID})
		return
	}

	d.beginTyping(m.ChannelID)

	names := mentionNames(s, m.Message)
	transcript := d.collectRecentMessages(s, m, names)

	d.bus.PublishInbound(bus.InboundMessage{
		Channel:        d.Name(),
		SenderID:       m.Author.ID,
		DisplayName:    displayName(m.Member, m.Author),
		GuildID:        m.GuildID,
		ChatID:         m.ChannelID,
		Content:        rewriteMentions(m.Content, names),
		RecentMessages: transcript,
		ReceivedAt:     time.Now().UTC(),
	})
}

// isAddressed reports whether the bot should answer: always in DMs, and
// only when explicitly mentioned in guild channels.
func (d *DiscordChannel) isAddressed(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return true
	}
	if s.State.User == nil {
		return false
	}
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			return true
		}
	}
	return false
}

// collectRecentMessages builds a transcript from recent channel history
// plus the reply chain the current message is part of, deduplicated and
// ordered by timestamp.
func (d *DiscordChannel) collectRecentMessages(s *discordgo.Session, m *discordgo.MessageCreate, names map[string]string) string {
	seen := make(map[string]*discordgo.Message)

	history, err := s.ChannelMessages(m.ChannelID, d.historyLimit, m.ID, "", "")
	if err != nil {
		logger.WarnCF("discord", "failed to fetch channel history", map[string]interface{}{"error": err.Error()})
	}
	for _, msg := range history {
		seen[msg.ID] = msg
	}

	ref := m.ReferencedMessage
	for hop := 0; ref != nil && hop < d.replyChainHops; hop++ {
		seen[ref.ID] = ref
		if ref.MessageReference == nil || ref.MessageReference.MessageID == "" {
			break
		}
		next, err := s.ChannelMessage(ref.MessageReference.ChannelID, ref.MessageReference.MessageID)
		if err != nil {
			break
		}
		ref = next
	}

	collected := make([]*discordgo.Message, 0, len(seen))
	for _, msg := range seen {
		collected = append(collected, msg)
	}
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Timestamp.Before(collected[j].Timestamp)
	})

	lines := make([]string, 0, len(collected))
	for _, msg := range collected {
		if msg.Author == nil {
			continue
		}
		speaker := msg.Author.Username
		if s.State.User != nil && msg.Author.ID == s.State.User.ID {
			speaker = agent.BotName
		}
		lineNames := mentionNames(s, msg)
		for id, name := range names {
			if _, ok := lineNames[id]; !ok {
				lineNames[id] = name
			}
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			msg.Timestamp.UTC().Format(transcriptTimeFormat),
			speaker,
			rewriteMentions(msg.Content, lineNames)))
	}
	return strings.Join(lines, "\n")
}

// mentionNames maps mentioned user ids to readable names, with the bot's
// own id mapped to its persona name.
func mentionNames(s *discordgo.Session, m *discordgo.Message) map[string]string {
	names := make(map[string]string)
	if s.State.User != nil {
		names[s.State.User.ID] = agent.BotName
	}
	for _, u := range m.Mentions {
		if _, ok := names[u.ID]; !ok {
			names[u.ID] = u.Username
		}
	}
	return names
}

// rewriteMentions replaces raw mention tokens with readable names so the
// model never sees Discord snowflake markup.
func rewriteMentions(content string, names map[string]string) string {
	return mentionPattern.ReplaceAllStringFunc(content, func(token string) string {
		switch token {
		case "@everyone":
			return "everyone"
		case "@here":
			return "here"
		}
		id := strings.Trim(token, "<@!>")
		if name, ok := names[id]; ok {
			return name
		}
		return id
	})
}

func displayName(member *discordgo.Member, author *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if author.GlobalName != "" {
		return author.GlobalName
	}
	return author.Username
}

// clipReply truncates a reply to at most limit runes, marking the cut
// with an ellipsis.
func clipReply(content string, limit int) string {
	content = strings.TrimSpace(content)
	if limit <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "…"
}

func (d *DiscordChannel) beginTyping(chatID string) {
	d.typingMu.Lock()
	defer d.typingMu.Unlock()

	if session, ok := d.typing[chatID]; ok {
		session.pending++
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.typing[chatID] = &typingSession{pending: 1, cancel: cancel}

	go func() {
		_ = d.session.ChannelTyping(chatID)
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = d.session.ChannelTyping(chatID)
			}
		}
	}()
}

func (d *DiscordChannel) endTyping(chatID string) {
	d.typingMu.Lock()
	defer d.typingMu.Unlock()

	session, ok := d.typing[chatID]
	if !ok {
		return
	}
	session.pending--
	if session.pending <= 0 {
		session.cancel()
		delete(d.typing, chatID)
	}
}
