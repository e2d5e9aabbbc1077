// Package channels connects external chat surfaces to the message
// stream. Each channel writes user input rows targeted at the agent
// and tails the stream for rows targeted back at itself.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// RowWriter appends one row to a stream.
type RowWriter interface {
	Write(ctx context.Context, data map[string]any) (string, error)
}

// MessageSource tails the message stream.
type MessageSource interface {
	Stream(ctx context.Context, filter, seekTo string) (<-chan timeplus.Row, <-chan error)
}

// messageSender is the slice of the Telegram bot the channel uses to
// reply.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

const telegramResponseFilter = "target = 'channel:telegram' AND message_type IN ('agent_response', 'tool_call')"

const telegramWelcome = "Hello! I'm PulseBot, your AI assistant. Send me a message to get started!"

const telegramHelp = "PulseBot Help\n\n" +
	"Just send me a message and I'll help you with:\n" +
	"- Answering questions\n" +
	"- Web search\n" +
	"- File operations\n" +
	"- And more!\n\n" +
	"Commands:\n" +
	"/start - Start the bot\n" +
	"/help - Show this help message"

// Telegram bridges a Telegram bot to the message stream. Sessions are
// keyed by chat so a conversation keeps its history across turns.
type Telegram struct {
	token        string
	allowedUsers map[int64]bool
	writer       RowWriter
	reader       MessageSource
	sender       messageSender

	mu       sync.Mutex
	sessions map[int64]string

	logger *slog.Logger
}

// NewTelegram builds the channel. An empty allowedUsers list admits
// everyone.
func NewTelegram(token string, allowedUsers []int64, writer RowWriter, reader MessageSource) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	var allowed map[int64]bool
	if len(allowedUsers) > 0 {
		allowed = make(map[int64]bool, len(allowedUsers))
		for _, id := range allowedUsers {
			allowed[id] = true
		}
	}
	return &Telegram{
		token:        token,
		allowedUsers: allowed,
		writer:       writer,
		reader:       reader,
		sessions:     make(map[int64]string),
		logger:       slog.Default().With("component", "channel", "channel", "telegram"),
	}, nil
}

// Run starts long polling and the response listener, blocking until
// ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) error {
	b, err := bot.New(t.token, bot.WithDefaultHandler(t.handleUpdate))
	if err != nil {
		return fmt.Errorf("creating telegram bot: %w", err)
	}
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, t.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, t.handleHelp)
	t.sender = b

	go t.listenForResponses(ctx)

	t.logger.Info("telegram channel started")
	b.Start(ctx)
	t.logger.Info("telegram channel stopped")
	return nil
}

func (t *Telegram) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	t.reply(ctx, update.Message.Chat.ID, telegramWelcome)
}

func (t *Telegram) handleHelp(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	t.reply(ctx, update.Message.Chat.ID, telegramHelp)
}

// handleUpdate routes an incoming text message onto the message
// stream.
func (t *Telegram) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if t.allowedUsers != nil && !t.allowedUsers[userID] {
		t.logger.Warn("rejected message from unauthorized user", "user_id", userID)
		t.reply(ctx, chatID, "Sorry, you're not authorized to use this bot.")
		return
	}

	sessionID := t.sessionFor(chatID)
	t.logger.Info("received telegram message",
		"chat_id", chatID, "session_id", sessionID, "length", len(update.Message.Text))

	metadata := format.JSONString(map[string]any{
		"chat_id":    chatID,
		"message_id": update.Message.ID,
		"username":   update.Message.From.Username,
	}, "{}")

	_, err := t.writer.Write(ctx, map[string]any{
		"source":           "telegram",
		"target":           "agent",
		"session_id":       sessionID,
		"message_type":     "user_input",
		"content":          format.JSONString(map[string]any{"text": update.Message.Text}, "{}"),
		"user_id":          strconv.FormatInt(userID, 10),
		"channel_metadata": metadata,
		"priority":         int8(0),
	})
	if err != nil {
		t.logger.Error("failed to route telegram message", "error", err)
		t.reply(ctx, chatID, "Sorry, something went wrong receiving your message.")
	}
}

// listenForResponses tails the stream for rows targeted at this
// channel and relays them to their chats.
func (t *Telegram) listenForResponses(ctx context.Context) {
	rows, errs := t.reader.Stream(ctx, telegramResponseFilter, "latest")
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			t.logger.Error("telegram response tail failed", "error", err)
			return
		case row, ok := <-rows:
			if !ok {
				return
			}
			t.deliver(ctx, timeplus.MessageFromRow(row))
		}
	}
}

// deliver relays one stream row to its Telegram chat. tool_call rows
// become short status lines; agent responses are sent verbatim.
func (t *Telegram) deliver(ctx context.Context, msg timeplus.Message) {
	text := t.renderContent(msg)
	if text == "" {
		return
	}

	chatID, ok := t.chatFor(msg)
	if !ok {
		t.logger.Warn("cannot resolve chat for session", "session_id", msg.SessionID)
		return
	}
	t.reply(ctx, chatID, text)
}

func (t *Telegram) renderContent(msg timeplus.Message) string {
	var content map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		return msg.Content
	}
	switch msg.MessageType {
	case "agent_response":
		text, _ := content["text"].(string)
		return text
	case "tool_call":
		if content["status"] != "started" {
			return ""
		}
		name, _ := content["tool_name"].(string)
		summary, _ := content["args_summary"].(string)
		if summary != "" {
			return fmt.Sprintf("Running %s %s", name, summary)
		}
		return fmt.Sprintf("Running %s", name)
	default:
		return ""
	}
}

// chatFor resolves the destination chat from channel metadata, falling
// back to the session map.
func (t *Telegram) chatFor(msg timeplus.Message) (int64, bool) {
	var metadata map[string]any
	if err := json.Unmarshal([]byte(msg.ChannelMetadata), &metadata); err == nil {
		if raw, ok := metadata["chat_id"].(float64); ok {
			return int64(raw), true
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for chatID, sessionID := range t.sessions {
		if sessionID == msg.SessionID {
			return chatID, true
		}
	}
	return 0, false
}

func (t *Telegram) reply(ctx context.Context, chatID int64, text string) {
	if t.sender == nil {
		return
	}
	if _, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		t.logger.Error("failed to send telegram message", "chat_id", chatID, "error", err)
	}
}

// sessionFor returns the chat's session, creating one on first
// contact.
func (t *Telegram) sessionFor(chatID int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session, ok := t.sessions[chatID]; ok {
		return session
	}
	session := fmt.Sprintf("tg_%d_%s", chatID, uuid.NewString()[:8])
	t.sessions[chatID] = session
	return session
}
