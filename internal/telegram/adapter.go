package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/types"
)

const (
	maxTelegramMessage = 4096
	transcriptTail     = 10
	targetPrefix       = "telegram:"
)

// botAPI is the part of tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Rooms is the set of open interview rooms the bot can report on.
type Rooms interface {
	Get(name types.RoomName) (*room.View, bool)
	List() []*room.View
}

// Adapter lets recruiters follow and take over interviews from Telegram.
type Adapter struct {
	bot    botAPI
	rooms  Rooms
	logger *slog.Logger
}

// New creates a Telegram adapter.
func New(token string, rooms Rooms, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return newAdapter(bot, rooms, logger), nil
}

func newAdapter(bot botAPI, rooms Rooms, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{bot: bot, rooms: rooms, logger: logger}
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}
	a.sendResponse(msg.Chat.ID, "I only understand commands. Available: /rooms, /transcript <room>, /takeover <room>")
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	arg := types.RoomName(strings.TrimSpace(msg.CommandArguments()))

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, fmt.Sprintf("Aegis recruiter console. Alerts for this chat go to target `%s%d`.", targetPrefix, chatID))

	case "rooms":
		a.sendResponse(chatID, a.roomsText())

	case "transcript":
		v, ok := a.lookup(chatID, arg)
		if !ok {
			return
		}
		a.sendResponse(chatID, transcriptText(v.Transcript(), transcriptTail))

	case "takeover":
		v, ok := a.lookup(chatID, arg)
		if !ok {
			return
		}
		engaged, err := v.EngageTakeover(ctx)
		switch {
		case !engaged:
			a.sendResponse(chatID, fmt.Sprintf("Room %s is already under human control.", arg))
		case err != nil:
			a.logger.Warn("takeover publish failed", "room", string(arg), "error", err)
			a.sendResponse(chatID, fmt.Sprintf("Took over %s, but the interviewer could not be notified.", arg))
		default:
			a.sendResponse(chatID, fmt.Sprintf("You now control %s. The AI interviewer is paused.", arg))
		}

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /rooms, /transcript <room>, /takeover <room>")
	}
}

func (a *Adapter) lookup(chatID int64, name types.RoomName) (*room.View, bool) {
	if name == "" {
		a.sendResponse(chatID, "Usage: name a room, e.g. /transcript interview-1")
		return nil, false
	}
	v, ok := a.rooms.Get(name)
	if !ok {
		a.sendResponse(chatID, fmt.Sprintf("No open room named %s.", name))
		return nil, false
	}
	return v, true
}

func (a *Adapter) roomsText() string {
	views := a.rooms.List()
	if len(views) == 0 {
		return "No open rooms."
	}
	var b strings.Builder
	b.WriteString("Open rooms:\n")
	for _, v := range views {
		fmt.Fprintf(&b, "- %s (%s, %d entries)\n", v.Name(), v.Mode(), v.Len())
	}
	return strings.TrimRight(b.String(), "\n")
}

func transcriptText(entries []types.TranscriptEntry, n int) string {
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Sender, e.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SendTo delivers a message to a target of the form "telegram:<chat id>".
func (a *Adapter) SendTo(target, message string) error {
	chatID, err := parseTarget(target)
	if err != nil {
		return err
	}
	return a.send(chatID, message)
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	if err := a.send(chatID, text); err != nil {
		a.logger.Error("send message error", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) send(chatID int64, text string) error {
	var errs []error
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// splitMessage cuts text into chunks of at most maxTelegramMessage bytes,
// never inside a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			end = len(text)
		} else {
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == 0 {
				end = maxTelegramMessage
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func parseTarget(target string) (int64, error) {
	rest, ok := strings.CutPrefix(target, targetPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram target: %s", target)
	}
	chatID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", rest, err)
	}
	return chatID, nil
}
