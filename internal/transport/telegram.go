package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/porterbot/porter/internal/bus"
	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/content"
)

const telegramTransportName = "telegram"

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramClient struct {
	token      string
	proxy      string
	bus        *bus.MessageBus
	bot        TelegramBot
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory

	// The Bot API cannot enumerate chats, so ListConversations serves a
	// snapshot of every chat seen since startup.
	mu    sync.Mutex
	seen  map[int64]bool // chat id -> is group
	order []int64
}

func NewTelegram(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramClient, error) {
	return NewTelegramWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramWithFactory creates a TelegramClient with a custom bot factory (for testing)
func NewTelegramWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	return &TelegramClient{
		token:      cfg.Token,
		proxy:      cfg.Proxy,
		bus:        b,
		httpClient: http.DefaultClient,
		botFactory: factory,
		seen:       make(map[int64]bool),
	}, nil
}

func (t *TelegramClient) Name() string {
	return telegramTransportName
}

func (t *TelegramClient) initBot() error {
	var client *http.Client
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	} else {
		client = http.DefaultClient
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramClient) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				switch {
				case update.CallbackQuery != nil:
					t.handleCallback(update.CallbackQuery)
				case update.Message != nil:
					t.handleMessage(update.Message)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramClient) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

func (t *TelegramClient) OwnID() string {
	if t.bot == nil {
		return ""
	}
	return strconv.FormatInt(t.bot.GetSelf().ID, 10)
}

func (t *TelegramClient) rememberChat(chatID int64, isGroup bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[chatID]; !ok {
		t.order = append(t.order, chatID)
	}
	t.seen[chatID] = isGroup
}

func (t *TelegramClient) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	t.rememberChat(msg.Chat.ID, isGroup)

	t.bus.Inbound <- bus.InboundMessage{
		Transport: telegramTransportName,
		ID:        strconv.Itoa(msg.MessageID),
		SenderID:  strconv.FormatInt(msg.From.ID, 10),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:   isGroup,
		Content:   content.NewText(text),
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
		},
	}
}

// handleCallback maps an inline-keyboard press to an intent message.
func (t *TelegramClient) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil || strings.TrimSpace(cq.Data) == "" {
		return
	}

	// Dismiss the client-side spinner; best effort.
	if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		log.Printf("[telegram] answer callback failed: %v", err)
	}

	isGroup := cq.Message.Chat.IsGroup() || cq.Message.Chat.IsSuperGroup()
	t.rememberChat(cq.Message.Chat.ID, isGroup)

	t.bus.Inbound <- bus.InboundMessage{
		Transport: telegramTransportName,
		ID:        cq.ID,
		SenderID:  strconv.FormatInt(cq.From.ID, 10),
		ChatID:    strconv.FormatInt(cq.Message.Chat.ID, 10),
		IsGroup:   isGroup,
		Content:   content.NewIntent(strings.TrimSpace(cq.Data)),
		Timestamp: time.Now(),
	}
}

func (t *TelegramClient) ConversationByID(id string) (Conversation, error) {
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", id, err)
	}

	t.mu.Lock()
	isGroup := t.seen[chatID]
	t.mu.Unlock()

	return &telegramConversation{bot: t.bot, chatID: chatID, isGroup: isGroup}, nil
}

func (t *TelegramClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	convos := make([]Conversation, 0, len(t.order))
	for _, chatID := range t.order {
		convos = append(convos, &telegramConversation{bot: t.bot, chatID: chatID, isGroup: t.seen[chatID]})
	}
	return convos, nil
}

func (t *TelegramClient) NewDirectConversation(ctx context.Context, target string) (Conversation, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram user id %q: %w", target, err)
	}
	// Direct chats share the user's id; delivery still requires the user
	// to have started the bot.
	return &telegramConversation{bot: t.bot, chatID: userID}, nil
}

type telegramConversation struct {
	bot     TelegramBot
	chatID  int64
	isGroup bool
}

func (c *telegramConversation) ID() string {
	return strconv.FormatInt(c.chatID, 10)
}

func (c *telegramConversation) IsGroup() bool {
	return c.isGroup
}

func (c *telegramConversation) Send(ctx context.Context, body content.Content) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	switch body.Type {
	case content.TypeText:
		if strings.TrimSpace(body.Text) == "" {
			return fmt.Errorf("empty text content")
		}
		msg := tgbotapi.NewMessage(c.chatID, body.Text)
		if _, err := c.bot.Send(msg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
		return nil

	case content.TypeActions:
		if body.Actions == nil || len(body.Actions.Actions) == 0 {
			return fmt.Errorf("actions content has no actions")
		}
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(body.Actions.Actions))
		for _, a := range body.Actions.Actions {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(a.Label, a.ID),
			))
		}
		msg := tgbotapi.NewMessage(c.chatID, body.Actions.Description)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		if _, err := c.bot.Send(msg); err != nil {
			return fmt.Errorf("send telegram menu: %w", err)
		}
		return nil
	}

	return fmt.Errorf("unsupported outbound content type %q", body.Type)
}
