package transport

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/porterbot/porter/internal/bus"
	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/content"

	_ "modernc.org/sqlite"
)

const whatsappTransportName = "whatsapp"

const whatsappSendTimeout = 30 * time.Second

type WhatsAppClient struct {
	cfg            config.WhatsAppConfig
	bus            *bus.MessageBus
	client         *whatsmeow.Client
	storeContainer *sqlstore.Container
	cancel         context.CancelFunc
	handlerID      uint32
}

func NewWhatsApp(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*WhatsAppClient, error) {
	storePath := strings.TrimSpace(cfg.StorePath)
	if storePath == "" {
		storePath = filepath.Join(config.ConfigDir(), "whatsapp-store.db")
	}

	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		return nil, fmt.Errorf("create whatsapp store dir: %w", err)
	}

	storeDSN := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.ToSlash(storePath))
	container, err := sqlstore.New(context.Background(), "sqlite", storeDSN, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("init whatsapp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Noop)

	w := &WhatsAppClient{
		cfg:            cfg,
		bus:            msgBus,
		client:         client,
		storeContainer: container,
	}
	w.handlerID = w.client.AddEventHandler(w.handleEvent)

	return w, nil
}

func (w *WhatsAppClient) Name() string {
	return whatsappTransportName
}

func (w *WhatsAppClient) Start(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	ctx, w.cancel = context.WithCancel(ctx)

	if w.client.Store.ID == nil {
		qrChan, err := w.client.GetQRChannel(ctx)
		if err != nil {
			w.cancel()
			return fmt.Errorf("get whatsapp qr channel: %w", err)
		}
		go w.consumeQR(ctx, qrChan)
	}

	if err := w.client.Connect(); err != nil {
		w.cancel()
		return fmt.Errorf("connect whatsapp: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.client.Disconnect()
	}()

	log.Printf("[whatsapp] connected")
	return nil
}

func (w *WhatsAppClient) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	if w.client != nil {
		if w.handlerID != 0 {
			w.client.RemoveEventHandler(w.handlerID)
			w.handlerID = 0
		}
		w.client.Disconnect()
	}

	if w.storeContainer != nil {
		if err := w.storeContainer.Close(); err != nil {
			return fmt.Errorf("close whatsapp store: %w", err)
		}
		w.storeContainer = nil
	}

	log.Printf("[whatsapp] stopped")
	return nil
}

func (w *WhatsAppClient) OwnID() string {
	if w.client == nil || w.client.Store == nil || w.client.Store.ID == nil {
		return ""
	}
	return w.client.Store.ID.ToNonAD().String()
}

func (w *WhatsAppClient) ConversationByID(id string) (Conversation, error) {
	jid, err := parseWhatsAppJID(id)
	if err != nil {
		return nil, fmt.Errorf("parse whatsapp chat id %q: %w", id, err)
	}
	return &whatsAppConversation{client: w.client, jid: jid}, nil
}

// ListConversations takes a fresh listing: joined groups from the server
// plus every contact in the device store as a direct conversation.
func (w *WhatsAppClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	if w.client == nil {
		return nil, fmt.Errorf("whatsapp client not initialized")
	}

	groups, err := w.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list whatsapp groups: %w", err)
	}

	contacts, err := w.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list whatsapp contacts: %w", err)
	}

	convos := make([]Conversation, 0, len(groups)+len(contacts))
	for _, g := range groups {
		convos = append(convos, &whatsAppConversation{client: w.client, jid: g.JID})
	}
	for jid := range contacts {
		convos = append(convos, &whatsAppConversation{client: w.client, jid: jid.ToNonAD()})
	}
	return convos, nil
}

func (w *WhatsAppClient) NewDirectConversation(ctx context.Context, target string) (Conversation, error) {
	jid, err := parseWhatsAppJID(target)
	if err != nil {
		return nil, fmt.Errorf("parse whatsapp target %q: %w", target, err)
	}
	if jid.Server == types.GroupServer {
		return nil, fmt.Errorf("target %q is a group, not a user", target)
	}
	return &whatsAppConversation{client: w.client, jid: jid}, nil
}

func (w *WhatsAppClient) consumeQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}

			switch evt.Event {
			case whatsmeow.QRChannelEventCode:
				log.Printf("[whatsapp] scan the QR code below to login")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			default:
				if evt.Error != nil {
					log.Printf("[whatsapp] login event=%s error=%v", evt.Event, evt.Error)
				} else {
					log.Printf("[whatsapp] login event=%s", evt.Event)
				}
			}
		}
	}
}

func (w *WhatsAppClient) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessage(e)
	}
}

func (w *WhatsAppClient) handleMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	c, ok := decodeWhatsAppContent(evt.Message)
	if !ok {
		return
	}

	w.bus.Inbound <- bus.InboundMessage{
		Transport: whatsappTransportName,
		ID:        string(evt.Info.ID),
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		ChatID:    evt.Info.Chat.String(),
		IsGroup:   evt.Info.IsGroup,
		Content:   c,
		Timestamp: evt.Info.Timestamp,
		Metadata: map[string]any{
			"push_name":  evt.Info.PushName,
			"sender_jid": evt.Info.Sender.String(),
		},
	}
}

// decodeWhatsAppContent maps a raw message proto onto the content union.
// Menu selections (button and list replies) become intents; conversation
// and extended text become plain text. Everything else is dropped.
func decodeWhatsAppContent(msg *waE2E.Message) (content.Content, bool) {
	if btn := msg.GetButtonsResponseMessage(); btn != nil {
		id := strings.TrimSpace(btn.GetSelectedButtonID())
		if id == "" {
			return content.Content{}, false
		}
		return content.NewIntent(id), true
	}

	if list := msg.GetListResponseMessage(); list != nil {
		id := strings.TrimSpace(list.GetSingleSelectReply().GetSelectedRowID())
		if id == "" {
			return content.Content{}, false
		}
		return content.NewIntent(id), true
	}

	text := strings.TrimSpace(msg.GetConversation())
	if text == "" && msg.GetExtendedTextMessage() != nil {
		text = strings.TrimSpace(msg.GetExtendedTextMessage().GetText())
	}
	if text == "" {
		return content.Content{}, false
	}
	return content.NewText(text), true
}

type whatsAppConversation struct {
	client *whatsmeow.Client
	jid    types.JID
}

func (c *whatsAppConversation) ID() string {
	return c.jid.String()
}

func (c *whatsAppConversation) IsGroup() bool {
	return c.jid.Server == types.GroupServer
}

func (c *whatsAppConversation) Send(ctx context.Context, body content.Content) error {
	if c.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	msg, err := encodeWhatsAppContent(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, whatsappSendTimeout)
	defer cancel()

	if _, err := c.client.SendMessage(ctx, c.jid, msg); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

func encodeWhatsAppContent(body content.Content) (*waE2E.Message, error) {
	switch body.Type {
	case content.TypeText:
		text := strings.TrimSpace(body.Text)
		if text == "" {
			return nil, fmt.Errorf("empty text content")
		}
		return &waE2E.Message{Conversation: proto.String(text)}, nil

	case content.TypeActions:
		if body.Actions == nil || len(body.Actions.Actions) == 0 {
			return nil, fmt.Errorf("actions content has no actions")
		}
		buttons := make([]*waE2E.ButtonsMessage_Button, 0, len(body.Actions.Actions))
		for _, a := range body.Actions.Actions {
			buttons = append(buttons, &waE2E.ButtonsMessage_Button{
				ButtonID:   proto.String(a.ID),
				ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(a.Label)},
				Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
			})
		}
		return &waE2E.Message{
			ButtonsMessage: &waE2E.ButtonsMessage{
				ContentText: proto.String(body.Actions.Description),
				HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
				Buttons:     buttons,
			},
		}, nil
	}

	return nil, fmt.Errorf("unsupported outbound content type %q", body.Type)
}

func parseWhatsAppJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("empty jid")
	}

	if strings.Contains(raw, "@") {
		return types.ParseJID(raw)
	}

	user := strings.TrimPrefix(raw, "+")
	if isDigitsOnly(user) {
		return types.NewJID(user, types.DefaultUserServer), nil
	}

	return types.ParseJID(raw)
}

func isDigitsOnly(val string) bool {
	if val == "" {
		return false
	}
	for _, r := range val {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
