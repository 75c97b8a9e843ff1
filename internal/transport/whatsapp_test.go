package transport

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/porterbot/porter/internal/bus"
	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/content"
)

func TestNewWhatsApp_Valid(t *testing.T) {
	b := bus.NewMessageBus(10)
	storePath := filepath.Join(t.TempDir(), "whatsapp-store.db")

	w, err := NewWhatsApp(config.WhatsAppConfig{
		Enabled:   true,
		StorePath: storePath,
	}, b)
	if err != nil {
		t.Fatalf("NewWhatsApp error: %v", err)
	}
	if w.Name() != whatsappTransportName {
		t.Errorf("Name = %q, want %s", w.Name(), whatsappTransportName)
	}
	if w.client == nil {
		t.Fatal("expected non-nil whatsapp client")
	}
	if w.OwnID() != "" {
		t.Errorf("OwnID before login = %q, want empty", w.OwnID())
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestParseWhatsAppJID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"digits only", "8613800138000", "8613800138000@s.whatsapp.net", false},
		{"plus prefix", "+8613800138000", "8613800138000@s.whatsapp.net", false},
		{"full user jid", "8613800138000@s.whatsapp.net", "8613800138000@s.whatsapp.net", false},
		{"group jid", "12036304@g.us", "12036304@g.us", false},
		{"whitespace trimmed", "  8613800138000  ", "8613800138000@s.whatsapp.net", false},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := parseWhatsAppJID(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseWhatsAppJID(%q) = %v, want error", tt.input, jid)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseWhatsAppJID(%q) error: %v", tt.input, err)
			}
			if jid.String() != tt.want {
				t.Errorf("parseWhatsAppJID(%q) = %q, want %q", tt.input, jid.String(), tt.want)
			}
		})
	}
}

func TestDecodeWhatsAppContent(t *testing.T) {
	tests := []struct {
		name     string
		msg      *waE2E.Message
		wantType content.Type
		wantVal  string
		wantOK   bool
	}{
		{
			name:     "conversation text",
			msg:      &waE2E.Message{Conversation: proto.String("hello")},
			wantType: content.TypeText,
			wantVal:  "hello",
			wantOK:   true,
		},
		{
			name: "extended text",
			msg: &waE2E.Message{
				ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quoted reply")},
			},
			wantType: content.TypeText,
			wantVal:  "quoted reply",
			wantOK:   true,
		},
		{
			name: "button reply becomes intent",
			msg: &waE2E.Message{
				ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{
					SelectedButtonID: proto.String("set_reminder"),
				},
			},
			wantType: content.TypeIntent,
			wantVal:  "set_reminder",
			wantOK:   true,
		},
		{
			name: "list reply becomes intent",
			msg: &waE2E.Message{
				ListResponseMessage: &waE2E.ListResponseMessage{
					SingleSelectReply: &waE2E.ListResponseMessage_SingleSelectReply{
						SelectedRowID: proto.String("schedule"),
					},
				},
			},
			wantType: content.TypeIntent,
			wantVal:  "schedule",
			wantOK:   true,
		},
		{
			name:   "empty conversation dropped",
			msg:    &waE2E.Message{Conversation: proto.String("   ")},
			wantOK: false,
		},
		{
			name:   "unsupported payload dropped",
			msg:    &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := decodeWhatsAppContent(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if c.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", c.Type, tt.wantType)
			}
			switch tt.wantType {
			case content.TypeText:
				if c.Text != tt.wantVal {
					t.Errorf("text = %q, want %q", c.Text, tt.wantVal)
				}
			case content.TypeIntent:
				if c.Intent == nil || c.Intent.ActionID != tt.wantVal {
					t.Errorf("intent = %+v, want action %q", c.Intent, tt.wantVal)
				}
			}
		})
	}
}

func TestEncodeWhatsAppContent_Text(t *testing.T) {
	msg, err := encodeWhatsAppContent(content.NewText("hello"))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if msg.GetConversation() != "hello" {
		t.Errorf("conversation = %q, want hello", msg.GetConversation())
	}

	if _, err := encodeWhatsAppContent(content.NewText("   ")); err == nil {
		t.Error("empty text should be rejected")
	}
}

func TestEncodeWhatsAppContent_Actions(t *testing.T) {
	msg, err := encodeWhatsAppContent(content.NewActions(content.Actions{
		ID:          "welcome",
		Description: "What can I do for you?",
		Actions: []content.Action{
			{ID: "schedule", Label: "Schedule a visit"},
			{ID: "set_reminder", Label: "Set a reminder"},
		},
	}))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	btns := msg.GetButtonsMessage()
	if btns == nil {
		t.Fatal("expected a buttons message")
	}
	if btns.GetContentText() != "What can I do for you?" {
		t.Errorf("content text = %q", btns.GetContentText())
	}
	if len(btns.GetButtons()) != 2 {
		t.Fatalf("buttons = %d, want 2", len(btns.GetButtons()))
	}
	if got := btns.GetButtons()[0].GetButtonID(); got != "schedule" {
		t.Errorf("button id = %q, want schedule", got)
	}
	if got := btns.GetButtons()[1].GetButtonText().GetDisplayText(); got != "Set a reminder" {
		t.Errorf("button label = %q", got)
	}
}

func TestEncodeWhatsAppContent_Unsupported(t *testing.T) {
	if _, err := encodeWhatsAppContent(content.NewIntent("schedule")); err == nil {
		t.Error("intent content should not be encodable for sending")
	}
	if _, err := encodeWhatsAppContent(content.NewActions(content.Actions{ID: "empty"})); err == nil {
		t.Error("actions content without actions should be rejected")
	}
}

func TestWhatsAppConversation_IsGroup(t *testing.T) {
	group := &whatsAppConversation{jid: types.NewJID("12036304", types.GroupServer)}
	if !group.IsGroup() {
		t.Error("group jid should report IsGroup")
	}
	direct := &whatsAppConversation{jid: types.NewJID("8613800138000", types.DefaultUserServer)}
	if direct.IsGroup() {
		t.Error("user jid should not report IsGroup")
	}
}

func TestWhatsAppConversation_Send_NilClient(t *testing.T) {
	c := &whatsAppConversation{jid: types.NewJID("8613800138000", types.DefaultUserServer)}
	err := c.Send(context.Background(), content.NewText("hello"))
	if err == nil {
		t.Fatal("expected error when client is nil")
	}
	if !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("error = %v, want contains %q", err, "not initialized")
	}
}

func TestWhatsApp_HandleMessage(t *testing.T) {
	sender := types.NewJID("8613800138000", types.DefaultUserServer)
	chat := types.NewJID("8613800138000", types.DefaultUserServer)

	makeEvent := func(fromMe bool, msg *waE2E.Message) *events.Message {
		return &events.Message{
			Info: types.MessageInfo{
				MessageSource: types.MessageSource{
					Sender:   sender,
					Chat:     chat,
					IsFromMe: fromMe,
				},
				ID:        types.MessageID("msg-1"),
				Timestamp: time.Now(),
			},
			Message: msg,
		}
	}

	t.Run("text reaches bus", func(t *testing.T) {
		b := bus.NewMessageBus(1)
		w := &WhatsAppClient{bus: b}
		w.handleMessage(makeEvent(false, &waE2E.Message{Conversation: proto.String("hello")}))

		select {
		case msg := <-b.Inbound:
			if msg.Transport != whatsappTransportName || msg.Content.Text != "hello" {
				t.Errorf("inbound = %+v", msg)
			}
			if msg.SenderID != sender.ToNonAD().String() {
				t.Errorf("sender = %q", msg.SenderID)
			}
		default:
			t.Fatal("expected an inbound message")
		}
	})

	t.Run("own message dropped", func(t *testing.T) {
		b := bus.NewMessageBus(1)
		w := &WhatsAppClient{bus: b}
		w.handleMessage(makeEvent(true, &waE2E.Message{Conversation: proto.String("echo")}))

		select {
		case msg := <-b.Inbound:
			t.Fatalf("self-authored message reached the bus: %+v", msg)
		default:
		}
	})

	t.Run("undecodable message dropped", func(t *testing.T) {
		b := bus.NewMessageBus(1)
		w := &WhatsAppClient{bus: b}
		w.handleMessage(makeEvent(false, &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))

		select {
		case msg := <-b.Inbound:
			t.Fatalf("unsupported message reached the bus: %+v", msg)
		default:
		}
	})
}

func TestWhatsApp_NewDirectConversation_RejectsGroups(t *testing.T) {
	w := &WhatsAppClient{}
	if _, err := w.NewDirectConversation(context.Background(), "12036304@g.us"); err == nil {
		t.Error("group target should be rejected")
	}
	c, err := w.NewDirectConversation(context.Background(), "8613800138000")
	if err != nil {
		t.Fatalf("NewDirectConversation error: %v", err)
	}
	if c.ID() != "8613800138000@s.whatsapp.net" {
		t.Errorf("conversation id = %q", c.ID())
	}
}
