package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/porterbot/porter/internal/bus"
	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/content"
)

type stubConversation struct {
	id string

	mu   sync.Mutex
	sent []content.Content
}

func (c *stubConversation) ID() string    { return c.id }
func (c *stubConversation) IsGroup() bool { return false }
func (c *stubConversation) Send(ctx context.Context, body content.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, body)
	return nil
}

func (c *stubConversation) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *stubConversation) first() content.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[0]
}

type stubClient struct {
	name  string
	convo *stubConversation
}

func (s *stubClient) Name() string                    { return s.name }
func (s *stubClient) Start(ctx context.Context) error { return nil }
func (s *stubClient) Stop() error                     { return nil }
func (s *stubClient) OwnID() string                   { return "self" }

func (s *stubClient) ConversationByID(id string) (Conversation, error) {
	if id != s.convo.id {
		return nil, fmt.Errorf("conversation %q not found", id)
	}
	return s.convo, nil
}

func (s *stubClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	return []Conversation{s.convo}, nil
}

func (s *stubClient) NewDirectConversation(ctx context.Context, target string) (Conversation, error) {
	return s.convo, nil
}

func TestNewManager_NoneEnabled(t *testing.T) {
	b := bus.NewMessageBus(1)
	m, err := NewManager(config.TransportsConfig{}, b)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if got := m.EnabledTransports(); len(got) != 0 {
		t.Errorf("enabled transports = %v, want none", got)
	}
	if _, err := m.Get(telegramTransportName); err == nil {
		t.Error("Get should fail for a transport that was not enabled")
	}
}

func TestNewManager_TelegramMissingToken(t *testing.T) {
	b := bus.NewMessageBus(1)
	_, err := NewManager(config.TransportsConfig{
		Telegram: config.TelegramConfig{Enabled: true},
	}, b)
	if err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

func TestManager_OutboundDispatch(t *testing.T) {
	b := bus.NewMessageBus(4)
	m := &Manager{clients: make(map[string]Client), bus: b}

	convo := &stubConversation{id: "chat-1"}
	m.register(&stubClient{name: "stub", convo: convo})

	got, err := m.Get("stub")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Name() != "stub" {
		t.Errorf("Name = %q", got.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- bus.OutboundMessage{
		Transport: "stub",
		ChatID:    "chat-1",
		Content:   content.NewText("reminder: check the oven"),
	}

	deadline := time.After(2 * time.Second)
	for convo.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("outbound message never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := convo.first(); got.Text != "reminder: check the oven" {
		t.Errorf("delivered = %+v", got)
	}

	// Unknown chat ids are logged and dropped, not fatal.
	b.Outbound <- bus.OutboundMessage{Transport: "stub", ChatID: "missing", Content: content.NewText("x")}
	time.Sleep(50 * time.Millisecond)
	if got := convo.sentCount(); got != 1 {
		t.Errorf("sends = %d, want 1", got)
	}
}
