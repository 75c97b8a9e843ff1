package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/porterbot/porter/internal/bus"
	"github.com/porterbot/porter/internal/config"
)

// Manager owns the enabled transports: construction, startup, shutdown,
// and lookup by name.
type Manager struct {
	clients map[string]Client
	bus     *bus.MessageBus
}

func NewManager(cfg config.TransportsConfig, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		clients: make(map[string]Client),
		bus:     b,
	}

	if cfg.WhatsApp.Enabled {
		c, err := NewWhatsApp(cfg.WhatsApp, b)
		if err != nil {
			return nil, fmt.Errorf("init whatsapp transport: %w", err)
		}
		m.register(c)
	}

	if cfg.Telegram.Enabled {
		c, err := NewTelegram(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram transport: %w", err)
		}
		m.register(c)
	}

	return m, nil
}

func (m *Manager) register(c Client) {
	m.clients[c.Name()] = c
	m.bus.SubscribeOutbound(c.Name(), func(msg bus.OutboundMessage) {
		convo, err := c.ConversationByID(msg.ChatID)
		if err != nil {
			log.Printf("[transport-mgr] resolve %s chat %q failed: %v", c.Name(), msg.ChatID, err)
			return
		}
		if err := convo.Send(context.Background(), msg.Content); err != nil {
			log.Printf("[transport-mgr] send to %s failed: %v", c.Name(), err)
		}
	})
}

func (m *Manager) Get(name string) (Client, error) {
	c, ok := m.clients[name]
	if !ok {
		return nil, errUnknownTransport(name)
	}
	return c, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.clients))

	for name, c := range m.clients {
		wg.Add(1)
		go func(name string, c Client) {
			defer wg.Done()
			log.Printf("[transport-mgr] starting %s", name)
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, c)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *Manager) StopAll() error {
	for name, c := range m.clients {
		log.Printf("[transport-mgr] stopping %s", name)
		if err := c.Stop(); err != nil {
			log.Printf("[transport-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *Manager) EnabledTransports() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}
