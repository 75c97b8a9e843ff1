// Package gateway wires the transports, the command router, and the
// responder together and runs the sequential ingestion loop.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/porterbot/porter/internal/broadcast"
	"github.com/porterbot/porter/internal/bus"
	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/content"
	"github.com/porterbot/porter/internal/gating"
	"github.com/porterbot/porter/internal/memory"
	"github.com/porterbot/porter/internal/reminder"
	"github.com/porterbot/porter/internal/responder"
	"github.com/porterbot/porter/internal/router"
	"github.com/porterbot/porter/internal/transport"
)

// ResponderFactory creates a Responder instance (allows mocking in tests)
type ResponderFactory func(cfg *config.Config) (responder.Responder, error)

// Options for creating a Gateway
type Options struct {
	ResponderFactory ResponderFactory
	SignalChan       chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	transports *transport.Manager
	resolver   transport.Resolver
	gate       *gating.Policy
	memory     *memory.Store
	workflow   *broadcast.Workflow
	router     *router.Router
	responder  responder.Responder
	reminders  *reminder.Service
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	mgr, err := transport.NewManager(cfg.Transports, g.bus)
	if err != nil {
		return nil, fmt.Errorf("create transport manager: %w", err)
	}
	g.transports = mgr
	g.resolver = mgr

	g.gate = gating.NewPolicy(cfg.Router.Handles)
	g.memory = memory.NewStore(cfg.Memory.MaxEntries, time.Duration(cfg.Memory.TTLMinutes)*time.Minute)
	g.workflow = broadcast.NewWorkflow(g.resolver, cfg.Broadcast)

	factory := opts.ResponderFactory
	if factory == nil {
		factory = func(cfg *config.Config) (responder.Responder, error) {
			return responder.New(cfg)
		}
	}
	resp, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create responder: %w", err)
	}
	g.responder = resp

	var sched router.ReminderScheduler
	if cfg.Reminders.Enabled {
		storePath := strings.TrimSpace(cfg.Reminders.StorePath)
		if storePath == "" {
			storePath = filepath.Join(config.ConfigDir(), "data", "reminders.json")
		}
		svc := reminder.NewService(storePath)
		svc.OnFire = func(r reminder.Reminder) error {
			g.bus.Outbound <- bus.OutboundMessage{
				Transport: r.Transport,
				ChatID:    r.ChatID,
				Content:   content.NewText("⏰ " + r.Message),
			}
			return nil
		}
		g.reminders = svc
		sched = svc
	}

	g.router = router.New(
		cfg.Router,
		cfg.Broadcast,
		g.memory,
		g.workflow,
		router.NewActionRouter(cfg.Router.RemindPrefix),
		g.responder,
		g.resolver,
		sched,
		time.Duration(cfg.Agent.ResponderTimeout)*time.Second,
	)

	g.signalChan = opts.SignalChan

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.transports.StartAll(ctx); err != nil {
		return fmt.Errorf("start transports: %w", err)
	}
	log.Printf("[gateway] transports started: %v", g.transports.EnabledTransports())

	if g.reminders != nil {
		if err := g.reminders.Start(ctx); err != nil {
			log.Printf("[gateway] reminder start warning: %v", err)
		}
	}

	sweep := time.Duration(g.cfg.Memory.SweepMinutes) * time.Minute
	g.memory.StartSweeper(ctx, sweep)

	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop drains inbound messages one at a time, so replies keep the
// arrival order and memory reads see the previous turn's writes.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	client, err := g.resolver.Get(msg.Transport)
	if err != nil {
		log.Printf("[gateway] drop message from unknown transport %q: %v", msg.Transport, err)
		return
	}

	// Never answer our own messages.
	if own := client.OwnID(); own != "" && strings.EqualFold(msg.SenderID, own) {
		return
	}

	switch msg.Content.Type {
	case content.TypeIntent:
		log.Printf("[gateway] intent from %s/%s: %s", msg.Transport, msg.SenderID, msg.Content.Intent.ActionID)
		convo, err := client.ConversationByID(msg.ChatID)
		if err != nil {
			log.Printf("[gateway] resolve chat %q failed: %v", msg.ChatID, err)
			return
		}
		g.router.HandleIntent(ctx, msg, convo)

	case content.TypeText:
		log.Printf("[gateway] inbound from %s/%s: %s", msg.Transport, msg.SenderID, truncate(msg.Content.Text, 80))

		ok, cleaned := g.gate.Evaluate(msg.Content.Text, msg.IsGroup)
		if !ok {
			return
		}
		convo, err := client.ConversationByID(msg.ChatID)
		if err != nil {
			log.Printf("[gateway] resolve chat %q failed: %v", msg.ChatID, err)
			return
		}
		g.router.Handle(ctx, msg, convo, cleaned)

	default:
		log.Printf("[gateway] drop unsupported content type %q from %s", msg.Content.Type, msg.SenderID)
	}
}

func (g *Gateway) Shutdown() error {
	if g.reminders != nil {
		g.reminders.Stop()
	}
	_ = g.transports.StopAll()
	if g.responder != nil {
		g.responder.Close()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
