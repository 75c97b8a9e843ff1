// Package router turns cleaned inbound text into at most one outbound
// action: a broadcast workflow step, a DM bootstrap, an admin direct send,
// a reminder, a welcome menu, or a responder reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/porterbot/porter/internal/broadcast"
	"github.com/porterbot/porter/internal/bus"
	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/content"
	"github.com/porterbot/porter/internal/memory"
	"github.com/porterbot/porter/internal/responder"
	"github.com/porterbot/porter/internal/transport"
)

const fallbackReply = "Sorry, I encountered an error processing your message."

// ReminderScheduler is the slice of the reminder service the router needs.
type ReminderScheduler interface {
	Schedule(transportName, chatID, message string, at time.Time) error
}

type Router struct {
	routerCfg    config.RouterConfig
	broadcastCfg config.BroadcastConfig
	memory       *memory.Store
	workflow     *broadcast.Workflow
	actions      *ActionRouter
	responder    responder.Responder
	transports   transport.Resolver
	reminders    ReminderScheduler // nil when reminders are disabled
	respTimeout  time.Duration
}

func New(
	routerCfg config.RouterConfig,
	broadcastCfg config.BroadcastConfig,
	mem *memory.Store,
	workflow *broadcast.Workflow,
	actions *ActionRouter,
	resp responder.Responder,
	transports transport.Resolver,
	reminders ReminderScheduler,
	respTimeout time.Duration,
) *Router {
	return &Router{
		routerCfg:    routerCfg,
		broadcastCfg: broadcastCfg,
		memory:       mem,
		workflow:     workflow,
		actions:      actions,
		responder:    resp,
		transports:   transports,
		reminders:    reminders,
		respTimeout:  respTimeout,
	}
}

// HandleIntent answers a structured menu selection with its canned reply.
// This path never touches gating, memory, or the broadcast workflow.
func (r *Router) HandleIntent(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation) {
	if msg.Content.Intent == nil {
		return
	}
	reply := r.actions.Reply(msg.Content.Intent.ActionID)
	if err := convo.Send(ctx, content.NewText(reply)); err != nil {
		log.Printf("[router] send intent reply failed: %v", err)
	}
}

// Handle routes cleaned message text through the command grammar. Nothing
// it does may propagate an error to the ingestion loop: failures collapse
// into one generic fallback reply, and a failure sending even that is
// logged and swallowed.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation, cleaned string) {
	if err := r.dispatch(ctx, msg, convo, cleaned); err != nil {
		log.Printf("[router] handling message from %s failed: %v", msg.SenderID, err)
		if sendErr := convo.Send(ctx, content.NewText(fallbackReply)); sendErr != nil {
			log.Printf("[router] send fallback reply failed: %v", sendErr)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation, cleaned string) error {
	trimmed := strings.TrimSpace(cleaned)
	lower := strings.ToLower(trimmed)

	// Broadcast workflow. Unauthorized senders fall through to the
	// responder so the command's existence stays hidden.
	if r.workflow.Authorized(msg.SenderID) {
		if rest, ok := matchPrefix(lower, trimmed, r.broadcastCfg.Prefix); ok {
			return r.handleBroadcastPreview(ctx, msg, convo, rest)
		}
		if matchesAny(lower, r.broadcastCfg.ConfirmPhrases) {
			return r.handleBroadcastConfirm(ctx, msg, convo)
		}
		if matchesAny(lower, r.broadcastCfg.CancelPhrases) {
			return r.handleBroadcastCancel(ctx, msg, convo)
		}
	}

	if containsAny(lower, r.routerCfg.DMBootstrapPhrases) {
		return r.handleDMBootstrap(ctx, msg, convo)
	}

	if rest, ok := matchPrefix(lower, trimmed, r.routerCfg.AdminSendPrefix); ok && r.isAdmin(msg.SenderID) {
		return r.handleAdminSend(ctx, msg, convo, rest)
	}

	if r.reminders != nil {
		if rest, ok := matchPrefix(lower, trimmed, r.routerCfg.RemindPrefix); ok {
			return r.handleRemind(ctx, msg, convo, rest)
		}
	}

	if matchesAny(lower, r.routerCfg.Greetings) {
		return r.handleGreeting(ctx, msg, convo, trimmed)
	}

	return r.handleResponder(ctx, msg, convo, trimmed)
}

func (r *Router) handleBroadcastPreview(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation, body string) error {
	preview, err := r.workflow.Preview(msg.SenderID, msg.Transport, body)
	if errors.Is(err, broadcast.ErrEmptyMessage) {
		return r.sendText(ctx, convo, fmt.Sprintf("Broadcast message is empty. Usage: %s<message>", r.broadcastCfg.Prefix))
	}
	if err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Broadcast preview failed: %v", err))
	}
	return r.sendText(ctx, convo, preview)
}

func (r *Router) handleBroadcastConfirm(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation) error {
	res, err := r.workflow.Confirm(ctx, msg.SenderID, convo.ID())
	if errors.Is(err, broadcast.ErrNothingPending) {
		return r.sendText(ctx, convo, "Nothing pending to confirm.")
	}
	if err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Broadcast failed: %v", err))
	}
	return r.sendText(ctx, convo, fmt.Sprintf("Broadcast sent — %s.", res))
}

func (r *Router) handleBroadcastCancel(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation) error {
	if err := r.workflow.Cancel(msg.SenderID); errors.Is(err, broadcast.ErrNothingPending) {
		return r.sendText(ctx, convo, "Nothing pending to cancel.")
	}
	return r.sendText(ctx, convo, "Broadcast cancelled.")
}

func (r *Router) handleDMBootstrap(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation) error {
	client, err := r.transports.Get(msg.Transport)
	if err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Couldn't open a direct chat: %v", err))
	}

	dm, err := client.NewDirectConversation(ctx, msg.SenderID)
	if err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Couldn't open a direct chat: %v", err))
	}
	if err := dm.Send(ctx, content.NewText("Hey! This is our direct line — message me here any time.")); err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Couldn't open a direct chat: %v", err))
	}
	return r.sendText(ctx, convo, "Just sent you a direct message.")
}

// handleAdminSend delivers "<prefix><target>:<payload>" verbatim to the
// target's direct conversation.
func (r *Router) handleAdminSend(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation, rest string) error {
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return r.sendText(ctx, convo, fmt.Sprintf("Usage: %s<target>:<message>", r.routerCfg.AdminSendPrefix))
	}
	target := strings.TrimSpace(parts[0])
	payload := strings.TrimSpace(parts[1])

	client, err := r.transports.Get(msg.Transport)
	if err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Couldn't reach %s: %v", target, err))
	}
	dm, err := client.NewDirectConversation(ctx, target)
	if err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Couldn't reach %s: %v", target, err))
	}
	if err := dm.Send(ctx, content.NewText(payload)); err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Couldn't reach %s: %v", target, err))
	}
	return r.sendText(ctx, convo, fmt.Sprintf("Delivered to %s.", target))
}

func (r *Router) handleRemind(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation, rest string) error {
	usage := fmt.Sprintf("Usage: %s<duration> <text>, e.g. %s30m check the oven", r.routerCfg.RemindPrefix, r.routerCfg.RemindPrefix)

	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return r.sendText(ctx, convo, usage)
	}
	dur, err := time.ParseDuration(fields[0])
	if err != nil || dur <= 0 {
		return r.sendText(ctx, convo, usage)
	}
	text := strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))

	at := time.Now().Add(dur)
	if err := r.reminders.Schedule(msg.Transport, convo.ID(), text, at); err != nil {
		return r.sendText(ctx, convo, fmt.Sprintf("Couldn't set the reminder: %v", err))
	}
	return r.sendText(ctx, convo, fmt.Sprintf("Reminder set for %s.", at.Format("15:04 on Jan 2")))
}

func (r *Router) handleGreeting(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation, cleaned string) error {
	menu := WelcomeMenu()
	menuContent := content.NewActions(menu)

	if err := convo.Send(ctx, menuContent); err != nil {
		log.Printf("[router] structured menu send failed, falling back to text: %v", err)
		text := welcomeMenuText()
		if err := convo.Send(ctx, content.NewText(text)); err != nil {
			return fmt.Errorf("send menu fallback: %w", err)
		}
		r.memory.Record(msg.SenderID, cleaned, text)
		return nil
	}

	r.memory.Record(msg.SenderID, cleaned, menuContent.Summary())
	return nil
}

func (r *Router) handleResponder(ctx context.Context, msg bus.InboundMessage, convo transport.Conversation, cleaned string) error {
	contexted := r.memory.ContextFor(msg.SenderID) + cleaned

	displayAddress := ""
	if r.routerCfg.ShowSenderAddress {
		displayAddress = msg.SenderID
	}

	genCtx := ctx
	if r.respTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, r.respTimeout)
		defer cancel()
	}

	reply, err := r.responder.Generate(genCtx, responder.Request{
		Text:           contexted,
		SenderID:       msg.SenderID,
		ChatID:         msg.ChatID,
		SessionID:      msg.SessionKey(),
		IsGroup:        msg.IsGroup,
		DisplayAddress: displayAddress,
	})
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil
	}

	decoded := content.DecodeModelReply(reply)
	if err := convo.Send(ctx, decoded); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	r.memory.Record(msg.SenderID, cleaned, decoded.Summary())
	return nil
}

func (r *Router) sendText(ctx context.Context, convo transport.Conversation, text string) error {
	if err := convo.Send(ctx, content.NewText(text)); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (r *Router) isAdmin(sender string) bool {
	for _, admin := range r.routerCfg.Admins {
		if strings.EqualFold(strings.TrimSpace(admin), strings.TrimSpace(sender)) {
			return true
		}
	}
	return false
}

// matchPrefix matches a command prefix case-insensitively and returns the
// remainder. A message that is nothing but the (trimmed) prefix matches
// with an empty remainder, so "broadcast" alone still reaches the usage
// reply instead of the responder.
func matchPrefix(lower, trimmed, prefix string) (string, bool) {
	p := strings.ToLower(prefix)
	bare := strings.TrimSpace(p)
	if bare == "" {
		return "", false
	}
	if lower == bare {
		return "", true
	}
	if strings.HasPrefix(lower, p) {
		return strings.TrimSpace(trimmed[len(p):]), true
	}
	return "", false
}

func matchesAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if lower == strings.ToLower(strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
