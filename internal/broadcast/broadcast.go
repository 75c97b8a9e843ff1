// Package broadcast implements the two-phase broadcast workflow: a
// preview is held per initiating sender until that sender confirms or
// cancels, and a confirmed broadcast fans out to every known conversation
// except the one it was confirmed from.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/content"
	"github.com/porterbot/porter/internal/transport"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNothingPending = errors.New("nothing pending")
	ErrEmptyMessage   = errors.New("broadcast message is empty")
)

// Pending is an uncommitted broadcast awaiting confirmation. At most one
// exists per sender; a new preview replaces it.
type Pending struct {
	Transport string
	Body      string
	CreatedAt time.Time
	Status    Status
}

// Result summarizes one fan-out attempt. Failures are counted, not retried.
type Result struct {
	Delivered int
	Failed    int
	Total     int
}

func (r Result) String() string {
	return fmt.Sprintf("delivered: %d, failed: %d, total: %d", r.Delivered, r.Failed, r.Total)
}

type Workflow struct {
	transports transport.Resolver
	delay      time.Duration
	allowFrom  []string
	confirmCue string
	cancelCue  string

	mu      sync.Mutex
	pending map[string]*Pending
}

func NewWorkflow(transports transport.Resolver, cfg config.BroadcastConfig) *Workflow {
	confirmCue := "yes"
	if len(cfg.ConfirmPhrases) > 0 {
		confirmCue = cfg.ConfirmPhrases[0]
	}
	cancelCue := "no"
	if len(cfg.CancelPhrases) > 0 {
		cancelCue = cfg.CancelPhrases[0]
	}
	return &Workflow{
		transports: transports,
		delay:      time.Duration(cfg.SendDelayMs) * time.Millisecond,
		allowFrom:  cfg.AllowFrom,
		confirmCue: confirmCue,
		cancelCue:  cancelCue,
		pending:    make(map[string]*Pending),
	}
}

// Authorized reports whether the sender may use the workflow at all. An
// empty allow-list permits everyone. Matching is case-insensitive.
func (w *Workflow) Authorized(sender string) bool {
	if len(w.allowFrom) == 0 {
		return true
	}
	for _, allowed := range w.allowFrom {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(sender)) {
			return true
		}
	}
	return false
}

// Preview stores a pending broadcast for the sender, replacing any
// existing one, and returns the preview text. Nothing is sent.
func (w *Workflow) Preview(sender, transportName, text string) (string, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return "", ErrEmptyMessage
	}

	w.mu.Lock()
	w.pending[sender] = &Pending{
		Transport: transportName,
		Body:      body,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}
	w.mu.Unlock()

	return fmt.Sprintf(
		"Broadcast preview:\n\n%s\n\nReply %q to send it to all conversations, or %q to cancel.",
		body, w.confirmCue, w.cancelCue,
	), nil
}

// Confirm consumes the sender's pending broadcast and fans it out to every
// conversation on the pending entry's transport except originChatID. Each
// send is independently fallible; partial delivery is an accepted outcome.
// The pending entry is gone after Confirm returns, whatever the result.
func (w *Workflow) Confirm(ctx context.Context, sender, originChatID string) (Result, error) {
	w.mu.Lock()
	p, ok := w.pending[sender]
	if !ok {
		w.mu.Unlock()
		return Result{}, ErrNothingPending
	}
	delete(w.pending, sender)
	p.Status = StatusConfirmed
	w.mu.Unlock()

	client, err := w.transports.Get(p.Transport)
	if err != nil {
		return Result{}, fmt.Errorf("resolve broadcast transport: %w", err)
	}

	// Fresh listing, never cached.
	convos, err := client.ListConversations(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list conversations: %w", err)
	}

	targets := make([]transport.Conversation, 0, len(convos))
	for _, c := range convos {
		if c.ID() == originChatID {
			continue
		}
		targets = append(targets, c)
	}

	body := content.NewText("📢 " + p.Body)
	result := Result{Total: len(targets)}
	for i, c := range targets {
		if i > 0 && w.delay > 0 {
			select {
			case <-time.After(w.delay):
			case <-ctx.Done():
				result.Failed += len(targets) - i
				return result, nil
			}
		}
		if err := c.Send(ctx, body); err != nil {
			log.Printf("[broadcast] send to %s failed: %v", c.ID(), err)
			result.Failed++
			continue
		}
		result.Delivered++
	}

	log.Printf("[broadcast] fan-out complete: %s", result)
	return result, nil
}

// Cancel discards the sender's pending broadcast.
func (w *Workflow) Cancel(sender string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[sender]
	if !ok {
		return ErrNothingPending
	}
	p.Status = StatusCancelled
	delete(w.pending, sender)
	return nil
}

// HasPending reports whether the sender currently holds a pending
// broadcast.
func (w *Workflow) HasPending(sender string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[sender]
	return ok
}
