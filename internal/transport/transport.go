// Package transport defines the boundary between the gateway and the
// messaging services it speaks through, plus the WhatsApp and Telegram
// implementations.
package transport

import (
	"context"
	"fmt"

	"github.com/porterbot/porter/internal/content"
)

// Conversation is a handle on a single chat the agent can send into.
type Conversation interface {
	ID() string
	IsGroup() bool
	Send(ctx context.Context, c content.Content) error
}

// Client is a connected messaging transport. Inbound messages are pushed
// onto the shared bus; everything here is the outbound/lookup surface.
type Client interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error

	// OwnID is the agent's own sender identifier on this transport,
	// used to filter self-authored messages.
	OwnID() string

	ConversationByID(id string) (Conversation, error)

	// ListConversations returns a fresh listing of every conversation
	// known to the transport at call time.
	ListConversations(ctx context.Context) ([]Conversation, error)

	// NewDirectConversation opens (or resolves) a direct conversation
	// with the target identity.
	NewDirectConversation(ctx context.Context, target string) (Conversation, error)
}

// Resolver looks up a running transport by name.
type Resolver interface {
	Get(name string) (Client, error)
}

// ErrUnknownTransport wraps lookups for transports that are not running.
func errUnknownTransport(name string) error {
	return fmt.Errorf("unknown transport %q", name)
}
