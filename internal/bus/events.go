package bus

import (
	"time"

	"github.com/porterbot/porter/internal/content"
)

// InboundMessage is a decoded message received on a transport.
type InboundMessage struct {
	Transport string
	ID        string
	SenderID  string
	ChatID    string
	IsGroup   bool
	Content   content.Content
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Transport + ":" + m.ChatID
}

// OutboundMessage is a message queued for delivery on a transport.
// Used by collaborators that run off the ingestion path, such as the
// reminder service; the command router replies on conversations directly.
type OutboundMessage struct {
	Transport string
	ChatID    string
	Content   content.Content
}
