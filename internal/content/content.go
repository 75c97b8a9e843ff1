// Package content defines the tagged content union exchanged with
// transports: plain text, an outbound interactive actions menu, and an
// inbound intent (a selection from a previously sent menu). Transports
// decode raw payloads into Content once at the boundary so everything
// downstream branches on Type instead of probing strings.
package content

import (
	"encoding/json"
	"strings"
)

type Type string

const (
	TypeText    Type = "text"
	TypeActions Type = "actions"
	TypeIntent  Type = "intent"
)

// Content is a tagged union. Exactly one of Text, Actions, Intent is
// meaningful, selected by Type.
type Content struct {
	Type    Type
	Text    string
	Actions *Actions
	Intent  *Intent
}

// Actions is an outbound interactive menu.
type Actions struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Actions     []Action `json:"actions"`
}

type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"`
}

// Intent is an inbound menu selection. Routing is by ActionID value alone;
// there is no validation that the id belongs to a specific prior menu.
type Intent struct {
	ActionID string `json:"actionId"`
}

func NewText(text string) Content {
	return Content{Type: TypeText, Text: text}
}

func NewActions(a Actions) Content {
	return Content{Type: TypeActions, Actions: &a}
}

func NewIntent(actionID string) Content {
	return Content{Type: TypeIntent, Intent: &Intent{ActionID: actionID}}
}

// modelReply is the envelope a responder uses to return a structured menu
// instead of plain text.
type modelReply struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Actions     []Action `json:"actions"`
}

// DecodeModelReply turns a responder reply into Content. A JSON object
// tagged "type":"actions" decodes to an actions menu; anything else,
// including malformed JSON, is plain text.
func DecodeModelReply(s string) Content {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return NewText(s)
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		return NewText(s)
	}
	if reply.Type != string(TypeActions) || len(reply.Actions) == 0 {
		return NewText(s)
	}

	return NewActions(Actions{
		ID:          reply.ID,
		Description: reply.Description,
		Actions:     reply.Actions,
	})
}

// Summary renders a short textual form of the content, used when recording
// an exchange in conversation memory.
func (c Content) Summary() string {
	switch c.Type {
	case TypeText:
		return c.Text
	case TypeActions:
		if c.Actions == nil {
			return ""
		}
		var sb strings.Builder
		sb.WriteString(c.Actions.Description)
		for _, a := range c.Actions.Actions {
			sb.WriteString("\n- ")
			sb.WriteString(a.Label)
		}
		return sb.String()
	case TypeIntent:
		if c.Intent == nil {
			return ""
		}
		return c.Intent.ActionID
	}
	return ""
}
