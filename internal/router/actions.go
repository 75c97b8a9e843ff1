package router

import (
	"fmt"
	"strings"

	"github.com/porterbot/porter/internal/content"
)

const (
	actionSchedule    = "schedule"
	actionSetReminder = "set_reminder"
	actionSupport     = "concierge_support"
)

// ActionRouter maps inbound menu selections to canned replies. Pure
// lookup, no state; unknown ids get the fallback.
type ActionRouter struct {
	replies  map[string]string
	fallback string
}

func NewActionRouter(remindPrefix string) *ActionRouter {
	remindCmd := strings.TrimSpace(remindPrefix)
	return &ActionRouter{
		replies: map[string]string{
			actionSchedule:    "Sure — tell me the day and time that works for you and I'll pencil it in.",
			actionSetReminder: fmt.Sprintf("To set a reminder, send: %s <duration> <text> — for example: %s 45m call the front desk.", remindCmd, remindCmd),
			actionSupport:     "You're through to concierge support. Describe what you need and a human will follow up shortly.",
		},
		fallback: `Sorry, I don't recognize that option. Send "menu" to see what I can do.`,
	}
}

// Reply returns the canned reply for an action id, or the fallback for an
// unrecognized one.
func (a *ActionRouter) Reply(actionID string) string {
	if reply, ok := a.replies[actionID]; ok {
		return reply
	}
	return a.fallback
}

// WelcomeMenu builds the interactive menu sent for greeting messages.
func WelcomeMenu() content.Actions {
	return content.Actions{
		ID:          "welcome",
		Description: "Hi! I'm Porter, your concierge. What can I do for you?",
		Actions: []content.Action{
			{ID: actionSchedule, Label: "Schedule a visit", Style: "primary"},
			{ID: actionSetReminder, Label: "Set a reminder", Style: "secondary"},
			{ID: actionSupport, Label: "Talk to support", Style: "secondary"},
		},
	}
}

// welcomeMenuText is the plain-text fallback when the structured menu
// cannot be delivered.
func welcomeMenuText() string {
	menu := WelcomeMenu()
	var sb strings.Builder
	sb.WriteString(menu.Description)
	sb.WriteString("\n")
	for _, a := range menu.Actions {
		fmt.Fprintf(&sb, "\n• %s — reply %q", a.Label, a.ID)
	}
	return sb.String()
}
