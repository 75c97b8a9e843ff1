package content

import (
	"strings"
	"testing"
)

func TestDecodeModelReply(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantType Type
	}{
		{
			name:     "plain text",
			reply:    "hello there",
			wantType: TypeText,
		},
		{
			name:     "actions menu",
			reply:    `{"type":"actions","id":"menu-1","description":"Pick one","actions":[{"id":"schedule","label":"Schedule"}]}`,
			wantType: TypeActions,
		},
		{
			name:     "actions menu with surrounding whitespace",
			reply:    "  \n" + `{"type":"actions","id":"m","description":"d","actions":[{"id":"a","label":"A"}]}` + "\n",
			wantType: TypeActions,
		},
		{
			name:     "malformed json falls back to text",
			reply:    `{"type":"actions","actions":[`,
			wantType: TypeText,
		},
		{
			name:     "json without actions tag is text",
			reply:    `{"foo":"bar"}`,
			wantType: TypeText,
		},
		{
			name:     "actions tag with empty action list is text",
			reply:    `{"type":"actions","actions":[]}`,
			wantType: TypeText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeModelReply(tt.reply)
			if got.Type != tt.wantType {
				t.Fatalf("DecodeModelReply(%q).Type = %q, want %q", tt.reply, got.Type, tt.wantType)
			}
			if tt.wantType == TypeText && got.Text != tt.reply {
				t.Errorf("text content = %q, want original reply", got.Text)
			}
			if tt.wantType == TypeActions && got.Actions == nil {
				t.Error("expected non-nil Actions")
			}
		})
	}
}

func TestContentSummary(t *testing.T) {
	menu := NewActions(Actions{
		Description: "What can I do for you?",
		Actions: []Action{
			{ID: "schedule", Label: "Schedule a visit"},
			{ID: "set_reminder", Label: "Set a reminder"},
		},
	})

	got := menu.Summary()
	if !strings.Contains(got, "What can I do for you?") {
		t.Errorf("summary missing description: %q", got)
	}
	if !strings.Contains(got, "Schedule a visit") || !strings.Contains(got, "Set a reminder") {
		t.Errorf("summary missing labels: %q", got)
	}

	if s := NewText("hi").Summary(); s != "hi" {
		t.Errorf("text summary = %q, want %q", s, "hi")
	}
	if s := NewIntent("schedule").Summary(); s != "schedule" {
		t.Errorf("intent summary = %q, want %q", s, "schedule")
	}
}
