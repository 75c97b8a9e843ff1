// Package gating decides whether an inbound message warrants any reply.
package gating

import "strings"

// Policy gates group messages on an addressing handle. Direct messages
// always pass. Pure function of its inputs.
type Policy struct {
	handles []string
}

func NewPolicy(handles []string) *Policy {
	return &Policy{handles: handles}
}

// Evaluate reports whether the message should be answered and returns the
// text with any addressing handle stripped. Group messages that do not
// address the agent are skipped before any further work.
func (p *Policy) Evaluate(text string, isGroup bool) (bool, string) {
	if !isGroup {
		return true, text
	}

	lower := strings.ToLower(text)
	for _, handle := range p.handles {
		h := strings.ToLower(strings.TrimSpace(handle))
		if h == "" {
			continue
		}
		idx := strings.Index(lower, h)
		if idx < 0 {
			continue
		}
		stripped := text[:idx] + " " + text[idx+len(h):]
		return true, strings.Join(strings.Fields(stripped), " ")
	}

	return false, ""
}
