// Package memory keeps a small rolling exchange log per sender so the
// responder can see the last few turns. Entries decay: a periodic sweep
// drops anything older than the TTL and deletes emptied senders.
package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

type Entry struct {
	UserMessage string
	BotResponse string
	Timestamp   time.Time
}

type Store struct {
	mu         sync.Mutex
	entries    map[string][]Entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

func NewStore(maxEntries int, ttl time.Duration) *Store {
	return &Store{
		entries:    make(map[string][]Entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Record appends one exchange for the sender, truncating to the newest
// maxEntries. Entries are never mutated after creation.
func (s *Store) Record(sender, userMessage, botResponse string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.entries[sender], Entry{
		UserMessage: userMessage,
		BotResponse: botResponse,
		Timestamp:   s.now(),
	})
	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	s.entries[sender] = entries
}

// ContextFor renders the sender's history as a transcript prefix followed
// by a marker for the current turn. Empty string when there is no history.
func (s *Store) ContextFor(sender string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[sender]
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "User: %s\nBot: %s\n", e.UserMessage, e.BotResponse)
	}
	sb.WriteString("Current message:\n")
	return sb.String()
}

// Sweep removes entries older than the TTL as of now and deletes senders
// whose history becomes empty.
func (s *Store) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.ttl)
	for sender, entries := range s.entries {
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.entries, sender)
			continue
		}
		s.entries[sender] = kept
	}
}

// StartSweeper runs Sweep on the given interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(s.now())
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("[memory] sweeper started (interval %s, ttl %s)", interval, s.ttl)
}

// Len reports the number of stored entries for a sender.
func (s *Store) Len(sender string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[sender])
}

// Senders reports how many senders currently have history.
func (s *Store) Senders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SetNowFunc overrides the clock (for testing).
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
