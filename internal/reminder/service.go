// Package reminder schedules one-shot and recurring reminders and fires
// them back into conversations through a callback. State is persisted as
// JSON so reminders survive restarts.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Reminder is one scheduled delivery of a message to a conversation.
type Reminder struct {
	ID        string   `json:"id"`
	Transport string   `json:"transport"`
	ChatID    string   `json:"chatId"`
	Message   string   `json:"message"`
	Schedule  Schedule `json:"schedule"`
	Enabled   bool     `json:"enabled"`
	State     RunState `json:"state"`
}

// Schedule is either a one-shot instant ("at") or a cron expression
// ("cron") for recurring reminders.
type Schedule struct {
	Kind string `json:"kind"` // "at" or "cron"
	Expr string `json:"expr,omitempty"`
	AtMs int64  `json:"atMs,omitempty"`
}

type RunState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type Service struct {
	storePath string
	mu        sync.Mutex
	reminders []Reminder
	OnFire    func(r Reminder) error
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID // reminder ID -> cron entry ID
	cancel    context.CancelFunc
	stopCh    chan struct{}
	seq       int64
}

func NewService(storePath string) *Service {
	return &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
	}
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.stopCh = stopCh
	s.mu.Unlock()

	if err := s.load(); err != nil {
		log.Printf("[reminder] warning: failed to load reminders: %v", err)
	}

	s.cron = rcron.New()

	s.mu.Lock()
	for i := range s.reminders {
		if s.reminders[i].Enabled && s.reminders[i].Schedule.Kind == "cron" {
			s.registerCron(&s.reminders[i])
		}
	}
	count := len(s.reminders)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[reminder] started with %d reminders", count)

	// One-shot "at" reminders fire from the tick loop.
	go s.tickLoop(runCtx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[reminder] stop timeout waiting for running reminders")
		}
	}
	log.Printf("[reminder] stopped")
}

// Schedule adds a one-shot reminder delivered to the given conversation
// at the given time.
func (s *Service) Schedule(transportName, chatID, message string, at time.Time) error {
	if message == "" {
		return fmt.Errorf("reminder message is empty")
	}
	if !at.After(time.Now()) {
		return fmt.Errorf("reminder time %s is in the past", at)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.reminders = append(s.reminders, Reminder{
		ID:        fmt.Sprintf("rem-%d-%d", time.Now().UnixMilli(), s.seq),
		Transport: transportName,
		ChatID:    chatID,
		Message:   message,
		Schedule:  Schedule{Kind: "at", AtMs: at.UnixMilli()},
		Enabled:   true,
	})

	if err := s.save(); err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}
	return nil
}

// ScheduleCron adds a recurring reminder from a cron expression.
func (s *Service) ScheduleCron(transportName, chatID, message, expr string) error {
	if message == "" {
		return fmt.Errorf("reminder message is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.reminders = append(s.reminders, Reminder{
		ID:        fmt.Sprintf("rem-%d-%d", time.Now().UnixMilli(), s.seq),
		Transport: transportName,
		ChatID:    chatID,
		Message:   message,
		Schedule:  Schedule{Kind: "cron", Expr: expr},
		Enabled:   true,
	})

	if s.cron != nil {
		s.registerCron(&s.reminders[len(s.reminders)-1])
	}

	if err := s.save(); err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}
	return nil
}

func (s *Service) List() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, len(s.reminders))
	copy(out, s.reminders)
	return out
}

func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.reminders {
		if r.ID == id {
			if entryID, ok := s.entryMap[id]; ok && s.cron != nil {
				s.cron.Remove(entryID)
				delete(s.entryMap, id)
			}
			s.reminders = append(s.reminders[:i], s.reminders[i+1:]...)
			_ = s.save()
			return true
		}
	}
	return false
}

func (s *Service) registerCron(r *Reminder) {
	rCopy := *r
	id, err := s.cron.AddFunc(r.Schedule.Expr, func() {
		s.fire(rCopy, false)
	})
	if err != nil {
		log.Printf("[reminder] failed to register %s (%s): %v", r.ID, r.Schedule.Expr, err)
		return
	}
	s.entryMap[r.ID] = id
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixMilli()
			var due []Reminder
			s.mu.Lock()
			for i := range s.reminders {
				r := &s.reminders[i]
				if r.Enabled && r.Schedule.Kind == "at" && r.Schedule.AtMs > 0 && now >= r.Schedule.AtMs {
					r.Enabled = false
					due = append(due, *r)
				}
			}
			s.mu.Unlock()

			for _, r := range due {
				s.fire(r, true)
			}
		case <-ctx.Done():
			return
		}
	}
}

// fire delivers one reminder through OnFire and records the outcome.
// One-shot reminders are removed after delivery is attempted.
func (s *Service) fire(r Reminder, oneShot bool) {
	log.Printf("[reminder] firing %s for chat %s", r.ID, r.ChatID)

	var err error
	if s.OnFire == nil {
		err = fmt.Errorf("no OnFire handler set")
	} else {
		err = s.OnFire(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reminders {
		if s.reminders[i].ID != r.ID {
			continue
		}
		s.reminders[i].State.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			s.reminders[i].State.LastStatus = "error"
			s.reminders[i].State.LastError = err.Error()
			log.Printf("[reminder] %s error: %v", r.ID, err)
		} else {
			s.reminders[i].State.LastStatus = "ok"
			s.reminders[i].State.LastError = ""
		}

		if oneShot {
			s.reminders = append(s.reminders[:i], s.reminders[i+1:]...)
		}
		break
	}

	_ = s.save()
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.reminders)
}

func (s *Service) save() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.reminders, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
