package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/responder"
)

// mockResponder implements responder.Responder for testing
type mockResponder struct {
	reply  string
	err    error
	closed bool
	texts  []string
}

func (m *mockResponder) Generate(ctx context.Context, req responder.Request) (string, error) {
	m.texts = append(m.texts, req.Text)
	return m.reply, m.err
}

func (m *mockResponder) Close() {
	m.closed = true
}

func TestWriteIfNotExists_NewFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.txt")

	writeIfNotExists(path, "test content")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "test content" {
		t.Errorf("content = %q, want 'test content'", string(data))
	}
}

func TestWriteIfNotExists_ExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.txt")

	os.WriteFile(path, []byte("original"), 0644)

	writeIfNotExists(path, "new content")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	// Should not overwrite
	if string(data) != "original" {
		t.Errorf("content = %q, want 'original'", string(data))
	}
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); got != "anthropic (default)" {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("openai"); got != "openai" {
		t.Errorf("providerDisplay(openai) = %q", got)
	}
}

func TestDefaultConstants(t *testing.T) {
	if !strings.Contains(defaultAgentsMD, "Porter") {
		t.Error("defaultAgentsMD should mention Porter")
	}
	if !strings.Contains(defaultAgentsMD, `"type":"actions"`) {
		t.Error("defaultAgentsMD should document the actions reply envelope")
	}
	if !strings.Contains(defaultSoulMD, "concierge") {
		t.Error("defaultSoulMD should mention concierge")
	}
}

func setTestHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	t.Setenv("PORTER_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PORTER_TELEGRAM_TOKEN", "")
	return tmpDir
}

func TestRunOnboard(t *testing.T) {
	tmpDir := setTestHome(t)

	if err := runOnboard(&cobra.Command{}, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	cfgPath := filepath.Join(tmpDir, ".porter", "config.json")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("config not created: %v", err)
	}

	ws := filepath.Join(tmpDir, ".porter", "workspace")
	for _, name := range []string{"AGENTS.md", "SOUL.md"} {
		if _, err := os.Stat(filepath.Join(ws, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	// Second run is idempotent.
	if err := runOnboard(&cobra.Command{}, nil); err != nil {
		t.Fatalf("second runOnboard error: %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	setTestHome(t)

	// Status never fails, even without config.
	if err := runStatus(&cobra.Command{}, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
}

func TestRunGateway_NoAPIKey(t *testing.T) {
	setTestHome(t)

	err := runGateway(&cobra.Command{}, nil)
	if err == nil {
		t.Fatal("expected error without API key")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("error = %v, want API key hint", err)
	}
}

func TestRunChat_SingleMessage(t *testing.T) {
	setTestHome(t)

	mock := &mockResponder{reply: "hi there"}
	var out bytes.Buffer

	messageFlag = "hello"
	defer func() { messageFlag = "" }()

	err := runChatWithOptions(ChatOptions{
		ResponderFactory: func(cfg *config.Config) (responder.Responder, error) {
			return mock, nil
		},
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}
	if !strings.Contains(out.String(), "hi there") {
		t.Errorf("output = %q, want reply", out.String())
	}
	if len(mock.texts) != 1 || mock.texts[0] != "hello" {
		t.Errorf("responder texts = %v", mock.texts)
	}
	if !mock.closed {
		t.Error("responder should be closed")
	}
}

func TestRunChat_REPL(t *testing.T) {
	setTestHome(t)

	mock := &mockResponder{reply: "echo"}
	var out bytes.Buffer
	in := strings.NewReader("first\n\nsecond\nexit\n")

	messageFlag = ""
	err := runChatWithOptions(ChatOptions{
		ResponderFactory: func(cfg *config.Config) (responder.Responder, error) {
			return mock, nil
		},
		Stdin:  in,
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}
	if len(mock.texts) != 2 {
		t.Fatalf("responder calls = %d, want 2 (blank and exit skipped)", len(mock.texts))
	}
	if mock.texts[0] != "first" || mock.texts[1] != "second" {
		t.Errorf("texts = %v", mock.texts)
	}
}

func TestRunChat_ResponderError(t *testing.T) {
	setTestHome(t)

	mock := &mockResponder{err: errors.New("model down")}
	var out, errOut bytes.Buffer

	messageFlag = "hello"
	defer func() { messageFlag = "" }()

	err := runChatWithOptions(ChatOptions{
		ResponderFactory: func(cfg *config.Config) (responder.Responder, error) {
			return mock, nil
		},
		Stdout: &out,
		Stderr: &errOut,
	})
	if err == nil {
		t.Fatal("single message mode should propagate responder errors")
	}
}
