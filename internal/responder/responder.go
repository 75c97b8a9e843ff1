// Package responder generates conversational replies through an agent
// runtime. The gateway treats it as a black box: text in, text (or an
// actions-menu JSON envelope) out.
package responder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/porterbot/porter/internal/config"
)

// Request carries one turn's worth of context to the responder.
type Request struct {
	Text           string
	SenderID       string
	ChatID         string
	SessionID      string
	IsGroup        bool
	DisplayAddress string // empty when address display is disabled
}

// Responder produces a reply for a request. An empty reply means "say
// nothing".
type Responder interface {
	Generate(ctx context.Context, req Request) (string, error)
	Close()
}

// Runtime interface for the agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// AgentResponder is the default Responder backed by agentsdk-go.
type AgentResponder struct {
	runtime Runtime
}

func New(cfg *config.Config) (*AgentResponder, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'porter onboard' or set PORTER_API_KEY / ANTHROPIC_API_KEY")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:  cfg.Agent.Workspace,
		ModelFactory: provider,
		SystemPrompt: buildSystemPrompt(cfg.Agent.Workspace),
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	return &AgentResponder{runtime: &runtimeAdapter{rt: rt}}, nil
}

// NewWithRuntime builds a responder around an existing runtime (for testing).
func NewWithRuntime(rt Runtime) *AgentResponder {
	return &AgentResponder{runtime: rt}
}

func (a *AgentResponder) Generate(ctx context.Context, req Request) (string, error) {
	prompt := req.Text
	if req.DisplayAddress != "" {
		prompt = fmt.Sprintf("[sender: %s]\n%s", req.DisplayAddress, prompt)
	}

	resp, err := a.runtime.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: req.SessionID,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}

func (a *AgentResponder) Close() {
	if a.runtime != nil {
		a.runtime.Close()
	}
}

func buildSystemPrompt(workspace string) string {
	var sb strings.Builder

	if data, err := os.ReadFile(filepath.Join(workspace, "AGENTS.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	if data, err := os.ReadFile(filepath.Join(workspace, "SOUL.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	return sb.String()
}
