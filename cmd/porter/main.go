package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/porterbot/porter/internal/config"
	"github.com/porterbot/porter/internal/gateway"
	"github.com/porterbot/porter/internal/responder"
)

// ResponderFactory creates a Responder instance (allows mocking in tests)
type ResponderFactory func(cfg *config.Config) (responder.Responder, error)

// DefaultResponderFactory creates the default agentsdk-go responder
func DefaultResponderFactory(cfg *config.Config) (responder.Responder, error) {
	return responder.New(cfg)
}

// ChatOptions for running the chat command with custom dependencies
type ChatOptions struct {
	ResponderFactory ResponderFactory
	Stdin            io.Reader
	Stdout           io.Writer
	Stderr           io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "porter",
	Short: "porter - concierge chat agent",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the responder in single message or REPL mode",
	RunE:  runChat,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the full gateway (transports + router + reminders)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show porter status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(chatCmd, runCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs the chat with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.ResponderFactory
	if factory == nil {
		factory = DefaultResponderFactory
	}

	resp, err := factory(cfg)
	if err != nil {
		return err
	}
	defer resp.Close()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		reply, err := resp.Generate(ctx, responder.Request{
			Text:      messageFlag,
			SessionID: "cli",
		})
		if err != nil {
			return fmt.Errorf("responder error: %w", err)
		}
		if reply != "" {
			fmt.Fprintln(stdout, reply)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "porter chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := resp.Generate(ctx, responder.Request{
			Text:      input,
			SessionID: "cli-repl",
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		if reply != "" {
			fmt.Fprintln(stdout, reply)
		}
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'porter onboard' or set PORTER_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "AGENTS.md"), defaultAgentsMD)
	writeIfNotExists(filepath.Join(ws, "SOUL.md"), defaultSoulMD)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and enable a transport\n", cfgPath)
	fmt.Println("  2. Or set PORTER_API_KEY and PORTER_TELEGRAM_TOKEN environment variables")
	fmt.Println("  3. Run 'porter chat -m \"Hello\"' to test the responder")
	fmt.Println("  4. Run 'porter run' to start the gateway")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Transports.Telegram.Enabled)
	fmt.Printf("WhatsApp: enabled=%v\n", cfg.Transports.WhatsApp.Enabled)
	fmt.Printf("Reminders: enabled=%v\n", cfg.Reminders.Enabled)
	fmt.Printf("Broadcast allow-list: %d senders\n", len(cfg.Broadcast.AllowFrom))

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'porter onboard')")
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultAgentsMD = `# Porter

You are Porter, a concierge chat agent reachable over WhatsApp and Telegram.

## Guidelines
- Be concise and friendly
- When the user asks what you can do, offer scheduling, reminders, and support
- To present a menu of options, reply with a JSON object:
  {"type":"actions","id":"<menu-id>","description":"<text>","actions":[{"id":"<action-id>","label":"<label>"}]}
- Otherwise reply in plain text
`

const defaultSoulMD = `# Soul

Your personality:
- Warm and professional, like a good hotel concierge
- Direct answers first, detail only when asked
- Never promise what you cannot schedule or deliver
`
