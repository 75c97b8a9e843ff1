package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel              = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens          = 8192
	DefaultBufSize            = 100
	DefaultSendDelayMs        = 250
	DefaultResponderTimeoutS  = 120
	DefaultMemoryMaxEntries   = 3
	DefaultMemoryTTLMinutes   = 60
	DefaultMemorySweepMinutes = 30
	DefaultBroadcastPrefix    = "broadcast "
	DefaultAdminSendPrefix    = "send:"
	DefaultRemindPrefix       = "remind "
)

type Config struct {
	Agent      AgentConfig      `json:"agent"`
	Provider   ProviderConfig   `json:"provider"`
	Transports TransportsConfig `json:"transports"`
	Router     RouterConfig     `json:"router"`
	Memory     MemoryConfig     `json:"memory"`
	Broadcast  BroadcastConfig  `json:"broadcast"`
	Reminders  RemindersConfig  `json:"reminders"`
}

type AgentConfig struct {
	Workspace        string `json:"workspace"`
	Model            string `json:"model"`
	MaxTokens        int    `json:"maxTokens"`
	ResponderTimeout int    `json:"responderTimeoutSeconds"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type TransportsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled"`
	StorePath string `json:"storePath,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	Proxy   string `json:"proxy,omitempty"`
}

// RouterConfig carries the command grammar. Phrases are matched
// case-insensitively against cleaned message text.
type RouterConfig struct {
	Handles            []string `json:"handles"`
	Greetings          []string `json:"greetings"`
	DMBootstrapPhrases []string `json:"dmBootstrapPhrases"`
	AdminSendPrefix    string   `json:"adminSendPrefix"`
	Admins             []string `json:"admins"`
	RemindPrefix       string   `json:"remindPrefix"`
	ShowSenderAddress  bool     `json:"showSenderAddress"`
}

type MemoryConfig struct {
	MaxEntries   int `json:"maxEntries"`
	TTLMinutes   int `json:"ttlMinutes"`
	SweepMinutes int `json:"sweepMinutes"`
}

type BroadcastConfig struct {
	Prefix         string   `json:"prefix"`
	ConfirmPhrases []string `json:"confirmPhrases"`
	CancelPhrases  []string `json:"cancelPhrases"`
	AllowFrom      []string `json:"allowFrom"`
	SendDelayMs    int      `json:"sendDelayMs"`
}

type RemindersConfig struct {
	Enabled   bool   `json:"enabled"`
	StorePath string `json:"storePath,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:        filepath.Join(home, ".porter", "workspace"),
			Model:            DefaultModel,
			MaxTokens:        DefaultMaxTokens,
			ResponderTimeout: DefaultResponderTimeoutS,
		},
		Provider:   ProviderConfig{},
		Transports: TransportsConfig{},
		Router: RouterConfig{
			Handles:            []string{"@porter"},
			Greetings:          []string{"hi", "hello", "hey", "menu", "help"},
			DMBootstrapPhrases: []string{"dm me", "message me directly"},
			AdminSendPrefix:    DefaultAdminSendPrefix,
			RemindPrefix:       DefaultRemindPrefix,
		},
		Memory: MemoryConfig{
			MaxEntries:   DefaultMemoryMaxEntries,
			TTLMinutes:   DefaultMemoryTTLMinutes,
			SweepMinutes: DefaultMemorySweepMinutes,
		},
		Broadcast: BroadcastConfig{
			Prefix:         DefaultBroadcastPrefix,
			ConfirmPhrases: []string{"yes", "confirm"},
			CancelPhrases:  []string{"no", "cancel"},
			SendDelayMs:    DefaultSendDelayMs,
		},
		Reminders: RemindersConfig{Enabled: true},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".porter")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("PORTER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("PORTER_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("PORTER_TELEGRAM_TOKEN"); token != "" {
		cfg.Transports.Telegram.Token = token
	}
	if path := os.Getenv("PORTER_WHATSAPP_STORE"); path != "" {
		cfg.Transports.WhatsApp.StorePath = path
	}
	if delay := os.Getenv("PORTER_BROADCAST_DELAY_MS"); delay != "" {
		if parsed, err := strconv.Atoi(delay); err == nil && parsed >= 0 {
			cfg.Broadcast.SendDelayMs = parsed
		}
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.ResponderTimeout <= 0 {
		cfg.Agent.ResponderTimeout = DefaultResponderTimeoutS
	}
	if cfg.Memory.MaxEntries <= 0 {
		cfg.Memory.MaxEntries = DefaultMemoryMaxEntries
	}
	if cfg.Memory.TTLMinutes <= 0 {
		cfg.Memory.TTLMinutes = DefaultMemoryTTLMinutes
	}
	if cfg.Memory.SweepMinutes <= 0 {
		cfg.Memory.SweepMinutes = DefaultMemorySweepMinutes
	}
	if cfg.Broadcast.Prefix == "" {
		cfg.Broadcast.Prefix = DefaultBroadcastPrefix
	}
	if len(cfg.Broadcast.ConfirmPhrases) == 0 {
		cfg.Broadcast.ConfirmPhrases = []string{"yes", "confirm"}
	}
	if len(cfg.Broadcast.CancelPhrases) == 0 {
		cfg.Broadcast.CancelPhrases = []string{"no", "cancel"}
	}
	if cfg.Broadcast.SendDelayMs < 0 {
		cfg.Broadcast.SendDelayMs = DefaultSendDelayMs
	}
	if cfg.Router.AdminSendPrefix == "" {
		cfg.Router.AdminSendPrefix = DefaultAdminSendPrefix
	}
	if cfg.Router.RemindPrefix == "" {
		cfg.Router.RemindPrefix = DefaultRemindPrefix
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
