package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 8192
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 18890
	DefaultBufSize   = 100

	DefaultChatlogPollInterval  = 300
	DefaultChatlogBootstrapDays = 3
	DefaultChatlogErrorStreak   = 3
	DefaultChatlogDedupRatio    = 0.9
	DefaultChatlogDedupMinTotal = 50
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Chatlog  ChatlogConfig  `json:"chatlog"`
}

type AgentConfig struct {
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Feishu   FeishuConfig   `json:"feishu"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

type FeishuConfig struct {
	Enabled           bool     `json:"enabled"`
	AppID             string   `json:"appId"`
	AppSecret         string   `json:"appSecret"`
	VerificationToken string   `json:"verificationToken"`
	Port              int      `json:"port,omitempty"`
	AllowFrom         []string `json:"allowFrom"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	Port      int      `json:"port,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ChatlogConfig drives the chat-log ingestion pipeline: the push
// webhook, the backfill poller, and its health thresholds.
type ChatlogConfig struct {
	Enabled              bool     `json:"enabled"`
	BaseURL              string   `json:"baseUrl,omitempty"`
	WebhookToken         string   `json:"webhookToken,omitempty"`
	PollIntervalSeconds  int      `json:"pollIntervalSeconds"`
	Talkers              []string `json:"talkers"`
	BootstrapDays        int      `json:"bootstrapDays"`
	ErrorStreakThreshold int      `json:"errorStreakThreshold"`
	DedupRatioThreshold  float64  `json:"dedupRatioThreshold"`
	DedupMinTotal        int      `json:"dedupMinTotal"`
	StateDBPath          string   `json:"stateDbPath,omitempty"`
	TargetsPath          string   `json:"targetsPath,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace: filepath.Join(home, ".memoclaw", "workspace"),
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Chatlog: ChatlogConfig{
			PollIntervalSeconds:  DefaultChatlogPollInterval,
			BootstrapDays:        DefaultChatlogBootstrapDays,
			ErrorStreakThreshold: DefaultChatlogErrorStreak,
			DedupRatioThreshold:  DefaultChatlogDedupRatio,
			DedupMinTotal:        DefaultChatlogDedupMinTotal,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".memoclaw")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// StateDBPath returns the chatlog dedup database location, defaulting
// under the config dir.
func (c *Config) StateDBPath() string {
	if c.Chatlog.StateDBPath != "" {
		return c.Chatlog.StateDBPath
	}
	return filepath.Join(ConfigDir(), "data", "chatlog_state.db")
}

// TargetsPath returns the target policy JSON location, defaulting
// under the config dir.
func (c *Config) TargetsPath() string {
	if c.Chatlog.TargetsPath != "" {
		return c.Chatlog.TargetsPath
	}
	return filepath.Join(ConfigDir(), "data", "chatlog_targets.json")
}

// HeartbeatPath returns where the bridge heartbeat file lives.
func (c *Config) HeartbeatPath() string {
	return filepath.Join(c.Agent.Workspace, "logs", "bridge_heartbeat.json")
}

// LogDir returns where session logs are written.
func (c *Config) LogDir() string {
	return filepath.Join(c.Agent.Workspace, "logs")
}

func LoadConfig() (*Config, error) {
	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()

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
	if key := os.Getenv("MEMOCLAW_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("MEMOCLAW_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("MEMOCLAW_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if appID := os.Getenv("MEMOCLAW_FEISHU_APP_ID"); appID != "" {
		cfg.Channels.Feishu.AppID = appID
	}
	if appSecret := os.Getenv("MEMOCLAW_FEISHU_APP_SECRET"); appSecret != "" {
		cfg.Channels.Feishu.AppSecret = appSecret
	}
	if ws := os.Getenv("MEMOCLAW_WORKSPACE"); ws != "" {
		cfg.Agent.Workspace = ws
	}
	if enabled := os.Getenv("MEMOCLAW_CHATLOG_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Chatlog.Enabled = parsed
		}
	}
	if url := os.Getenv("MEMOCLAW_CHATLOG_BASE_URL"); url != "" {
		cfg.Chatlog.BaseURL = url
	}
	if token := os.Getenv("MEMOCLAW_CHATLOG_WEBHOOK_TOKEN"); token != "" {
		cfg.Chatlog.WebhookToken = token
	}
	if interval := os.Getenv("MEMOCLAW_CHATLOG_POLL_INTERVAL"); interval != "" {
		if parsed, err := strconv.Atoi(interval); err == nil && parsed > 0 {
			cfg.Chatlog.PollIntervalSeconds = parsed
		}
	}
	if talkers := os.Getenv("MEMOCLAW_CHATLOG_TALKERS"); talkers != "" {
		cfg.Chatlog.Talkers = splitList(talkers)
	}
	if days := os.Getenv("MEMOCLAW_CHATLOG_BOOTSTRAP_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil && parsed > 0 {
			cfg.Chatlog.BootstrapDays = parsed
		}
	}
	if streak := os.Getenv("MEMOCLAW_CHATLOG_ERROR_STREAK"); streak != "" {
		if parsed, err := strconv.Atoi(streak); err == nil && parsed > 0 {
			cfg.Chatlog.ErrorStreakThreshold = parsed
		}
	}
	if ratio := os.Getenv("MEMOCLAW_CHATLOG_DEDUP_RATIO"); ratio != "" {
		if parsed, err := strconv.ParseFloat(ratio, 64); err == nil && parsed > 0 {
			cfg.Chatlog.DedupRatioThreshold = parsed
		}
	}
	if minTotal := os.Getenv("MEMOCLAW_CHATLOG_DEDUP_MIN_TOTAL"); minTotal != "" {
		if parsed, err := strconv.Atoi(minTotal); err == nil && parsed > 0 {
			cfg.Chatlog.DedupMinTotal = parsed
		}
	}
	if dbPath := os.Getenv("MEMOCLAW_CHATLOG_STATE_DB"); dbPath != "" {
		cfg.Chatlog.StateDBPath = dbPath
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Chatlog.PollIntervalSeconds <= 0 {
		cfg.Chatlog.PollIntervalSeconds = DefaultChatlogPollInterval
	}
	if cfg.Chatlog.BootstrapDays <= 0 {
		cfg.Chatlog.BootstrapDays = DefaultChatlogBootstrapDays
	}
	if cfg.Chatlog.ErrorStreakThreshold <= 0 {
		cfg.Chatlog.ErrorStreakThreshold = DefaultChatlogErrorStreak
	}
	if cfg.Chatlog.DedupRatioThreshold <= 0 {
		cfg.Chatlog.DedupRatioThreshold = DefaultChatlogDedupRatio
	}
	if cfg.Chatlog.DedupMinTotal <= 0 {
		cfg.Chatlog.DedupMinTotal = DefaultChatlogDedupMinTotal
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
