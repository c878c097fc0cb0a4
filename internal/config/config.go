// Package config defines the ZulipGate configuration model.
// Config is loaded from a JSON5 file merged over Default(), then env var
// overrides are applied on top.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration.
type Config struct {
	// Accounts lists Zulip credentials. The single-account shorthand fields
	// Site/Email/APIKey populate one "main" account when Accounts is empty.
	Site     string          `json:"site,omitempty"`
	Email    string          `json:"email,omitempty"`
	APIKey   string          `json:"api_key,omitempty"`
	Accounts []AccountConfig `json:"accounts,omitempty"`

	Channels ChannelsConfig `json:"channels"`
	Agent    AgentConfig    `json:"agent"`
	Gateway  GatewayConfig  `json:"gateway"`

	// StateDir holds the pairing and route stores. Supports "~/" prefix.
	StateDir string `json:"state_dir,omitempty"`
}

// AccountConfig holds credentials for one Zulip account.
type AccountConfig struct {
	ID     string `json:"id"`
	Site   string `json:"site"`
	Email  string `json:"email"`
	APIKey string `json:"api_key"`
}

// ChannelsConfig groups per-platform channel settings.
type ChannelsConfig struct {
	Zulip ZulipConfig `json:"zulip"`
}

// ZulipConfig controls policy and delivery for the Zulip channel.
type ZulipConfig struct {
	Enabled bool `json:"enabled"`

	// DMPolicy: "open" | "pairing" | "disabled". Default "pairing".
	DMPolicy string `json:"dm_policy,omitempty"`

	// AllowFrom lists allowed sender tokens (ids, emails, or full names;
	// optional "user:" prefix; "*" allows any sender).
	AllowFrom []string `json:"allow_from,omitempty"`

	// AutoReplyStreams are streams answered without requiring a mention.
	AutoReplyStreams []string `json:"auto_reply_streams,omitempty"`

	// MentionPatterns are extra regexes that count as a mention.
	MentionPatterns []string `json:"mention_patterns,omitempty"`

	// MaxMessageChars caps one outbound message; longer replies are chunked.
	MaxMessageChars int `json:"max_message_chars,omitempty"`

	// ConvertTables rewrites markdown pipe tables before sending.
	ConvertTables bool `json:"convert_tables,omitempty"`
}

// AgentConfig configures the reply-generation collaborator.
type AgentConfig struct {
	AgentID      string  `json:"agent_id,omitempty"`
	Model        string  `json:"model,omitempty"`
	APIKey       string  `json:"api_key,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// GatewayConfig configures the status/health server.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Channels: ChannelsConfig{
			Zulip: ZulipConfig{
				Enabled:         true,
				DMPolicy:        "pairing",
				MaxMessageChars: 10000,
				ConvertTables:   true,
			},
		},
		Agent: AgentConfig{
			AgentID:     "default",
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		StateDir: "~/.zulipgate",
	}
}

// ResolveAccounts returns the effective account list, folding the
// single-account shorthand into an account named "main".
func (c *Config) ResolveAccounts() []AccountConfig {
	if len(c.Accounts) > 0 {
		return c.Accounts
	}
	if c.Site == "" && c.Email == "" && c.APIKey == "" {
		return nil
	}
	return []AccountConfig{{ID: "main", Site: c.Site, Email: c.Email, APIKey: c.APIKey}}
}

// ResolveStateDir expands "~/" in StateDir.
func (c *Config) ResolveStateDir() string {
	dir := c.StateDir
	if dir == "" {
		dir = "~/.zulipgate"
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	return dir
}
