package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; env vars alone can configure an account.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ZULIPGATE_SITE", &c.Site)
	envStr("ZULIPGATE_EMAIL", &c.Email)
	envStr("ZULIPGATE_API_KEY", &c.APIKey)
	envStr("ZULIPGATE_ANTHROPIC_API_KEY", &c.Agent.APIKey)
	envStr("ZULIPGATE_STATE_DIR", &c.StateDir)
}

// Validate checks that serve can start: every account needs site, email and
// api key. Returns a descriptive error naming the first missing field.
func (c *Config) Validate() error {
	accounts := c.ResolveAccounts()
	if len(accounts) == 0 {
		return fmt.Errorf("no zulip account configured: set site, email and api_key (or ZULIPGATE_SITE/EMAIL/API_KEY)")
	}
	for _, a := range accounts {
		switch {
		case a.Site == "":
			return fmt.Errorf("account %q: missing site", a.ID)
		case a.Email == "":
			return fmt.Errorf("account %q: missing email", a.ID)
		case a.APIKey == "":
			return fmt.Errorf("account %q: missing api_key", a.ID)
		}
	}
	switch p := c.Channels.Zulip.DMPolicy; p {
	case "", "open", "pairing", "disabled":
	default:
		return fmt.Errorf("channels.zulip.dm_policy: unknown policy %q", p)
	}
	return nil
}
