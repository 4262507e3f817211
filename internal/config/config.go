// Package config loads the YAML bots file (spec.md §6 "Environment")
// describing every bot this process (or fleet of processes) serves.
// Grounded on the teacher's declared-but-unexercised knadh/koanf stack;
// per-binary flags (-addr, -data-dir, -config) stay plain flag per
// internal/hub/config and internal/worker/config in the teacher.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ProviderDefault is a per-provider default model override.
type ProviderDefault struct {
	Model string `koanf:"model"`
}

// Webhook is a bot's webhook delivery configuration (mode=gateway).
type Webhook struct {
	PathSecret  string `koanf:"path_secret"`
	SecretToken string `koanf:"secret_token"`
	PublicURL   string `koanf:"public_url"`
}

// Bot is one configured chat bot.
type Bot struct {
	BotID         string          `koanf:"bot_id"`
	Name          string          `koanf:"name"`
	Mode          string          `koanf:"mode"` // embedded | gateway
	TelegramToken string          `koanf:"telegram_token"`
	Adapter       string          `koanf:"adapter"`
	OwnerUserID   string          `koanf:"owner_user_id"` // empty means no owner gate
	Webhook       Webhook         `koanf:"webhook"`
	Codex         ProviderDefault `koanf:"codex"`
	Gemini        ProviderDefault `koanf:"gemini"`
	Claude        ProviderDefault `koanf:"claude"`
	DatabaseURL   string          `koanf:"database_url"`
}

// DefaultModels returns the bot's per-provider default model overrides
// as a map consumable by internal/models.ResolveSelected.
func (b Bot) DefaultModels() map[string]string {
	return map[string]string{
		"codex":  b.Codex.Model,
		"gemini": b.Gemini.Model,
		"claude": b.Claude.Model,
	}
}

// Config is the top-level bots file.
type Config struct {
	Bots []Bot `koanf:"bots"`
}

// Get returns the bot configured under botID, if any.
func (c *Config) Get(botID string) (*Bot, bool) {
	for i := range c.Bots {
		if c.Bots[i].BotID == botID {
			return &c.Bots[i], true
		}
	}
	return nil, false
}

// defaults applied before the file is loaded: an empty bots list.
// Per-bot defaults (adapter, mode) are filled in by validate.
var defaults = map[string]any{
	"bots": []any{},
}

// Load reads path as YAML and overlays RELAY_-prefixed environment
// variables (e.g. RELAY_TELEGRAM_TOKEN for single-bot bootstrap, per
// spec.md §6's "fallback env vars supply a single-bot token"). An empty
// path skips the file provider and relies on env/defaults alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("RELAY_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.applyBootstrapToken(k); err != nil {
		return nil, err
	}
	cfg.applyGlobalOwner(k)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "RELAY_")), "_", ".")
}

// applyBootstrapToken handles spec.md §6's single-bot fallback: when no
// bots are configured but RELAY_TELEGRAM_TOKEN is set, synthesize a
// single embedded-mode bot from it.
func (c *Config) applyBootstrapToken(k *koanf.Koanf) error {
	if len(c.Bots) > 0 {
		return nil
	}
	token := k.String("telegram.token")
	if token == "" {
		return nil
	}
	c.Bots = []Bot{{
		BotID:         "default",
		Name:          "default",
		Mode:          "embedded",
		TelegramToken: token,
		Adapter:       "codex",
	}}
	return nil
}

// applyGlobalOwner fills any bot missing its own owner_user_id from the
// fleet-wide RELAY_TELEGRAM_OWNER_USER_ID fallback, mirroring
// original_source/settings.py's telegram_owner_user_id default.
func (c *Config) applyGlobalOwner(k *koanf.Koanf) {
	global := k.String("telegram.owner.user.id")
	if global == "" {
		return
	}
	for i := range c.Bots {
		if c.Bots[i].OwnerUserID == "" {
			c.Bots[i].OwnerUserID = global
		}
	}
}

// validate enforces spec.md §7's ConfigError fatal-at-startup rules:
// missing token, duplicate bot_id/token.
func (c *Config) validate() error {
	if len(c.Bots) == 0 {
		return fmt.Errorf("config: no bots configured")
	}
	seenIDs := make(map[string]bool, len(c.Bots))
	seenTokens := make(map[string]bool, len(c.Bots))
	for i := range c.Bots {
		b := &c.Bots[i]
		if b.BotID == "" {
			return fmt.Errorf("config: bot at index %d missing bot_id", i)
		}
		if b.TelegramToken == "" {
			return fmt.Errorf("config: bot %s missing telegram_token", b.BotID)
		}
		if b.Adapter == "" {
			b.Adapter = "codex"
		}
		if b.Mode == "" {
			b.Mode = "embedded"
		}
		if seenIDs[b.BotID] {
			return fmt.Errorf("config: duplicate bot_id %s", b.BotID)
		}
		seenIDs[b.BotID] = true
		if seenTokens[b.TelegramToken] {
			return fmt.Errorf("config: duplicate telegram_token for bot %s", b.BotID)
		}
		seenTokens[b.TelegramToken] = true
		if b.Mode == "gateway" && b.Webhook.PathSecret == "" {
			return fmt.Errorf("config: bot %s mode=gateway requires webhook.path_secret", b.BotID)
		}
	}
	return nil
}
