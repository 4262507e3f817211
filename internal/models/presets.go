// Package models holds the static provider/model catalog: which models
// each CLI provider accepts, and which one a session gets by default.
// Grounded on original_source/src/telegram_bot_new/model_presets.py.
package models

// SupportedProviders lists the CLI adapters selectable via /mode.
var SupportedProviders = []string{"codex", "gemini", "claude"}

var availableByProvider = map[string][]string{
	"codex": {
		"gpt-5.3-codex",
		"gpt-5.3-codex-spark",
		"gpt-5.2-codex",
		"gpt-5.1-codex-max",
		"gpt-5.2",
		"gpt-5.1-codex-mini",
		"gpt-5",
	},
	"gemini": {"gemini-2.5-pro", "gemini-2.5-flash"},
	"claude": {"claude-sonnet-4-5"},
}

// preferredDefaultByProvider is used when no configured default is set
// or the configured default isn't in the provider's catalog.
var preferredDefaultByProvider = map[string]string{
	"codex": "gpt-5.3-codex",
	// Keep Gemini usable by default even when Pro terminal capacity is exhausted.
	"gemini": "gemini-2.5-flash",
	"claude": "claude-sonnet-4-5",
}

// Available returns the selectable models for provider, or nil if the
// provider has no catalog.
func Available(provider string) []string {
	return availableByProvider[provider]
}

// IsAllowed reports whether model is in provider's catalog.
func IsAllowed(provider, model string) bool {
	for _, m := range availableByProvider[provider] {
		if m == model {
			return true
		}
	}
	return false
}

// ResolveProviderDefault picks the model a fresh session on provider
// should use: configuredDefault if it's in the catalog, else the
// preferred default, else the catalog's first entry. Returns "" if
// provider has no catalog.
func ResolveProviderDefault(provider, configuredDefault string) string {
	catalog := availableByProvider[provider]
	if len(catalog) == 0 {
		return ""
	}
	if configuredDefault != "" && IsAllowed(provider, configuredDefault) {
		return configuredDefault
	}
	if preferred, ok := preferredDefaultByProvider[provider]; ok && IsAllowed(provider, preferred) {
		return preferred
	}
	return catalog[0]
}

// ResolveSelected picks the model currently in effect for a session:
// sessionModel if still allowed, else the provider's resolved default
// from defaultModels (keyed by provider name).
func ResolveSelected(provider, sessionModel string, defaultModels map[string]string) string {
	if sessionModel != "" && IsAllowed(provider, sessionModel) {
		return sessionModel
	}
	return ResolveProviderDefault(provider, defaultModels[provider])
}
