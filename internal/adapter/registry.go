package adapter

import (
	"fmt"
	"os/exec"
)

// Registry resolves adapter instances by provider name and reports
// whether each provider's CLI binary is reachable on PATH, per
// SPEC_FULL.md §12.1's /providers install-check.
type Registry struct {
	adapters map[string]CliAdapter
}

// NewRegistry builds a registry with one instance per provider, using
// binCodex/binGemini/binClaude as the executable names (empty falls
// back to the provider's own default).
func NewRegistry(binCodex, binGemini, binClaude string, defaultModels map[string]string) *Registry {
	r := &Registry{adapters: make(map[string]CliAdapter, 4)}
	r.adapters["codex"] = NewCodex(binCodex, defaultModels["codex"])
	r.adapters["gemini"] = NewGemini(binGemini, defaultModels["gemini"])
	r.adapters["claude"] = NewClaude(binClaude, defaultModels["claude"])
	r.adapters["echo"] = NewEcho()
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (CliAdapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter: unknown provider %q", name)
	}
	return a, nil
}

// Installed reports whether name's CLI binary is reachable on PATH.
// The echo adapter, having no binary, is always reported installed.
func (r *Registry) Installed(name string) bool {
	a, ok := r.adapters[name]
	if !ok {
		return false
	}
	if a.Binary() == "" {
		return true
	}
	_, err := exec.LookPath(a.Binary())
	return err == nil
}

// Names returns the registered provider names in a stable order.
func (r *Registry) Names() []string {
	return []string{"codex", "gemini", "claude", "echo"}
}
