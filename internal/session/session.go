// Package session is a thin façade over internal/store enforcing
// spec.md §4.5's mutation rules: provider/model/project/unsafe-mode
// changes are rejected while a run is active, and provider/model
// switches clear the adapter-side thread id.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/store"
)

// ErrActiveRun is returned by any mutation spec.md §4.4 rejects while
// a run is active (/mode, /model, /project, /unsafe).
var ErrActiveRun = errors.New("session: a run is already active for this chat")

// Service wraps a store.Store with the session-lifecycle rules.
type Service struct {
	store *store.Store
}

// New returns a Service backed by s.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// GetOrCreateActive returns the active session for (bot, chat),
// creating one on defaultAdapter if none exists.
func (svc *Service) GetOrCreateActive(ctx context.Context, botID, chatID, defaultAdapter string, now int64) (*store.Session, error) {
	return svc.store.GetOrCreateActive(ctx, botID, chatID, defaultAdapter, now)
}

// GetLatest returns the active session if any, else the most recently
// updated reset session, else store.ErrNotFound.
func (svc *Service) GetLatest(ctx context.Context, botID, chatID string) (*store.Session, error) {
	return svc.store.GetLatestSession(ctx, botID, chatID)
}

// Reset demotes the active session (if any) then creates a fresh one,
// implementing /reset's "reset then create_new" behavior.
func (svc *Service) Reset(ctx context.Context, botID, chatID, defaultAdapter string, now int64) (*store.Session, error) {
	if err := svc.store.Reset(ctx, botID, chatID, now); err != nil {
		return nil, err
	}
	return svc.store.CreateFresh(ctx, botID, chatID, defaultAdapter, now)
}

// CreateNew demotes any existing active session and creates a fresh
// one on adapterName, implementing /new.
func (svc *Service) CreateNew(ctx context.Context, botID, chatID, adapterName string, now int64) (*store.Session, error) {
	return svc.store.CreateFresh(ctx, botID, chatID, adapterName, now)
}

// Status returns the active session for (bot, chat) if one exists,
// else the most recently updated reset session, else (nil, nil).
func (svc *Service) Status(ctx context.Context, botID, chatID string) (*store.Session, error) {
	sess, err := svc.store.GetLatestSession(ctx, botID, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// GetSummary returns the rolling summary for (bot, chat)'s latest
// session, or "" if no session exists yet.
func (svc *Service) GetSummary(ctx context.Context, botID, chatID string) (string, error) {
	sess, err := svc.Status(ctx, botID, chatID)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.RollingSummary, nil
}

// SwitchAdapter changes the active session's provider, rejecting the
// change if a run is currently active. Clears adapter_thread_id and
// bumps relay_provider_switch_total.
func (svc *Service) SwitchAdapter(ctx context.Context, botID, chatID, sessionID, newAdapter string, now int64) error {
	if err := svc.rejectIfActiveRun(ctx, botID, chatID); err != nil {
		return err
	}
	if err := svc.store.SetAdapter(ctx, sessionID, newAdapter, now); err != nil {
		return err
	}
	metrics.ProviderSwitchTotal.WithLabelValues(newAdapter).Inc()
	return nil
}

// SetModel changes the active session's model, rejecting the change
// if a run is currently active. Clears adapter_thread_id.
func (svc *Service) SetModel(ctx context.Context, botID, chatID, sessionID, model string, now int64) error {
	if err := svc.rejectIfActiveRun(ctx, botID, chatID); err != nil {
		return err
	}
	return svc.store.SetModel(ctx, sessionID, model, now)
}

// SetProjectRoot sets the session's working directory hint, rejecting
// the change if a run is currently active.
func (svc *Service) SetProjectRoot(ctx context.Context, botID, chatID, sessionID, root string, now int64) error {
	if err := svc.rejectIfActiveRun(ctx, botID, chatID); err != nil {
		return err
	}
	return svc.store.SetProjectRoot(ctx, sessionID, root, now)
}

// SetUnsafeUntil sets (or, with until=0, clears) the session's unsafe
// mode expiry, rejecting the change if a run is currently active.
func (svc *Service) SetUnsafeUntil(ctx context.Context, botID, chatID, sessionID string, until, now int64) error {
	if err := svc.rejectIfActiveRun(ctx, botID, chatID); err != nil {
		return err
	}
	return svc.store.SetUnsafeUntil(ctx, sessionID, until, now)
}

func (svc *Service) rejectIfActiveRun(ctx context.Context, botID, chatID string) error {
	active, err := svc.store.HasActiveRun(ctx, botID, chatID)
	if err != nil {
		return fmt.Errorf("check active run: %w", err)
	}
	if active {
		return ErrActiveRun
	}
	return nil
}
