// Package token implements one-shot, TTL-bounded action tokens binding
// an inline-keyboard press to a concrete follow-up action.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/agentrelay/relay/internal/store"
)

// Action types, matching store.Deferred* plus the stop action which has
// no corresponding deferred-queue row (it cancels immediately).
const (
	ActionStop    = "stop"
	ActionSummary = store.DeferredSummary
	ActionRegen   = store.DeferredRegen
	ActionNext    = store.DeferredNext
)

// RunSource distinguishes a stop issued from the inline button versus a
// direct /stop command, mirrored in the token payload for audit purposes.
const (
	RunSourceButton       = "button"
	RunSourceDirectCancel = "direct_cancel"
)

// DefaultTTL is the token lifetime (spec.md §4.9): 24 hours.
const DefaultTTL = 24 * 60 * 60 * 1000 // ms

// minTTL is the floor applied to any caller-supplied TTL.
const minTTL = 60 * 1000 // ms

// Payload is the decoded content of a consumed token.
type Payload struct {
	ActionType   string `json:"action_type"`
	RunSource    string `json:"run_source"`
	ChatID       string `json:"chat_id"`
	SessionID    string `json:"session_id"`
	OriginTurnID string `json:"origin_turn_id"`
}

// Service issues and consumes action tokens against the store.
type Service struct {
	store *store.Store
}

// New returns a Service backed by s.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Issue generates a 128-bit random token, persists its payload with a
// DefaultTTL expiry, and returns the token string.
func (svc *Service) Issue(ctx context.Context, botID, chatID, actionType, runSource, sessionID, originTurnID string, now int64) (string, error) {
	return svc.IssueWithTTL(ctx, botID, chatID, actionType, runSource, sessionID, originTurnID, DefaultTTL, now)
}

// IssueWithTTL is Issue with an explicit TTL in milliseconds, clamped to
// at least minTTL.
func (svc *Service) IssueWithTTL(ctx context.Context, botID, chatID, actionType, runSource, sessionID, originTurnID string, ttlMs, now int64) (string, error) {
	if ttlMs < minTTL {
		ttlMs = minTTL
	}

	tok, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	payload := Payload{
		ActionType:   actionType,
		RunSource:    runSource,
		ChatID:       chatID,
		SessionID:    sessionID,
		OriginTurnID: originTurnID,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	if err := svc.store.CreateToken(ctx, tok, botID, chatID, actionType, string(payloadJSON), now+ttlMs, now); err != nil {
		return "", fmt.Errorf("create token: %w", err)
	}
	return tok, nil
}

// Consume atomically consumes tok for (bot, chat) and decodes its
// payload. Returns store.ErrTokenInvalid if the token is unknown,
// expired, already consumed, or does not match (bot, chat).
func (svc *Service) Consume(ctx context.Context, tok, botID, chatID string, now int64) (*Payload, error) {
	row, err := svc.store.ConsumeToken(ctx, tok, botID, chatID, now)
	if err != nil {
		return nil, err
	}

	var p Payload
	if err := json.Unmarshal([]byte(row.PayloadJSON), &p); err != nil {
		return nil, fmt.Errorf("decode token payload: %w", err)
	}
	if p.ActionType == "" || p.RunSource == "" || p.ChatID == "" || p.SessionID == "" || p.OriginTurnID == "" {
		return nil, store.ErrTokenInvalid
	}
	return &p, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
