package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/telegram"
)

// PollerClient is the subset of *telegram.Client the Poller needs.
// Satisfied by *telegram.Client; kept as an interface for tests.
type PollerClient interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
}

// DefaultLongPollTimeoutSec is how long each getUpdates call blocks
// waiting for new updates before returning empty, per spec.md §4.3's
// "periodically getUpdates(offset, timeout)" alternative ingest path.
const DefaultLongPollTimeoutSec = 30

// Poller periodically long-polls the chat API (spec.md §4.3's "Polling
// (alternative ingest)") and stores each update via store.InsertUpdate,
// advancing offset = max(update_id)+1. Used by bots in mode=embedded;
// mode=gateway bots receive updates via internal/admin's webhook
// handler instead and never construct a Poller.
type Poller struct {
	botID   string
	client  PollerClient
	store   *store.Store
	timeout int

	log *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller returns a Poller for botID using client to fetch updates.
func NewPoller(botID string, client PollerClient, st *store.Store) *Poller {
	return &Poller{
		botID:   botID,
		client:  client,
		store:   st,
		timeout: DefaultLongPollTimeoutSec,
		log:     slog.With("worker", "poller", "bot_id", botID),
		stopCh:  make(chan struct{}),
	}
}

// WithLongPollTimeout overrides the per-call getUpdates timeout.
func (p *Poller) WithLongPollTimeout(sec int) *Poller { p.timeout = sec; return p }

// Run blocks, long-polling and enqueuing updates until ctx is cancelled
// or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	offset, err := p.store.MaxUpdateID(ctx, p.botID)
	if err != nil {
		p.log.Error("failed to load initial offset, starting from zero", "error", err)
		offset = 0
	} else if offset > 0 {
		offset++
	}

	p.log.Info("poller started", "offset", offset)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopping: context cancelled")
			return
		case <-p.stopCh:
			p.log.Info("poller stopping")
			return
		default:
		}

		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("getUpdates failed", "error", err)
			p.sleep(time.Second)
			continue
		}

		for _, upd := range updates {
			if err := p.storeUpdate(ctx, upd); err != nil {
				p.log.Error("store update failed", "update_id", upd.UpdateID, "error", err)
				continue
			}
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
		}
	}
}

// Stop signals the poller to stop and waits for Run to return.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

func (p *Poller) storeUpdate(ctx context.Context, upd telegram.Update) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	chatID := chatIDOf(upd)
	_, err = p.store.InsertUpdate(ctx, p.botID, upd.UpdateID, chatID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert update: %w", err)
	}
	return nil
}

func chatIDOf(upd telegram.Update) string {
	switch {
	case upd.Message != nil:
		return fmt.Sprintf("%d", upd.Message.Chat.ID)
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		return fmt.Sprintf("%d", upd.CallbackQuery.Message.Chat.ID)
	default:
		return ""
	}
}
