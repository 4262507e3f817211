// Package run implements the worker loop that leases cli_run_jobs,
// invokes the session's CLI adapter, persists and streams its events,
// settles the turn, and delivers any generated image/HTML artifacts.
// Grounded on original_source/src/telegram_bot_new/workers/run_worker.py
// (run_cli_worker / _process_run_job / _renew_lease_loop /
// _deliver_generated_artifacts), adapted from asyncio tasks + async
// generators to goroutines + channels per spec.md's explicit-concurrency
// REDESIGN FLAG.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentrelay/relay/internal/adapter"
	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/models"
	"github.com/agentrelay/relay/internal/sanitize"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/streamer"
	"github.com/agentrelay/relay/internal/summary"
	"github.com/agentrelay/relay/internal/telegram"
)

// Defaults per spec.md §4.2/§4.6.
const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultLeaseMs           = 60_000
	DefaultHeartbeatInterval = 5 * time.Second
)

// Worker leases and processes cli_run_jobs for one bot.
type Worker struct {
	botID    string
	ownerID  string
	store    *store.Store
	registry *adapter.Registry
	streamer *streamer.Streamer
	client   *telegram.Client

	defaultModels map[string]string
	defaultSandbox string

	pollInterval      time.Duration
	leaseMs           int64
	heartbeatInterval time.Duration

	log *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	artifactsMu   sync.Mutex
	sentArtifacts map[string]map[string]bool
}

// New returns a Worker with default timings. defaultModels maps
// provider name to its configured default model (may be nil/empty);
// defaultSandbox is applied only when the session's provider is codex.
// client is used directly (beyond the streamer's live-edited message)
// to deliver generated image/HTML artifacts via SendPhoto/SendDocument.
func New(botID, ownerID string, st *store.Store, registry *adapter.Registry, strm *streamer.Streamer, client *telegram.Client, defaultModels map[string]string, defaultSandbox string) *Worker {
	return &Worker{
		botID:             botID,
		ownerID:           ownerID,
		store:             st,
		registry:          registry,
		streamer:          strm,
		client:            client,
		defaultModels:     defaultModels,
		defaultSandbox:    defaultSandbox,
		pollInterval:      DefaultPollInterval,
		leaseMs:           DefaultLeaseMs,
		heartbeatInterval: DefaultHeartbeatInterval,
		log:               slog.With("worker", "run_worker", "bot_id", botID),
		stopCh:            make(chan struct{}),
		sentArtifacts:     make(map[string]map[string]bool),
	}
}

// WithPollInterval overrides the idle poll interval.
func (w *Worker) WithPollInterval(d time.Duration) *Worker { w.pollInterval = d; return w }

// WithLeaseMs overrides the per-job lease duration.
func (w *Worker) WithLeaseMs(ms int64) *Worker { w.leaseMs = ms; return w }

// WithHeartbeatInterval overrides the heartbeat tick cadence.
func (w *Worker) WithHeartbeatInterval(d time.Duration) *Worker { w.heartbeatInterval = d; return w }

// Run blocks, polling for and processing run jobs until ctx is
// cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.runHeartbeat(ctx)
	}()
	defer func() { <-heartbeatDone }()

	w.log.Info("run worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("run worker stopping: context cancelled")
			return
		case <-w.stopCh:
			w.log.Info("run worker stopping")
			return
		default:
			processed, err := w.pollAndProcessOne(ctx)
			if err != nil {
				w.log.Error("run job processing error", "error", err)
				w.sleep(time.Second)
				continue
			}
			if !processed {
				w.sleep(w.pollInterval)
			}
		}
	}
}

// Stop signals the worker to stop and waits for Run to return.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			metrics.WorkerHeartbeat.WithLabelValues("run_worker").Set(float64(now.Unix()))
			if err := w.store.IncrementMetric(ctx, w.botID, metrics.HeartbeatKeyRunWorker, 1, now.UnixMilli()); err != nil {
				w.log.Warn("heartbeat metric write failed", "error", err)
			}
		}
	}
}

func (w *Worker) pollAndProcessOne(ctx context.Context) (bool, error) {
	now := time.Now().UnixMilli()
	job, err := w.store.LeaseNextRunJob(ctx, w.botID, w.ownerID, now, w.leaseMs)
	if errors.Is(err, store.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lease run job: %w", err)
	}

	log := w.log.With("job_id", job.ID, "turn_id", job.TurnID, "chat_id", job.ChatID)
	log.Info("run job leased")

	renewCtx, cancelRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		w.runLeaseRenewal(renewCtx, job.ID)
	}()

	w.processJob(ctx, job, log)

	cancelRenew()
	<-renewDone

	if promoted, err := w.store.PromoteNext(context.Background(), w.botID, job.ChatID, time.Now().UnixMilli()); err != nil {
		log.Warn("deferred promotion check failed", "error", err)
	} else if promoted != nil {
		log.Info("promoted deferred action", "action", promoted.ActionType, "deferred_action_id", promoted.ID)
	}

	return true, nil
}

func (w *Worker) runLeaseRenewal(ctx context.Context, jobID string) {
	interval := time.Duration(w.leaseMs/2) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			if err := w.store.RenewRunLease(context.Background(), jobID, w.ownerID, now, w.leaseMs); err != nil {
				w.log.Warn("run lease renewal failed", "job_id", jobID, "error", err)
				return
			}
		}
	}
}

// processJob executes one leased run job end to end, settling the job
// and turn terminally before returning. Every failure path settles the
// job as failed rather than propagating an error to the caller: a run
// job, once leased, always reaches a terminal status.
func (w *Worker) processJob(ctx context.Context, job *store.RunJob, log *slog.Logger) {
	now := time.Now().UnixMilli()

	turn, err := w.store.GetTurn(ctx, job.TurnID)
	if err != nil {
		w.failJob(ctx, job, "missing turn", log)
		return
	}
	session, err := w.store.GetSession(ctx, turn.SessionID)
	if err != nil {
		w.failJob(ctx, job, "missing session", log)
		return
	}

	if err := w.store.MarkInFlight(ctx, job.ID, turn.TurnID, now); err != nil {
		w.failJob(ctx, job, fmt.Sprintf("mark in_flight: %v", err), log)
		return
	}

	provider := session.AdapterName
	cliAdapter, err := w.registry.Get(provider)
	if err != nil {
		w.failJob(ctx, job, err.Error(), log)
		return
	}

	preamble := summary.BuildRecoveryPreamble(session.RollingSummary)
	selectedModel := models.ResolveSelected(provider, session.AdapterModel, w.defaultModels)
	selectedSandbox := ""
	if provider == "codex" {
		selectedSandbox = w.defaultSandbox
	}
	runStartedAt := time.Now()
	executionPrompt := augmentPromptForGenerationRequest(turn.UserText)

	shouldCancel := func() bool {
		cancelled, err := w.store.IsTurnCancelled(context.Background(), turn.TurnID)
		return err == nil && cancelled
	}

	req := adapter.RunRequest{
		Prompt:       executionPrompt,
		Model:        selectedModel,
		Sandbox:      selectedSandbox,
		Preamble:     preamble,
		ShouldCancel: shouldCancel,
	}

	var events <-chan adapter.Event
	var join <-chan error
	if session.AdapterThreadID != "" {
		events, join = cliAdapter.RunResume(adapter.ResumeRequest{RunRequest: req, ThreadID: session.AdapterThreadID})
	} else {
		events, join = cliAdapter.RunNew(req)
	}

	seq, err := w.store.GetTurnEventsCount(ctx, turn.TurnID)
	if err != nil {
		seq = 0
	}
	seq++

	var assistantParts []string
	var commandNotes []string
	threadID := ""
	completionStatus := "success"
	errorText := ""

	for ev := range events {
		ev.Seq = seq
		seq += w.persistAndStream(ctx, turn, job.BotID, ev, log)

		switch ev.Type {
		case adapter.AssistantMsg:
			if text, ok := ev.Payload["text"].(string); ok && strings.TrimSpace(text) != "" {
				assistantParts = append(assistantParts, text)
			}
		case adapter.CommandStarted, adapter.CommandComplete:
			if cmd, ok := ev.Payload["command"].(string); ok && cmd != "" {
				commandNotes = append(commandNotes, cmd)
			}
		case adapter.ThreadStarted:
			if tid := cliAdapter.ExtractThreadID(ev); tid != "" {
				threadID = tid
			}
		case adapter.TurnCompleted:
			if status, ok := ev.Payload["status"].(string); ok && status != "" {
				completionStatus = status
			}
		case adapter.Error:
			if errorText == "" {
				if msg, ok := ev.Payload["message"].(string); ok {
					errorText = msg
				}
			}
		}
	}

	if joinErr := <-join; joinErr != nil {
		log.Warn("adapter process join error", "error", joinErr)
	}

	cancelled, _ := w.store.IsTurnCancelled(ctx, turn.TurnID)
	if cancelled || completionStatus == "cancelled" {
		if err := w.store.CancelRun(ctx, job.ID, turn.TurnID, time.Now().UnixMilli()); err != nil {
			log.Error("mark run cancelled failed", "error", err)
		}
		w.streamer.CloseTurn(turn.TurnID)
		return
	}

	if threadID != "" {
		if err := w.store.SetThreadID(ctx, session.SessionID, threadID, time.Now().UnixMilli()); err != nil {
			log.Warn("persist thread id failed", "error", err)
		}
	}

	assistantText := strings.TrimSpace(strings.Join(assistantParts, "\n"))
	failed := completionStatus == "error" || (errorText != "" && assistantText == "")
	if failed {
		if errorText == "" {
			errorText = "adapter execution failed"
		}
		if err := w.store.FailRun(ctx, job.ID, turn.TurnID, sanitize.ErrorText(errorText), time.Now().UnixMilli()); err != nil {
			log.Error("mark run failed failed", "error", err)
		}
		metrics.ProviderRunFailed.WithLabelValues(provider).Inc()
		if err := w.store.IncrementMetric(ctx, job.BotID, "provider_run_failed."+provider, 1, time.Now().UnixMilli()); err != nil {
			log.Warn("increment provider failure metric failed", "error", err)
		}
	} else {
		if err := w.store.CompleteRun(ctx, job.ID, turn.TurnID, assistantText, time.Now().UnixMilli()); err != nil {
			log.Error("mark run completed failed", "error", err)
		}
		if chatID, chatErr := chatIDAsInt(turn.ChatID); chatErr == nil {
			shouldDeliver := assistantText != "" ||
				looksLikeImageRequest(turn.UserText) ||
				looksLikeHTMLRequest(turn.UserText)
			if shouldDeliver {
				w.deliverGeneratedArtifacts(ctx, turn, job.BotID, chatID, turn.UserText, assistantText, runStartedAt, log)
			}
		}
	}

	summaryMD := summary.Build(summary.Input{
		PreviousSummary: session.RollingSummary,
		UserText:        turn.UserText,
		AssistantText:   assistantText,
		CommandNotes:    commandNotes,
		ErrorText:       errorText,
	})
	nowFinal := time.Now().UnixMilli()
	if err := w.store.SetRollingSummary(ctx, session.SessionID, summaryMD, nowFinal); err != nil {
		log.Warn("set rolling summary failed", "error", err)
	}
	if err := w.store.SetLastTurnAt(ctx, session.SessionID, nowFinal); err != nil {
		log.Warn("set last turn at failed", "error", err)
	}

	w.streamer.CloseTurn(turn.TurnID)
}

// persistAndStream appends ev to the turn's event log and hands it to
// the streamer; a streaming failure is recorded as a synthetic
// delivery_error event at the next seq rather than failing the turn.
// It returns how many seq slots it consumed (1, or 2 when a
// delivery_error row was also persisted) so the caller's seq counter
// never collides with the next real adapter event.
func (w *Worker) persistAndStream(ctx context.Context, turn *store.Turn, botID string, ev adapter.Event, log *slog.Logger) int {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	now := time.Now().UnixMilli()
	if err := w.store.AppendEvent(ctx, turn.TurnID, botID, ev.Seq, ev.Type, string(payload), now); err != nil {
		if !errors.Is(err, store.ErrDuplicateEvent) {
			log.Warn("append event failed", "error", err, "seq", ev.Seq)
		}
	}

	chatID, err := chatIDAsInt(turn.ChatID)
	if err != nil {
		log.Warn("invalid chat id for streaming", "chat_id", turn.ChatID)
		return 1
	}
	if err := w.streamer.AppendEvent(ctx, turn.TurnID, chatID, ev); err != nil {
		log.Warn("stream delivery failed", "error", err, "seq", ev.Seq)
		delivErr := adapter.Event{
			Seq:       ev.Seq + 1,
			Timestamp: ev.Timestamp,
			Type:      adapter.DeliveryError,
			Payload:   map[string]any{"message": err.Error()},
		}
		payload, _ := json.Marshal(delivErr.Payload)
		if err := w.store.AppendEvent(ctx, turn.TurnID, botID, delivErr.Seq, delivErr.Type, string(payload), time.Now().UnixMilli()); err != nil {
			log.Warn("append delivery_error event failed", "error", err)
		}
		return 2
	}
	return 1
}

func (w *Worker) failJob(ctx context.Context, job *store.RunJob, errText string, log *slog.Logger) {
	now := time.Now().UnixMilli()
	if err := w.store.FailRun(ctx, job.ID, job.TurnID, sanitize.ErrorText(errText), now); err != nil {
		log.Error("fail run job failed", "error", err)
	}
	w.streamer.CloseTurn(job.TurnID)
}

func chatIDAsInt(chatID string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(chatID, "%d", &n)
	return n, err
}
