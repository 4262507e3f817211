// Package ingest runs the polling loop that turns leased
// telegram_update_jobs into dispatched IncomingUpdates. Grounded on
// tarsy's pkg/queue/worker.go run loop
// (select{stopCh,ctx.Done,default: pollAndProcess}), adapted from
// session-claim-and-execute to update-lease-and-dispatch.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/sanitize"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/telegram"
)

// Handler dispatches one parsed update. Satisfied by *command.Handler;
// kept as an interface so tests can stub it without a live Telegram client.
type Handler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update, nowMs int64) error
}

// Defaults per spec.md §4.3/§4.2.
const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultLeaseMs           = 30_000
	DefaultHeartbeatInterval = 5 * time.Second
)

// Worker leases and processes telegram_update_jobs for one bot.
type Worker struct {
	botID   string
	ownerID string
	store   *store.Store
	handler Handler

	pollInterval      time.Duration
	leaseMs           int64
	heartbeatInterval time.Duration

	log *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns a Worker with default timings; use the With* options to
// override them (mainly for tests).
func New(botID, ownerID string, st *store.Store, handler Handler) *Worker {
	return &Worker{
		botID:             botID,
		ownerID:           ownerID,
		store:             st,
		handler:           handler,
		pollInterval:      DefaultPollInterval,
		leaseMs:           DefaultLeaseMs,
		heartbeatInterval: DefaultHeartbeatInterval,
		log:               slog.With("worker", "update_worker", "bot_id", botID),
		stopCh:            make(chan struct{}),
	}
}

// WithPollInterval overrides the idle poll interval.
func (w *Worker) WithPollInterval(d time.Duration) *Worker { w.pollInterval = d; return w }

// WithLeaseMs overrides the per-job lease duration.
func (w *Worker) WithLeaseMs(ms int64) *Worker { w.leaseMs = ms; return w }

// WithHeartbeatInterval overrides the heartbeat tick cadence.
func (w *Worker) WithHeartbeatInterval(d time.Duration) *Worker { w.heartbeatInterval = d; return w }

// Run blocks, polling for and processing update jobs until ctx is
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

	w.log.Info("ingest worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("ingest worker stopping: context cancelled")
			return
		case <-w.stopCh:
			w.log.Info("ingest worker stopping")
			return
		default:
			processed, err := w.pollAndProcessOne(ctx)
			if err != nil {
				w.log.Error("ingest job processing error", "error", err)
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
			metrics.WorkerHeartbeat.WithLabelValues("update_worker").Set(float64(now.Unix()))
			if err := w.store.IncrementMetric(ctx, w.botID, metrics.HeartbeatKeyUpdateWorker, 1, now.UnixMilli()); err != nil {
				w.log.Warn("heartbeat metric write failed", "error", err)
			}
		}
	}
}

// pollAndProcessOne leases and dispatches at most one job, reporting
// whether a job was found.
func (w *Worker) pollAndProcessOne(ctx context.Context) (bool, error) {
	now := time.Now().UnixMilli()
	job, err := w.store.LeaseNextUpdateJob(ctx, w.botID, w.ownerID, now, w.leaseMs)
	if errors.Is(err, store.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lease update job: %w", err)
	}

	log := w.log.With("job_id", job.ID, "update_id", job.UpdateID)
	log.Info("update job leased")

	renewCtx, cancelRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		w.runLeaseRenewal(renewCtx, job.ID)
	}()

	err = w.process(ctx, job)

	cancelRenew()
	<-renewDone

	finishNow := time.Now().UnixMilli()
	if err != nil {
		log.Error("update job failed", "error", err)
		if failErr := w.store.FailUpdateJob(context.Background(), job.ID, sanitize.ErrorText(err.Error())); failErr != nil {
			return true, fmt.Errorf("mark update job failed: %w", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteUpdateJob(context.Background(), job.ID); err != nil {
		return true, fmt.Errorf("complete update job: %w", err)
	}
	log.Info("update job completed", "duration_ms", finishNow-now)
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
			if err := w.store.RenewUpdateLease(context.Background(), jobID, w.ownerID, now, w.leaseMs); err != nil {
				w.log.Warn("update lease renewal failed", "job_id", jobID, "error", err)
				return
			}
		}
	}
}

// process loads the job's raw payload, parses it, and dispatches it to
// the command handler.
func (w *Worker) process(ctx context.Context, job *store.UpdateJob) error {
	payloadJSON, _, err := w.store.GetUpdate(ctx, w.botID, job.UpdateID)
	if err != nil {
		return fmt.Errorf("load update payload: %w", err)
	}

	var upd telegram.Update
	if err := json.Unmarshal([]byte(payloadJSON), &upd); err != nil {
		return fmt.Errorf("parse update payload: %w", err)
	}

	if err := w.handler.HandleUpdate(ctx, upd, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("handle update: %w", err)
	}
	return nil
}
