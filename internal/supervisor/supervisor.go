// Package supervisor implements the process-CLI fan-out named in
// spec.md §6: "supervisor restarts [children] with capped exponential
// backoff." Grounded on leapmux/internal/worker/hub's
// backoff.go/client.go reconnect loop, adapted from "reconnect an RPC
// stream" to "restart a child OS process".
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// resetThreshold is the run duration after which a clean restart resets
// the backoff interval back to its initial value, mirroring the
// teacher's reconnect-backoff reset rule.
const resetThreshold = 30 * time.Second

// newDefaultBackoff builds the 1s→60s, 2x multiplier, ±20% jitter
// exponential backoff the teacher's worker/hub package uses for hub
// reconnects, reused here for child-process restarts.
func newDefaultBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// ChildSpec describes one supervised child process: `exe args...`.
type ChildSpec struct {
	Name string
	Args []string
}

// Supervisor restarts each configured child process with capped
// exponential backoff until its context is cancelled.
type Supervisor struct {
	exe      string
	children []ChildSpec
	log      *slog.Logger
}

// New returns a Supervisor that launches exe with each child's Args.
func New(exe string, children []ChildSpec) *Supervisor {
	return &Supervisor{exe: exe, children: children, log: slog.With("component", "supervisor")}
}

// Run blocks, supervising every configured child until ctx is
// cancelled, then waits for all children to exit.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, child := range s.children {
		wg.Add(1)
		go func(c ChildSpec) {
			defer wg.Done()
			s.supervise(ctx, c)
		}(child)
	}
	wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, spec ChildSpec) {
	log := s.log.With("child", spec.Name)
	bo := newDefaultBackoff()

	for {
		start := time.Now()
		err := s.runOnce(ctx, spec, log)
		if ctx.Err() != nil {
			log.Info("child stopping: context cancelled")
			return
		}

		if time.Since(start) >= resetThreshold {
			bo.Reset()
		}

		interval := bo.NextBackOff()
		if err != nil {
			log.Warn("child exited with error, restarting", "error", err, "backoff", interval)
		} else {
			log.Warn("child exited, restarting", "backoff", interval)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, spec ChildSpec, log *slog.Logger) error {
	cmd := exec.CommandContext(ctx, s.exe, spec.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	log.Info("starting child", "args", spec.Args)
	return cmd.Run()
}
