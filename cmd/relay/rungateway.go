package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/agentrelay/relay/internal/admin"
	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/logging"
	"github.com/agentrelay/relay/internal/store"
)

// runGateway implements the run-gateway subcommand. Its listen address
// is a single --addr host:port flag; separate --host and --port flags
// are not accepted. It runs one shared webhook/health/metrics HTTP server for every
// mode=gateway bot, each still running its own ingest+run worker pair
// against its own store, fed by the webhook handler's InsertUpdate
// calls instead of a long-poll loop.
func runGateway(args []string) error {
	fs := flag.NewFlagSet("run-gateway", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "webhook/health/metrics listen address")
	configPath := fs.String("config", "", "path to the bots YAML config file")
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	logging.PrintBanner("run-gateway", version, *addr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stacks []*botStack
	stores := make(map[string]*store.Store)
	defer func() {
		for _, s := range stacks {
			_ = s.Close()
		}
	}()

	for i := range cfg.Bots {
		bot := &cfg.Bots[i]
		if bot.Mode != "gateway" {
			continue
		}
		stack, err := buildBotStack(ctx, bot, *dataDir, "run-gateway:"+bot.BotID)
		if err != nil {
			return fmt.Errorf("build stack for bot %s: %w", bot.BotID, err)
		}
		stacks = append(stacks, stack)
		stores[bot.BotID] = stack.store
	}
	if len(stacks) == 0 {
		return fmt.Errorf("run-gateway: no mode=gateway bots configured")
	}

	var wg sync.WaitGroup
	for _, stack := range stacks {
		wg.Add(2)
		go func(s *botStack) { defer wg.Done(); s.ingest.Run(ctx) }(stack)
		go func(s *botStack) { defer wg.Done(); s.run.Run(ctx) }(stack)
	}

	srv := admin.NewServer(*addr, cfg, stores)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil {
			slog.Error("gateway server error", "error", err)
		}
	}()

	<-ctx.Done()
	for _, stack := range stacks {
		stack.ingest.Stop()
		stack.run.Stop()
	}
	wg.Wait()
	return nil
}
