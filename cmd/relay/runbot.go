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
	"github.com/agentrelay/relay/internal/ingest"
	"github.com/agentrelay/relay/internal/logging"
)

// runBot implements spec.md §6's "run-bot --bot-id X [--embedded-host
// --embedded-port]" subcommand: the full worker stack for one
// mode=embedded bot, long-polling Telegram for updates itself rather
// than relying on a shared webhook listener.
func runBot(args []string) error {
	fs := flag.NewFlagSet("run-bot", flag.ExitOnError)
	botID := fs.String("bot-id", "", "bot_id to serve, per the config file")
	configPath := fs.String("config", "", "path to the bots YAML config file")
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory")
	embeddedHost := fs.String("embedded-host", "127.0.0.1", "health/metrics listen host")
	embeddedPort := fs.String("embedded-port", "0", "health/metrics listen port (0 disables the listener)")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}
	if *botID == "" {
		return fmt.Errorf("run-bot: --bot-id is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bot, ok := cfg.Get(*botID)
	if !ok {
		return fmt.Errorf("run-bot: bot %q not found in config", *botID)
	}
	if bot.Mode == "gateway" {
		return fmt.Errorf("run-bot: bot %q is mode=gateway, served by run-gateway instead", *botID)
	}

	addr := *embeddedHost + ":" + *embeddedPort
	logging.PrintBanner("run-bot", version, addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := buildBotStack(ctx, bot, *dataDir, "run-bot:"+*botID)
	if err != nil {
		return err
	}
	defer stack.Close()

	poller := ingest.NewPoller(*botID, stack.client, stack.store)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); poller.Run(ctx) }()
	go func() { defer wg.Done(); stack.ingest.Run(ctx) }()
	go func() { defer wg.Done(); stack.run.Run(ctx) }()

	if *embeddedPort != "0" {
		healthSrv := admin.NewHealthServer(addr, stack.store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthSrv.Serve(ctx); err != nil {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	poller.Stop()
	stack.ingest.Stop()
	stack.run.Stop()
	wg.Wait()
	return nil
}
