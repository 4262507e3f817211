package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/logging"
	"github.com/agentrelay/relay/internal/supervisor"
)

// runSupervisor implements spec.md §6's "supervisor" subcommand: fan out
// one `run-bot --bot-id X` child per mode=embedded bot, plus a single
// `run-gateway` child if any bot is mode=gateway, restarting each with
// capped exponential backoff on exit.
func runSupervisor(args []string) error {
	fs := flag.NewFlagSet("supervisor", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the bots YAML config file")
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory")
	gatewayAddr := fs.String("gateway-addr", ":8080", "listen address for the run-gateway child, if any bot uses mode=gateway")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	logging.PrintBanner("supervisor", version, *gatewayAddr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}

	// Each mode=embedded bot gets its own long-polling run-bot child.
	// mode=gateway bots share a single run-gateway child instead, since
	// it owns the webhook HTTP surface those bots' updates arrive on.
	var children []supervisor.ChildSpec
	hasGateway := false
	for _, bot := range cfg.Bots {
		if bot.Mode == "gateway" {
			hasGateway = true
			continue
		}
		args := []string{"run-bot", "--bot-id", bot.BotID, "--data-dir", *dataDir}
		if *configPath != "" {
			args = append(args, "--config", *configPath)
		}
		children = append(children, supervisor.ChildSpec{Name: "run-bot:" + bot.BotID, Args: args})
	}
	if hasGateway {
		args := []string{"run-gateway", "--addr", *gatewayAddr, "--data-dir", *dataDir}
		if *configPath != "" {
			args = append(args, "--config", *configPath)
		}
		children = append(children, supervisor.ChildSpec{Name: "run-gateway", Args: args})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor.New(exe, children).Run(ctx)
	return nil
}
