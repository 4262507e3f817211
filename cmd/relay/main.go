package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agentrelay/relay/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: relay [supervisor|run-bot|run-gateway|version] [flags]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "supervisor":
		if err := runSupervisor(os.Args[2:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	case "run-bot":
		if err := runBot(os.Args[2:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	case "run-gateway":
		if err := runGateway(os.Args[2:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "usage: relay [supervisor|run-bot|run-gateway|version] [flags]")
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".relay")
	}
	return filepath.Join(home, ".config", "relay")
}

func defaultBotDBPath(dataDir, botID string) string {
	return filepath.Join(dataDir, botID+".db")
}
