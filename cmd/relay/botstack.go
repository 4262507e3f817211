package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agentrelay/relay/internal/adapter"
	"github.com/agentrelay/relay/internal/command"
	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/ingest"
	"github.com/agentrelay/relay/internal/run"
	"github.com/agentrelay/relay/internal/search"
	"github.com/agentrelay/relay/internal/session"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/streamer"
	"github.com/agentrelay/relay/internal/telegram"
	"github.com/agentrelay/relay/internal/token"
)

// botStack is everything one configured bot needs to process updates
// and runs, minus whatever decides how updates arrive (polling vs.
// webhook — that's runbot.go's and rungateway.go's job respectively).
type botStack struct {
	store   *store.Store
	client  *telegram.Client
	handler *command.Handler
	ingest  *ingest.Worker
	run     *run.Worker
}

// buildBotStack opens bot's database and wires every internal package
// the run/ingest workers and command handler depend on. ownerID is the
// lease-owner identity the workers record on jobs they claim; callers
// derive it from their subcommand name and the bot's id.
func buildBotStack(ctx context.Context, bot *config.Bot, dataDir, ownerID string) (*botStack, error) {
	dbPath := bot.DatabaseURL
	if dbPath == "" {
		dbPath = defaultBotDBPath(dataDir, bot.BotID)
	}
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store for bot %s: %w", bot.BotID, err)
	}

	if err := st.UpsertBot(ctx, store.Bot{
		BotID:       bot.BotID,
		Name:        bot.Name,
		Mode:        bot.Mode,
		OwnerUserID: bot.OwnerUserID,
		AdapterName: bot.Adapter,
	}, time.Now().UnixMilli()); err != nil {
		st.Close()
		return nil, fmt.Errorf("register bot %s: %w", bot.BotID, err)
	}

	client := telegram.New(bot.TelegramToken)
	sessions := session.New(st)
	tokens := token.New(st)
	youtube := search.New(10 * time.Second)
	registry := adapter.NewRegistry("codex", "gemini", "claude", bot.DefaultModels())

	identity := command.BotIdentity{
		BotID:         bot.BotID,
		BotName:       bot.Name,
		Adapter:       bot.Adapter,
		OwnerUserID:   bot.OwnerUserID,
		DefaultModels: bot.DefaultModels(),
	}
	handler := command.New(identity, client, sessions, st, tokens, youtube, registry)

	strm := streamer.New(client)
	runWorker := run.New(bot.BotID, ownerID, st, registry, strm, client, bot.DefaultModels(), "workspace-write")
	ingestWorker := ingest.New(bot.BotID, ownerID, st, handler)

	return &botStack{
		store:   st,
		client:  client,
		handler: handler,
		ingest:  ingestWorker,
		run:     runWorker,
	}, nil
}

// Close releases the bot's store handle; the workers themselves are
// stopped separately via their own Stop methods.
func (b *botStack) Close() error {
	return b.store.Close()
}
