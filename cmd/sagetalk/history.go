package main

import (
	"context"
	"fmt"

	"github.com/SocialNOT/AgainINDIA/internal/config"
	"github.com/SocialNOT/AgainINDIA/internal/history"
	"github.com/SocialNOT/AgainINDIA/internal/history/badger"
	"github.com/SocialNOT/AgainINDIA/internal/history/postgres"
)

// openHistory opens the turn store selected by cfg.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case config.HistoryMemory, "":
		return history.NewMemStore(), nil
	case config.HistoryPostgres:
		return postgres.New(ctx, cfg.PostgresDSN)
	case config.HistoryBadger:
		return badger.New(badger.Options{Dir: cfg.BadgerDir})
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
