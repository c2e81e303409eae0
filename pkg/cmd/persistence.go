// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/persistence/memory"
	"github.com/pipecast/pipecast/pkg/persistence/postgresql"
)

// NewPersistence selects the store from the database URL scheme. Anything
// that is not postgres falls back to the in-memory store, which is only
// suitable for development and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to postgres: %w", err))
		}

		return persist
	default:
		logger.Warn("Using in-memory persistence, data will not survive restarts")

		return memory.NewPersistence()
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	return scheme
}
