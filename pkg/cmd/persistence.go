// Package cmd provides common initialization for the command-line entry
// points.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/devsecflow/secpipe/pkg/persistence"
	"github.com/devsecflow/secpipe/pkg/persistence/file"
	"github.com/devsecflow/secpipe/pkg/persistence/postgresql"
)

// NewPersistence selects the store from the URL scheme: postgres URLs get
// the SQL store, anything else is treated as a filesystem root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
