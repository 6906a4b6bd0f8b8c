package db

import (
	"context"
	"database/sql"
	"sync"

	"docpipe-backend/internal/shared/telemetry"
)

// shared is the pool reused across Lambda invocations in one sandbox.
var shared struct {
	mu sync.Mutex
	db *sql.DB
}

// GetSingleton returns the sandbox-wide pool, connecting on first use.
// Concurrent callers wait for the first connect; a failed connect is retried
// by the next call.
func GetSingleton(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.db != nil {
		return shared.db, nil
	}
	database, err := Connect(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	shared.db = database
	telemetry.Info("db.singleton_init", nil)
	return database, nil
}

