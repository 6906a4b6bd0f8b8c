// Package db opens the Postgres pool (pgx through database/sql) and applies
// the embedded goose migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/spf13/viper"

	"docpipe-backend/internal/shared/telemetry"
)

const (
	driverName         = "pgx"
	defaultPingTimeout = 5 * time.Second
	healthPingTimeout  = 2 * time.Second
)

// Options sizes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

var openDB = sql.Open

// DefaultLambdaOptions keeps each Lambda sandbox to a couple of connections.
func DefaultLambdaOptions() Options {
	return Options{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 15 * time.Minute,
		PingTimeout:     3 * time.Second,
	}
}

// DefaultWorkerOptions gives every job goroutine one connection plus two for
// the sweeper and health checks.
func DefaultWorkerOptions(concurrency int) Options {
	open := max(concurrency, 1) + 2
	return Options{
		MaxOpenConns:    open,
		MaxIdleConns:    max(open/2, 1),
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     defaultPingTimeout,
	}
}

// DefaultMigrateOptions is a single connection for cmd/migrate.
func DefaultMigrateOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     defaultPingTimeout,
	}
}

// OptionsFromEnv applies DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS,
// DB_CONN_MAX_LIFETIME, DB_CONN_MAX_IDLE_TIME and DB_PING_TIMEOUT over base.
// Durations accept Go syntax or bare seconds.
func OptionsFromEnv(base Options) Options {
	v := viper.New()
	v.AutomaticEnv()

	opts := base
	if n, ok := envInt(v, "DB_MAX_OPEN_CONNS"); ok {
		opts.MaxOpenConns = n
	}
	if n, ok := envInt(v, "DB_MAX_IDLE_CONNS"); ok {
		opts.MaxIdleConns = n
	}
	if d, ok := envDuration(v, "DB_CONN_MAX_LIFETIME"); ok {
		opts.ConnMaxLifetime = d
	}
	if d, ok := envDuration(v, "DB_CONN_MAX_IDLE_TIME"); ok {
		opts.ConnMaxIdleTime = d
	}
	if d, ok := envDuration(v, "DB_PING_TIMEOUT"); ok {
		opts.PingTimeout = d
	}
	return opts
}

// Connect opens a pool and pings it within opts.PingTimeout.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	database, err := openDB(driverName, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	configurePool(database, opts)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := database.Stats()
	telemetry.Info("db.connected", map[string]any{
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"idle":     stats.Idle,
	})
	return database, nil
}

// WithTx runs fn in a transaction. fn's error (or a panic) rolls back.
func WithTx(ctx context.Context, database *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping is the health check for the pool.
func Ping(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return fmt.Errorf("database not configured")
	}
	pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return database.PingContext(pingCtx)
}

func configurePool(database *sql.DB, opts Options) {
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	database.SetMaxOpenConns(positiveOr(opts.MaxOpenConns, 10))
	database.SetMaxIdleConns(positiveOr(opts.MaxIdleConns, 5))
	database.SetConnMaxLifetime(lifetime)
	if opts.ConnMaxIdleTime > 0 {
		database.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func envInt(v *viper.Viper, key string) (int, bool) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		telemetry.Warn("db.config_invalid", map[string]any{"key": key, "value": raw})
		return 0, false
	}
	return n, true
}

func envDuration(v *viper.Viper, key string) (time.Duration, bool) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		telemetry.Warn("db.config_invalid", map[string]any{"key": key, "value": raw})
		return 0, false
	}
	return d, true
}
