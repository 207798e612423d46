// Package db opens the PostgreSQL pool used by the server.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// driverName is a seam for tests.
var driverName = "pgx"

// Options tune the connection pool and the startup wait.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxIdle  time.Duration
	// ConnectTimeout bounds how long Open waits for the database to accept
	// connections, e.g. while its container is still starting.
	ConnectTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxOpenConns:   25,
		MaxIdleConns:   5,
		ConnMaxIdle:    5 * time.Minute,
		ConnectTimeout: 30 * time.Second,
	}
}

// Open returns a pool that answered a ping, retrying with exponential
// backoff until opts.ConnectTimeout elapses.
func Open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxIdleTime(opts.ConnMaxIdle)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(opts.ConnectTimeout))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}
