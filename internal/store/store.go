// Package store is the Postgres persistence layer: one repository method
// per entity operation, raw database/sql plus lib/pq, no ORM.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps a connection pool shared by every repository method below.
type Store struct {
	db *sql.DB
}

// Open connects to dbURL and verifies it with a bounded ping.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewForTesting wraps an already-open *sql.DB (typically a sqlmock
// connection) as a Store, bypassing Open's dial-and-ping.
func NewForTesting(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the raw pool for callers that need a transaction spanning
// several repository calls (the planner's commit, in particular).
func (s *Store) DB() *sql.DB {
	return s.db
}
