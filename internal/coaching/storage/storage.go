// Package storage owns the PostgreSQL connection shared by the coaching
// stores and the schema bootstrap run at startup.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/profiles"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/suggestions"
	"github.com/pathwise/pathwise/internal/coaching/understanding"
	"github.com/pathwise/pathwise/internal/coaching/wins"
)

// Connect opens the PostgreSQL connection pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, maxConnections int) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(databaseURL)))
	sqldb.SetMaxOpenConns(maxConnections)
	sqldb.SetMaxIdleConns(maxConnections / 2)
	sqldb.SetConnMaxLifetime(time.Hour)

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// CreateTables creates every coaching table that does not exist yet.
func CreateTables(ctx context.Context, db *bun.DB) error {
	models := []interface{}{
		(*sessions.SessionSchema)(nil),
		(*sessions.MessageSchema)(nil),
		(*understanding.UnderstandingSchema)(nil),
		(*suggestions.SuggestionSetSchema)(nil),
		(*focusareas.FocusAreaSchema)(nil),
		(*wins.WinSchema)(nil),
		(*profiles.ProfileSchema)(nil),
	}

	for _, model := range models {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for model %T: %w", model, err)
		}
	}

	return nil
}

// CreateIndexes applies the per-package index DDL. Every statement is
// IF NOT EXISTS, so reapplying on every boot is safe.
func CreateIndexes(ctx context.Context, db *bun.DB) error {
	allIndexes := append([]string{}, sessions.SessionIndexes...)
	allIndexes = append(allIndexes, understanding.UnderstandingIndexes...)
	allIndexes = append(allIndexes, suggestions.SuggestionIndexes...)
	allIndexes = append(allIndexes, focusareas.FocusAreaIndexes...)
	allIndexes = append(allIndexes, wins.WinIndexes...)
	allIndexes = append(allIndexes, profiles.ProfileIndexes...)

	for _, indexSQL := range allIndexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index with SQL %q: %w", indexSQL, err)
		}
	}

	return nil
}

// Migrate runs table and index creation in order.
func Migrate(ctx context.Context, db *bun.DB) error {
	if err := CreateTables(ctx, db); err != nil {
		return err
	}
	return CreateIndexes(ctx, db)
}

// HealthCheck reports whether the database connection is usable.
func HealthCheck(ctx context.Context, db *bun.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}
