// Package dbtest opens isolated in-memory sqlite databases carrying the escrow
// schema, for package tests that exercise real SQL.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE deposits (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		renter TEXT NOT NULL,
		landlord TEXT NOT NULL,
		amount TEXT NOT NULL,
		token TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		funding_tx_hash TEXT,
		funding_source TEXT,
		dispute_id TEXT,
		created_at DATETIME NOT NULL,
		funded_at DATETIME,
		release_window_ends_at DATETIME,
		released_at DATETIME,
		resolved_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_deposits_funding_tx ON deposits (funding_tx_hash) WHERE funding_tx_hash IS NOT NULL`,
	`CREATE TABLE disputes (
		id TEXT PRIMARY KEY,
		deposit_id TEXT NOT NULL,
		raised_by TEXT NOT NULL,
		raised_by_role TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		resolution TEXT,
		renter_share TEXT,
		landlord_share TEXT,
		arbiter TEXT,
		raised_at DATETIME NOT NULL,
		reviewed_at DATETIME,
		resolved_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_disputes_active_deposit ON disputes (deposit_id) WHERE status IN ('open', 'under_review')`,
	`CREATE TABLE payouts (
		id TEXT PRIMARY KEY,
		deposit_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		recipient_role TEXT NOT NULL,
		amount TEXT NOT NULL,
		token TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		settled_at DATETIME,
		UNIQUE (deposit_id, recipient_role)
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at DATETIME
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		deposit_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		read_at DATETIME,
		created_at DATETIME NOT NULL,
		UNIQUE (event_id, recipient)
	)`,
}

// Open returns a fresh database with the escrow schema. Each call gets its own
// named in-memory database, pinned to a single connection so concurrent
// callers serialise the way row locks would on postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
