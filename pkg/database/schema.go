package database

import (
	"context"
	"fmt"
)

// schema is applied at startup; every statement is idempotent
var schema = []string{
	`CREATE TABLE IF NOT EXISTS direct_calls (
		call_id UUID PRIMARY KEY,
		caller_id UUID NOT NULL,
		callee_id UUID NOT NULL,
		call_type STRING NOT NULL DEFAULT 'audio',
		status STRING NOT NULL DEFAULT 'ringing',
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		duration_seconds INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_calls_pair
		ON direct_calls (caller_id, callee_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_calls_callee
		ON direct_calls (callee_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS group_calls (
		call_id UUID PRIMARY KEY,
		group_id UUID NOT NULL,
		initiator_id UUID NOT NULL,
		call_type STRING NOT NULL DEFAULT 'audio',
		status STRING NOT NULL DEFAULT 'ringing',
		participants_accepted UUID[] NOT NULL DEFAULT ARRAY[]::UUID[],
		participants_active UUID[] NOT NULL DEFAULT ARRAY[]::UUID[],
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		duration_seconds INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_calls_group
		ON group_calls (group_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS groups (
		group_id UUID PRIMARY KEY,
		name STRING NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id UUID NOT NULL REFERENCES groups (group_id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON group_members (user_id)`,
}

// Migrate creates the call-log and group tables if they do not exist
func (db *CockroachDB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
