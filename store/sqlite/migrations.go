package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Herald store (SQLite).
var Migrations = migrate.NewGroup("herald")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_herald_event_types",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_event_types (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    group_name      TEXT NOT NULL DEFAULT '',
    schema          TEXT,
    schema_version  TEXT NOT NULL DEFAULT '',
    version         TEXT NOT NULL DEFAULT '',
    example         TEXT,
    is_deprecated   INTEGER NOT NULL DEFAULT 0,
    deprecated_at   TEXT,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_event_types_group ON herald_event_types (group_name);
CREATE INDEX IF NOT EXISTS idx_herald_event_types_created ON herald_event_types (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_event_types`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_subscriptions",
			Version: "20250601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_subscriptions (
    id              TEXT PRIMARY KEY,
    workspace_id    TEXT NOT NULL DEFAULT '',
    app_id          TEXT NOT NULL DEFAULT '',
    installation_id TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    secret          TEXT NOT NULL DEFAULT '',
    event_types     TEXT NOT NULL DEFAULT '[]',
    headers         TEXT NOT NULL DEFAULT '{}',
    active          INTEGER NOT NULL DEFAULT 1,
    rate_limit      INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_workspace ON herald_subscriptions (workspace_id);
CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_installation ON herald_subscriptions (installation_id);
CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_active ON herald_subscriptions (workspace_id, active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_installations",
			Version: "20250601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_installations (
    id              TEXT PRIMARY KEY,
    app_id          TEXT NOT NULL DEFAULT '',
    workspace_id    TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL DEFAULT 'active',
    installed_by    TEXT NOT NULL DEFAULT '',
    uninstalled_at  TEXT,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_installations_workspace ON herald_installations (workspace_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_installations_app_workspace
    ON herald_installations (app_id, workspace_id) WHERE state != 'uninstalled';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_installations`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_records",
			Version: "20250601000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_records (
    id               TEXT PRIMARY KEY,
    subscription_id  TEXT NOT NULL,
    event_id         TEXT NOT NULL,
    event_type       TEXT NOT NULL DEFAULT '',
    workspace_id     TEXT NOT NULL DEFAULT '',
    payload          TEXT,
    attempts         INTEGER NOT NULL DEFAULT 0,
    last_attempt_at  TEXT,
    last_status_code INTEGER NOT NULL DEFAULT 0,
    last_response    TEXT NOT NULL DEFAULT '',
    last_error       TEXT NOT NULL DEFAULT '',
    last_signature   TEXT NOT NULL DEFAULT '',
    next_attempt_at  TEXT,
    delivered_at     TEXT,
    failed_at        TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_records_pair ON herald_records (subscription_id, event_id);
CREATE INDEX IF NOT EXISTS idx_herald_records_due
    ON herald_records (next_attempt_at) WHERE delivered_at IS NULL AND failed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_herald_records_subscription ON herald_records (subscription_id, created_at);
CREATE INDEX IF NOT EXISTS idx_herald_records_event ON herald_records (event_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_records`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_dlq",
			Version: "20250601000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_dlq (
    id               TEXT PRIMARY KEY,
    record_id        TEXT NOT NULL,
    event_id         TEXT NOT NULL,
    subscription_id  TEXT NOT NULL,
    workspace_id     TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL DEFAULT '',
    payload          TEXT,
    error            TEXT NOT NULL DEFAULT '',
    attempts         INTEGER NOT NULL DEFAULT 0,
    last_status_code INTEGER NOT NULL DEFAULT 0,
    replayed_at      TEXT,
    failed_at        TEXT NOT NULL,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_dlq_workspace ON herald_dlq (workspace_id, failed_at);
CREATE INDEX IF NOT EXISTS idx_herald_dlq_subscription ON herald_dlq (subscription_id);
CREATE INDEX IF NOT EXISTS idx_herald_dlq_failed ON herald_dlq (failed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_dlq`)
				return err
			},
		},
	)
}
