package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Herald store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
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
    schema          JSONB,
    schema_version  TEXT NOT NULL DEFAULT '',
    version         TEXT NOT NULL DEFAULT '',
    example         JSONB,
    is_deprecated   BOOLEAN NOT NULL DEFAULT FALSE,
    deprecated_at   TIMESTAMPTZ,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
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
    event_types     TEXT[] NOT NULL DEFAULT '{}',
    headers         JSONB NOT NULL DEFAULT '{}',
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    rate_limit      INT NOT NULL DEFAULT 0,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_workspace ON herald_subscriptions (workspace_id);
CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_installation ON herald_subscriptions (installation_id) WHERE installation_id != '';
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
    uninstalled_at  TIMESTAMPTZ,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_herald_installations_workspace ON herald_installations (workspace_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_installations_app_workspace ON herald_installations (app_id, workspace_id) WHERE state != 'uninstalled';
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
    subscription_id  TEXT NOT NULL DEFAULT '',
    event_id         TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    workspace_id     TEXT NOT NULL DEFAULT '',
    payload          JSONB,
    attempts         INT NOT NULL DEFAULT 0,
    last_attempt_at  TIMESTAMPTZ,
    last_status_code INT NOT NULL DEFAULT 0,
    last_response    TEXT NOT NULL DEFAULT '',
    last_error       TEXT NOT NULL DEFAULT '',
    last_signature   TEXT NOT NULL DEFAULT '',
    next_attempt_at  TIMESTAMPTZ,
    delivered_at     TIMESTAMPTZ,
    failed_at        TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_records_pair ON herald_records (subscription_id, event_id);
CREATE INDEX IF NOT EXISTS idx_herald_records_due ON herald_records (next_attempt_at) WHERE delivered_at IS NULL AND failed_at IS NULL;
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
    record_id        TEXT NOT NULL DEFAULT '',
    event_id         TEXT NOT NULL DEFAULT '',
    subscription_id  TEXT NOT NULL DEFAULT '',
    workspace_id     TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL DEFAULT '',
    payload          JSONB,
    error            TEXT NOT NULL DEFAULT '',
    attempts         INT NOT NULL DEFAULT 0,
    last_status_code INT NOT NULL DEFAULT 0,
    replayed_at      TIMESTAMPTZ,
    failed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_herald_dlq_workspace ON herald_dlq (workspace_id);
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
