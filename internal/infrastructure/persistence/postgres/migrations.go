// Package postgres implements the Persistence Gateway (C1).
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE OWNERS AND BOT INSTANCES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS owners (
    user_id BIGINT PRIMARY KEY,
    username VARCHAR(64),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS bot_instances (
    id BIGSERIAL PRIMARY KEY,
    owner_user_id BIGINT NOT NULL REFERENCES owners(user_id) ON DELETE CASCADE,
    bot_id BIGINT NOT NULL,
    bot_username VARCHAR(64) NOT NULL,
    display_name VARCHAR(100),
    token_ciphertext BYTEA NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    deleted_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT uq_bot_instances_bot_id UNIQUE (bot_id)
);

CREATE INDEX IF NOT EXISTS idx_bot_instances_owner ON bot_instances(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_bot_instances_active ON bot_instances(is_active) WHERE deleted_at IS NULL;
`

const migration001Down = `
DROP TABLE IF EXISTS bot_instances;
DROP TABLE IF EXISTS owners;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PROTECTED GROUPS, ENFORCED CHANNELS, AND LINKS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS protected_groups (
    id BIGSERIAL PRIMARY KEY,
    group_id BIGINT NOT NULL,
    owner_user_id BIGINT NOT NULL REFERENCES owners(user_id) ON DELETE CASCADE,
    bot_instance_id BIGINT NOT NULL REFERENCES bot_instances(id) ON DELETE CASCADE,
    title VARCHAR(255) NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    params JSONB NOT NULL DEFAULT '{}'::jsonb,
    member_count INTEGER NOT NULL DEFAULT 0,
    last_sync_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_protected_groups_bot_group UNIQUE (bot_instance_id, group_id)
);

CREATE INDEX IF NOT EXISTS idx_protected_groups_owner ON protected_groups(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_protected_groups_bot ON protected_groups(bot_instance_id);
CREATE INDEX IF NOT EXISTS idx_protected_groups_enabled ON protected_groups(enabled) WHERE enabled;

CREATE TABLE IF NOT EXISTS enforced_channels (
    id BIGSERIAL PRIMARY KEY,
    channel_id BIGINT NOT NULL,
    bot_instance_id BIGINT NOT NULL REFERENCES bot_instances(id) ON DELETE CASCADE,
    title VARCHAR(255) NOT NULL DEFAULT '',
    username VARCHAR(64),
    invite_link VARCHAR(255),
    subscriber_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_enforced_channels_bot_channel UNIQUE (bot_instance_id, channel_id)
);

CREATE INDEX IF NOT EXISTS idx_enforced_channels_bot ON enforced_channels(bot_instance_id);

CREATE TABLE IF NOT EXISTS group_channel_links (
    group_id BIGINT NOT NULL REFERENCES protected_groups(id) ON DELETE CASCADE,
    channel_id BIGINT NOT NULL REFERENCES enforced_channels(id) ON DELETE CASCADE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (group_id, channel_id)
);

CREATE INDEX IF NOT EXISTS idx_group_channel_links_channel ON group_channel_links(channel_id);
`

const migration002Down = `
DROP TABLE IF EXISTS group_channel_links;
DROP TABLE IF EXISTS enforced_channels;
DROP TABLE IF EXISTS protected_groups;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE ADMIN COMMANDS AND BOT STATUS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS admin_commands (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    bot_instance_id BIGINT NOT NULL REFERENCES bot_instances(id) ON DELETE CASCADE,
    type VARCHAR(30) NOT NULL,
    payload JSONB NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    error TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    claimed_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_command_type CHECK (type IN ('ban_user', 'unban_user', 'resync_group', 'resync_channel', 'send_message')),
    CONSTRAINT valid_command_status CHECK (status IN ('pending', 'processing', 'completed', 'failed'))
);

CREATE INDEX IF NOT EXISTS idx_admin_commands_pending
    ON admin_commands(bot_instance_id, created_at)
    WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_admin_commands_stale_processing
    ON admin_commands(claimed_at)
    WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS bot_statuses (
    bot_instance_id BIGINT PRIMARY KEY REFERENCES bot_instances(id) ON DELETE CASCADE,
    status VARCHAR(20) NOT NULL DEFAULT 'starting',
    started_at TIMESTAMP WITH TIME ZONE,
    last_heartbeat TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    uptime_seconds BIGINT NOT NULL DEFAULT 0,
    last_error TEXT,

    CONSTRAINT valid_bot_status CHECK (status IN ('starting', 'running', 'stopping', 'stopped', 'crashed', 'restarting'))
);
`

const migration003Down = `
DROP TABLE IF EXISTS bot_statuses;
DROP TABLE IF EXISTS admin_commands;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE APPEND-ONLY LOG TABLES
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS verification_logs (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    group_id BIGINT NOT NULL,
    channel_id BIGINT NOT NULL DEFAULT 0,
    bot_instance_id BIGINT NOT NULL REFERENCES bot_instances(id) ON DELETE CASCADE,
    status VARCHAR(20) NOT NULL,
    latency_ms BIGINT NOT NULL DEFAULT 0,
    cached BOOLEAN NOT NULL DEFAULT FALSE,
    error_type VARCHAR(50),
    "timestamp" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_verdict_status CHECK (status IN ('verified', 'restricted', 'error'))
);

CREATE INDEX IF NOT EXISTS idx_verification_logs_bot_time ON verification_logs(bot_instance_id, "timestamp" DESC);
CREATE INDEX IF NOT EXISTS idx_verification_logs_time ON verification_logs("timestamp");

CREATE TABLE IF NOT EXISTS api_call_logs (
    id BIGSERIAL PRIMARY KEY,
    method VARCHAR(50) NOT NULL,
    bot_instance_id BIGINT NOT NULL REFERENCES bot_instances(id) ON DELETE CASCADE,
    chat_id BIGINT NOT NULL DEFAULT 0,
    user_id BIGINT NOT NULL DEFAULT 0,
    success BOOLEAN NOT NULL,
    latency_ms BIGINT NOT NULL DEFAULT 0,
    error_category VARCHAR(50),
    "timestamp" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_api_call_logs_bot_time ON api_call_logs(bot_instance_id, "timestamp" DESC);
CREATE INDEX IF NOT EXISTS idx_api_call_logs_time ON api_call_logs("timestamp");

CREATE TABLE IF NOT EXISTS admin_audit_logs (
    id BIGSERIAL PRIMARY KEY,
    actor_user_id BIGINT NOT NULL,
    action VARCHAR(50) NOT NULL,
    target JSONB NOT NULL DEFAULT '{}'::jsonb,
    "timestamp" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_admin_audit_logs_time ON admin_audit_logs("timestamp" DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS admin_audit_logs;
DROP TABLE IF EXISTS api_call_logs;
DROP TABLE IF EXISTS verification_logs;
`

// nezukoMigrations is the ordered, embedded migration set applied by
// Migrator on startup.
var nezukoMigrations = []Migration{
	{Version: 1, Name: "create_owners_and_bot_instances", UpSQL: migration001Up, DownSQL: migration001Down},
	{Version: 2, Name: "create_groups_channels_links", UpSQL: migration002Up, DownSQL: migration002Down},
	{Version: 3, Name: "create_admin_commands_and_bot_status", UpSQL: migration003Up, DownSQL: migration003Down},
	{Version: 4, Name: "create_log_tables", UpSQL: migration004Up, DownSQL: migration004Down},
}
