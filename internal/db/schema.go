package db

var schema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS client_groups (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS client_group_members (
		group_id UUID NOT NULL REFERENCES client_groups(id) ON DELETE CASCADE,
		customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (group_id, customer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		group_id UUID NOT NULL,
		message TEXT NOT NULL,
		variations TEXT[] NOT NULL DEFAULT '{}',
		media_url TEXT,
		status TEXT NOT NULL DEFAULT 'draft'
			CHECK (status IN ('draft', 'scheduled', 'processing', 'paused', 'completed', 'failed')),
		scheduled_for TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ,
		drain_owner TEXT,
		drain_lease_until TIMESTAMPTZ,
		CONSTRAINT campaigns_scheduled_has_time CHECK (status <> 'scheduled' OR scheduled_for IS NOT NULL),
		CONSTRAINT campaigns_completed_has_time CHECK (status <> 'completed' OR completed_at IS NOT NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS campaigns_status_scheduled_idx ON campaigns (status, scheduled_for)`,
	`CREATE TABLE IF NOT EXISTS campaign_messages (
		id UUID PRIMARY KEY,
		campaign_id UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		customer_id UUID,
		phone TEXT NOT NULL,
		text TEXT NOT NULL,
		seq INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed')),
		error_detail TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at TIMESTAMPTZ,
		UNIQUE (campaign_id, phone)
	)`,
	`CREATE INDEX IF NOT EXISTS campaign_messages_drain_idx ON campaign_messages (campaign_id, status, created_at, seq)`,
}
