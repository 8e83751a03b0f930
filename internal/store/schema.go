package store

import (
	"context"
	"fmt"
)

// Schema is the full DDL. Deployments run migrations out of band; this is
// the bootstrap path for development and integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'user',
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (LOWER(email));

CREATE TABLE IF NOT EXISTS offers (
	id                        BIGSERIAL PRIMARY KEY,
	user_id                   BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	brand_name                TEXT NOT NULL,
	brand_url                 TEXT NOT NULL,
	affiliate_link            TEXT NOT NULL DEFAULT '',
	subdomain                 TEXT NOT NULL UNIQUE,
	custom_domain             TEXT,
	custom_domain_status      TEXT NOT NULL DEFAULT 'none',
	custom_domain_token       TEXT,
	custom_domain_verified_at TIMESTAMPTZ,
	custom_domain_error       TEXT,
	cloak_enabled             BOOLEAN NOT NULL DEFAULT true,
	target_countries          TEXT[] NOT NULL DEFAULT '{}',
	scrape_status             TEXT NOT NULL DEFAULT 'pending',
	scrape_error              TEXT,
	scraped_at                TIMESTAMPTZ,
	page_title                TEXT,
	page_description          TEXT,
	status                    TEXT NOT NULL DEFAULT 'draft',
	is_deleted                BOOLEAN NOT NULL DEFAULT false,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS offers_user_idx ON offers (user_id);
CREATE INDEX IF NOT EXISTS offers_custom_domain_idx ON offers (custom_domain) WHERE custom_domain IS NOT NULL;

CREATE TABLE IF NOT EXISTS pages (
	id                BIGSERIAL PRIMARY KEY,
	offer_id          BIGINT NOT NULL REFERENCES offers(id) ON DELETE CASCADE,
	page_type         TEXT NOT NULL,
	content_source    TEXT NOT NULL DEFAULT 'scraped',
	safe_page_type    TEXT,
	competitors       TEXT[] NOT NULL DEFAULT '{}',
	generation_params JSONB,
	html_content      TEXT,
	status            TEXT NOT NULL DEFAULT 'draft',
	generation_error  TEXT,
	published_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (offer_id, page_type)
);

CREATE TABLE IF NOT EXISTS blacklist_ips (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL DEFAULT 0,
	ip_address TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT true,
	source     TEXT NOT NULL DEFAULT 'manual',
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, ip_address)
);
CREATE INDEX IF NOT EXISTS blacklist_ips_source_idx ON blacklist_ips (source);

CREATE TABLE IF NOT EXISTS blacklist_ip_ranges (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL DEFAULT 0,
	cidr       TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT true,
	source     TEXT NOT NULL DEFAULT 'manual',
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, cidr)
);
CREATE INDEX IF NOT EXISTS blacklist_ip_ranges_source_idx ON blacklist_ip_ranges (source);

CREATE TABLE IF NOT EXISTS blacklist_uas (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL DEFAULT 0,
	pattern      TEXT NOT NULL,
	pattern_type TEXT NOT NULL DEFAULT 'contains',
	is_active    BOOLEAN NOT NULL DEFAULT true,
	source       TEXT NOT NULL DEFAULT 'manual',
	expires_at   TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, pattern, pattern_type)
);

CREATE TABLE IF NOT EXISTS blacklist_isps (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL DEFAULT 0,
	asn        TEXT NOT NULL DEFAULT '',
	isp_name   TEXT NOT NULL DEFAULT '',
	is_active  BOOLEAN NOT NULL DEFAULT true,
	source     TEXT NOT NULL DEFAULT 'manual',
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (asn <> '' OR isp_name <> ''),
	UNIQUE (user_id, asn, isp_name)
);

CREATE TABLE IF NOT EXISTS blacklist_geos (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL DEFAULT 0,
	country_code TEXT NOT NULL,
	region_code  TEXT NOT NULL DEFAULT '',
	block_type   TEXT NOT NULL DEFAULT 'block',
	is_active    BOOLEAN NOT NULL DEFAULT true,
	source       TEXT NOT NULL DEFAULT 'manual',
	expires_at   TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, country_code, region_code)
);

CREATE TABLE IF NOT EXISTS blacklist_sources (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	source_type      TEXT NOT NULL DEFAULT 'external',
	url              TEXT,
	update_frequency TEXT NOT NULL DEFAULT 'daily',
	last_sync_at     TIMESTAMPTZ,
	next_sync_at     TIMESTAMPTZ,
	sync_status      TEXT,
	sync_error       TEXT,
	is_active        BOOLEAN NOT NULL DEFAULT true,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cloak_logs (
	id                  BIGSERIAL PRIMARY KEY,
	user_id             BIGINT NOT NULL,
	offer_id            BIGINT NOT NULL,
	ip_address          TEXT NOT NULL,
	user_agent          TEXT NOT NULL DEFAULT '',
	referer             TEXT,
	request_url         TEXT NOT NULL DEFAULT '',
	decision            TEXT NOT NULL,
	decision_reason     TEXT,
	fraud_score         INT NOT NULL DEFAULT 0,
	blocked_at_layer    TEXT,
	detection_details   JSONB,
	ip_country          TEXT,
	ip_city             TEXT,
	ip_isp              TEXT,
	ip_asn              TEXT,
	is_datacenter       BOOLEAN NOT NULL DEFAULT false,
	is_vpn              BOOLEAN NOT NULL DEFAULT false,
	is_proxy            BOOLEAN NOT NULL DEFAULT false,
	processing_time_ms  BIGINT NOT NULL DEFAULT 0,
	has_tracking_params BOOLEAN NOT NULL DEFAULT false,
	gclid               TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cloak_logs_offer_idx ON cloak_logs (offer_id, created_at);
CREATE INDEX IF NOT EXISTS cloak_logs_created_idx ON cloak_logs (created_at);

CREATE TABLE IF NOT EXISTS daily_stats (
	user_id           BIGINT NOT NULL,
	offer_id          BIGINT NOT NULL,
	stat_date         DATE NOT NULL,
	total_visits      BIGINT NOT NULL DEFAULT 0,
	money_page_visits BIGINT NOT NULL DEFAULT 0,
	safe_page_visits  BIGINT NOT NULL DEFAULT 0,
	unique_ips        BIGINT NOT NULL DEFAULT 0,
	avg_fraud_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	blocked_l1        BIGINT NOT NULL DEFAULT 0,
	blocked_l2        BIGINT NOT NULL DEFAULT 0,
	blocked_l3        BIGINT NOT NULL DEFAULT 0,
	blocked_l4        BIGINT NOT NULL DEFAULT 0,
	blocked_l5        BIGINT NOT NULL DEFAULT 0,
	blocked_timeout   BIGINT NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, offer_id, stat_date)
);

CREATE TABLE IF NOT EXISTS prompts (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prompt_versions (
	id         BIGSERIAL PRIMARY KEY,
	prompt_id  BIGINT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
	version    INT NOT NULL,
	content    TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (prompt_id, version)
);
CREATE INDEX IF NOT EXISTS prompt_versions_active_idx ON prompt_versions (prompt_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema applies the DDL. Safe to call repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
