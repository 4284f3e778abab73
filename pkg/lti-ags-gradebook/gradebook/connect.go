package gradebook

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Connect opens a *sql.DB for the given driver and dsn and tunes basic pool/PRAGMA settings.
// The driver itself must be registered elsewhere (pgx stdlib or modernc.org/sqlite).
func Connect(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if isSQLite(driver) {
		// one writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if isSQLite(driver) {
		if _, err := db.ExecContext(ctx, `
			PRAGMA foreign_keys = ON;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragmas: %w", err)
		}
	}
	return db, nil
}

// Migrate applies the passback schema for the selected driver (idempotent CREATE IF NOT EXISTS).
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var schema string
	switch normalizeDriver(driver) {
	case "postgres", "postgresql":
		schema = schemaPostgres
	case "sqlite", "sqlite3":
		schema = schemaSQLite
	default:
		return fmt.Errorf("unsupported driver %q (expected postgres/sqlite)", driver)
	}

	// Some drivers reject multi statement scripts; fall back to one at a time.
	if _, err := db.ExecContext(ctx, schema); err != nil {
		for _, stmt := range splitSQL(schema) {
			if _, e := db.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("migration failed at: %s\nerror: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

// ConnectAndMigrate opens the DB and applies migrations.
func ConnectAndMigrate(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := Connect(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func normalizeDriver(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "pgx", "pgsql":
		return "postgres"
	}
	return d
}

func isSQLite(d string) bool {
	switch normalizeDriver(d) {
	case "sqlite", "sqlite3":
		return true
	default:
		return false
	}
}

// splitSQL splits on ';'. The DDL below has no procedures or string literals
// containing semicolons.
func splitSQL(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p+";")
		}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const schemaPostgres = `
-- Course to launch context, captured at LTI launch or registered by a teacher
CREATE TABLE IF NOT EXISTS lti_links (
  id                  BIGSERIAL PRIMARY KEY,
  course_id           TEXT NOT NULL,
  platform_issuer     TEXT NOT NULL,
  deployment_id       TEXT NOT NULL,
  context_id          TEXT NOT NULL,
  resource_link_id    TEXT NOT NULL,
  lineitems_url       TEXT,             -- from AGS service claim
  scopes              JSONB,            -- array of granted scopes
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(platform_issuer, deployment_id, context_id, resource_link_id)
);
CREATE INDEX IF NOT EXISTS idx_lti_links_course ON lti_links(course_id, updated_at);

-- Platform user (launch sub) to local participant id
CREATE TABLE IF NOT EXISTS lti_user_map (
  platform_issuer     TEXT NOT NULL,
  platform_sub        TEXT NOT NULL,
  local_user_id       TEXT NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (platform_issuer, platform_sub)
);

-- One line item per (opportunity x context) on a given platform
CREATE TABLE IF NOT EXISTS gradebook_lineitems (
  id                  BIGSERIAL PRIMARY KEY,
  opportunity_id      TEXT NOT NULL,
  platform_issuer     TEXT NOT NULL,
  deployment_id       TEXT NOT NULL,
  context_id          TEXT NOT NULL,
  resource_link_id    TEXT NOT NULL,
  label               TEXT NOT NULL,
  score_max           NUMERIC NOT NULL,
  line_item_url       TEXT NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (opportunity_id, platform_issuer, deployment_id, context_id)
);

CREATE TABLE IF NOT EXISTS grade_sync_status (
  opportunity_id      TEXT NOT NULL,
  participant_id      TEXT NOT NULL,
  status              TEXT NOT NULL CHECK (status IN ('pending','ok','failed')),
  retries             INT NOT NULL DEFAULT 0,
  last_error          TEXT,
  updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (opportunity_id, participant_id)
);
`

// JSON is stored as TEXT with a json_valid() check.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS lti_links (
  id                  INTEGER PRIMARY KEY AUTOINCREMENT,
  course_id           TEXT NOT NULL,
  platform_issuer     TEXT NOT NULL,
  deployment_id       TEXT NOT NULL,
  context_id          TEXT NOT NULL,
  resource_link_id    TEXT NOT NULL,
  lineitems_url       TEXT,
  scopes              TEXT,
  created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(platform_issuer, deployment_id, context_id, resource_link_id),
  CHECK (scopes IS NULL OR json_valid(scopes))
);
CREATE INDEX IF NOT EXISTS idx_lti_links_course ON lti_links(course_id, updated_at);

CREATE TABLE IF NOT EXISTS lti_user_map (
  platform_issuer     TEXT NOT NULL,
  platform_sub        TEXT NOT NULL,
  local_user_id       TEXT NOT NULL,
  created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (platform_issuer, platform_sub)
);

CREATE TABLE IF NOT EXISTS gradebook_lineitems (
  id                  INTEGER PRIMARY KEY AUTOINCREMENT,
  opportunity_id      TEXT NOT NULL,
  platform_issuer     TEXT NOT NULL,
  deployment_id       TEXT NOT NULL,
  context_id          TEXT NOT NULL,
  resource_link_id    TEXT NOT NULL,
  label               TEXT NOT NULL,
  score_max           REAL NOT NULL,
  line_item_url       TEXT NOT NULL,
  created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE (opportunity_id, platform_issuer, deployment_id, context_id)
);

CREATE TABLE IF NOT EXISTS grade_sync_status (
  opportunity_id      TEXT NOT NULL,
  participant_id      TEXT NOT NULL,
  status              TEXT NOT NULL CHECK (status IN ('pending','ok','failed')),
  retries             INTEGER NOT NULL DEFAULT 0,
  last_error          TEXT,
  updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (opportunity_id, participant_id)
);
`
