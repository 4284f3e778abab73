package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:grades.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/mindengage?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer keeps grade_time checks and inserts serialized
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := EnsureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the grading tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Times are stored as unix nanoseconds so that ordering by grade_time is
// exact on both drivers.
const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS grading_opportunities (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL,
  identifier TEXT NOT NULL,
  name TEXT NOT NULL,
  flow_id TEXT,
  aggregation_strategy TEXT NOT NULL,
  due_time INTEGER,
  creation_time INTEGER NOT NULL,
  shown_in_grade_book INTEGER NOT NULL DEFAULT 1,
  UNIQUE (course_id, identifier)
);

CREATE TABLE IF NOT EXISTS grade_changes (
  id TEXT PRIMARY KEY,
  opportunity_id TEXT NOT NULL REFERENCES grading_opportunities(id) ON DELETE CASCADE,
  participant_id TEXT NOT NULL,
  state TEXT NOT NULL,
  attempt_id TEXT,
  points REAL,
  max_points REAL NOT NULL DEFAULT 0,
  comment TEXT,
  due_time INTEGER,
  creator TEXT,
  grade_time INTEGER NOT NULL,
  flow_session_id TEXT
);

CREATE INDEX IF NOT EXISTS grade_changes_pair_time
  ON grade_changes (opportunity_id, participant_id, grade_time);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,                         -- e.g., GradeChangeRecorded
  key TEXT NOT NULL,                         -- natural key: opportunity/participant
  data TEXT NOT NULL,                        -- JSON payload
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS grading_opportunities (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL,
  identifier TEXT NOT NULL,
  name TEXT NOT NULL,
  flow_id TEXT,
  aggregation_strategy TEXT NOT NULL,
  due_time BIGINT,
  creation_time BIGINT NOT NULL,
  shown_in_grade_book BOOLEAN NOT NULL DEFAULT TRUE,
  UNIQUE (course_id, identifier)
);

CREATE TABLE IF NOT EXISTS grade_changes (
  id TEXT PRIMARY KEY,
  opportunity_id TEXT NOT NULL REFERENCES grading_opportunities(id) ON DELETE CASCADE,
  participant_id TEXT NOT NULL,
  state TEXT NOT NULL,
  attempt_id TEXT,
  points DOUBLE PRECISION,
  max_points DOUBLE PRECISION NOT NULL DEFAULT 0,
  comment TEXT,
  due_time BIGINT,
  creator TEXT,
  grade_time BIGINT NOT NULL,
  flow_session_id TEXT
);

CREATE INDEX IF NOT EXISTS grade_changes_pair_time
  ON grade_changes (opportunity_id, participant_id, grade_time);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
