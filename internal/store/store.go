// Package store owns the durable side of the system: party and
// participant rows in SQLite. Presence and playback state never touch
// this package; they live in process memory and are rebuilt on restart.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS watch_parties (
	party_id   TEXT PRIMARY KEY,
	host_id    TEXT NOT NULL,
	content_id TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL CHECK(status IN ('pending', 'active', 'ended')) DEFAULT 'pending',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watch_party_participants (
	party_id  TEXT NOT NULL REFERENCES watch_parties(party_id),
	user_id   TEXT NOT NULL,
	joined    INTEGER NOT NULL DEFAULT 0,
	joined_at TEXT,
	PRIMARY KEY (party_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_party_participants_user ON watch_party_participants(user_id);
`

// Open opens (or creates) the SQLite database at path and applies the
// schema. busy_timeout keeps concurrent lifecycle calls from failing
// fast on the write lock.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
