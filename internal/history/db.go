package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS fetches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			pv_name TEXT NOT NULL,
			field_type TEXT NOT NULL,
			elements INTEGER NOT NULL,
			value_text TEXT NOT NULL,
			server_time_ms INTEGER NOT NULL,
			fetched_at_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fetches_pv_name ON fetches(pv_name, fetched_at_ms);
		CREATE INDEX IF NOT EXISTS idx_fetches_batch ON fetches(batch_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}
