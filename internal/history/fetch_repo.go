package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Fetch is one persisted read result.
type Fetch struct {
	BatchID    string
	PVName     string
	FieldType  string
	Elements   int
	ValueText  string
	ServerTime time.Time
	FetchedAt  time.Time
}

type FetchRepo struct {
	db *sql.DB
}

func NewFetchRepo(db *sql.DB) *FetchRepo {
	return &FetchRepo{db: db}
}

func (r *FetchRepo) Append(ctx context.Context, f Fetch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fetches(batch_id, pv_name, field_type, elements, value_text, server_time_ms, fetched_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.BatchID, f.PVName, f.FieldType, f.Elements, f.ValueText, toUnixMillis(f.ServerTime), toUnixMillis(f.FetchedAt))
	if err != nil {
		return fmt.Errorf("append fetch: %w", err)
	}
	return nil
}

func (r *FetchRepo) ListByName(ctx context.Context, name string, limit int) ([]Fetch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT batch_id, pv_name, field_type, elements, value_text, server_time_ms, fetched_at_ms
		FROM fetches
		WHERE pv_name = ?
		ORDER BY fetched_at_ms DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list fetches: %w", err)
	}
	defer rows.Close()

	var out []Fetch
	for rows.Next() {
		var (
			f        Fetch
			serverMs int64
			atMs     int64
		)
		if err := rows.Scan(&f.BatchID, &f.PVName, &f.FieldType, &f.Elements, &f.ValueText, &serverMs, &atMs); err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		f.ServerTime = fromUnixMillis(serverMs)
		f.FetchedAt = fromUnixMillis(atMs)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetches: %w", err)
	}
	return out, nil
}

// Prune deletes history rows fetched before the cutoff.
func (r *FetchRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fetches WHERE fetched_at_ms < ?`, toUnixMillis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune fetches: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune fetches rows affected: %w", err)
	}
	return n, nil
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
