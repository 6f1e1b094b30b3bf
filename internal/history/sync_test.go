package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcardenes/epics-tools/internal/bus"
	"github.com/rcardenes/epics-tools/internal/pv"
)

func TestHistorySyncPersistsPublishedRecords(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()
	repo := NewFetchRepo(db)

	writer := NewWriterQueue(logger, 16)
	writerCtx, stopWriter := context.WithCancel(ctx)
	writer.Start(writerCtx)

	b := bus.New(logger)
	wait := StartHistorySync(ctx, b, writer, repo, "batch-abc")

	rec := pv.NewRecord("SR:current", 1, pv.DoubleValue{
		V:  249.84523,
		TS: pv.Timestamp{Secs: 1000, Nanos: 250000000},
	})
	b.Publish(bus.TopicFetchRecord, rec)

	b.Close()
	wait()
	stopWriter()
	writer.Wait()

	rows, err := repo.ListByName(ctx, "SR:current", 0)
	if err != nil {
		t.Fatalf("list fetches: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one persisted row, got %d", len(rows))
	}
	got := rows[0]
	if got.BatchID != "batch-abc" {
		t.Fatalf("expected batch id batch-abc, got %q", got.BatchID)
	}
	if got.FieldType != pv.FieldDouble.String() {
		t.Fatalf("expected field type %q, got %q", pv.FieldDouble.String(), got.FieldType)
	}
	if got.ValueText != "249.84523" {
		t.Fatalf("expected value text 249.84523, got %q", got.ValueText)
	}
	if !got.ServerTime.Equal(pv.Timestamp{Secs: 1000, Nanos: 250000000}.Time()) {
		t.Fatalf("server time did not survive: %v", got.ServerTime)
	}
}

func TestWriterQueueRetriesFailedWrites(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := NewWriterQueue(logger, 4)
	ctx, cancel := context.WithCancel(context.Background())
	writer.Start(ctx)

	attempts := make(chan int, 8)
	failures := 2
	writer.Enqueue("flaky write", func(context.Context) error {
		attempts <- 1
		if failures > 0 {
			failures--
			return context.DeadlineExceeded
		}
		return nil
	})

	total := 0
	deadline := time.After(5 * time.Second)
	for total < 3 {
		select {
		case <-attempts:
			total++
		case <-deadline:
			t.Fatalf("expected 3 attempts, saw %d", total)
		}
	}

	cancel()
	writer.Wait()
}
