package fetch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rcardenes/epics-tools/internal/bus"
	"github.com/rcardenes/epics-tools/internal/pv"
)

const neverConnect = -1

// fakeChannel connects after a configured latency (neverConnect blocks until
// the deadline) and answers reads with a DBR_TIME_LONG payload.
type fakeChannel struct {
	name         string
	connectAfter time.Duration
	value        int32
	readErr      error
}

func (f *fakeChannel) Name() string            { return f.name }
func (f *fakeChannel) FieldType() pv.FieldType { return pv.FieldLong }
func (f *fakeChannel) ElementCount() int       { return 1 }

func (f *fakeChannel) Connected(ctx context.Context) error {
	if f.connectAfter < 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-time.After(f.connectAfter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeChannel) Read(_ context.Context) (pv.ReadResult, error) {
	if f.readErr != nil {
		return pv.ReadResult{}, f.readErr
	}
	data := make([]byte, 16)
	binary.BigEndian.PutUint32(data[4:], 1000)
	binary.BigEndian.PutUint32(data[12:], uint32(f.value))
	return pv.ReadResult{
		DataType: uint16(pv.FieldLong.TimeVariant()),
		Count:    1,
		Data:     data,
	}, nil
}

func testOrchestrator(b bus.MessageBus) *Orchestrator {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), b)
}

func TestFetchSyncReturnsRecordsInInputOrder(t *testing.T) {
	channels := []Channel{
		&fakeChannel{name: "slow:pv", connectAfter: 30 * time.Millisecond, value: 7},
		&fakeChannel{name: "fast:pv", connectAfter: time.Millisecond, value: 8},
	}
	orch := testOrchestrator(nil)

	records, err := orch.FetchSync(context.Background(), channels, 2*time.Second)
	if err != nil {
		t.Fatalf("FetchSync: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Name != "slow:pv" || records[1].Name != "fast:pv" {
		t.Fatalf("records out of input order: %q, %q", records[0].Name, records[1].Name)
	}
	lv, ok := records[0].Value.(pv.LongValue)
	if !ok {
		t.Fatalf("expected LongValue, got %T", records[0].Value)
	}
	if lv.V != 7 {
		t.Fatalf("expected value 7, got %d", lv.V)
	}
}

func TestFetchSyncTimeoutKillsWholeBatch(t *testing.T) {
	channels := []Channel{
		&fakeChannel{name: "fast:pv", connectAfter: time.Millisecond, value: 1},
		&fakeChannel{name: "absent:pv", connectAfter: neverConnect},
	}
	orch := testOrchestrator(nil)

	records, err := orch.FetchSync(context.Background(), channels, 100*time.Millisecond)
	if records != nil {
		t.Fatalf("expected no records on timeout, got %d", len(records))
	}
	var timeout *ConnectTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected ConnectTimeoutError, got %v", err)
	}
	if timeout.Name != "" {
		t.Fatalf("batch timeout should not name a single pv, got %q", timeout.Name)
	}
}

func TestFetchSyncReadErrorAbortsBatch(t *testing.T) {
	readErr := errors.New("circuit gone")
	channels := []Channel{
		&fakeChannel{name: "good:pv", connectAfter: time.Millisecond, value: 1},
		&fakeChannel{name: "bad:pv", connectAfter: time.Millisecond, readErr: readErr},
	}
	orch := testOrchestrator(nil)

	records, err := orch.FetchSync(context.Background(), channels, 2*time.Second)
	if records != nil {
		t.Fatalf("expected no records when a read fails, got %d", len(records))
	}
	if !errors.Is(err, readErr) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestFetchSyncCanceledParentContextIsNotATimeout(t *testing.T) {
	channels := []Channel{
		&fakeChannel{name: "absent:pv", connectAfter: neverConnect},
	}
	orch := testOrchestrator(nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := orch.FetchSync(ctx, channels, 2*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchAsyncIsolatesDroppedUnits(t *testing.T) {
	channels := []Channel{
		&fakeChannel{name: "one:pv", connectAfter: time.Millisecond, value: 1},
		&fakeChannel{name: "absent:pv", connectAfter: neverConnect},
		&fakeChannel{name: "two:pv", connectAfter: 5 * time.Millisecond, value: 2},
	}
	orch := testOrchestrator(nil)

	records, dropped := orch.FetchAsync(context.Background(), channels, 150*time.Millisecond)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	got := map[string]bool{}
	for _, rec := range records {
		got[rec.Name] = true
	}
	if !got["one:pv"] || !got["two:pv"] {
		t.Fatalf("unexpected record set: %v", got)
	}
	if len(dropped) != 1 {
		t.Fatalf("expected 1 dropped unit, got %d", len(dropped))
	}
	var timeout *ConnectTimeoutError
	if !errors.As(dropped[0], &timeout) {
		t.Fatalf("expected ConnectTimeoutError, got %v", dropped[0])
	}
	if timeout.Name != "absent:pv" {
		t.Fatalf("expected dropped pv %q, got %q", "absent:pv", timeout.Name)
	}
}

func TestFetchAsyncPublishesDroppedOnBus(t *testing.T) {
	b := bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer b.Close()
	sub := b.Subscribe(bus.TopicFetchDropped)
	defer b.Unsubscribe(sub, bus.TopicFetchDropped)

	channels := []Channel{
		&fakeChannel{name: "here:pv", connectAfter: time.Millisecond, value: 3},
		&fakeChannel{name: "gone:pv", connectAfter: neverConnect},
	}
	orch := testOrchestrator(b)
	orch.FetchAsync(context.Background(), channels, 100*time.Millisecond)

	select {
	case msg := <-sub:
		drop, ok := msg.(Dropped)
		if !ok {
			t.Fatalf("unexpected payload type %T", msg)
		}
		if drop.Name != "gone:pv" {
			t.Fatalf("expected dropped name %q, got %q", "gone:pv", drop.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("no dropped message published")
	}
}

// recordingBus captures publishes synchronously so tests can assert on the
// exact set of emitted messages.
type recordingBus struct {
	mu        sync.Mutex
	published map[string]int
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: make(map[string]int)}
}

func (b *recordingBus) Publish(topic string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic]++
}

func (b *recordingBus) Subscribe(string) bus.Subscription       { return nil }
func (b *recordingBus) Unsubscribe(bus.Subscription, ...string) {}
func (b *recordingBus) Close()                                  {}

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[topic]
}

func TestFetchSyncFailedBatchPublishesNothing(t *testing.T) {
	rb := newRecordingBus()
	channels := []Channel{
		&fakeChannel{name: "good:pv", connectAfter: time.Millisecond, value: 1},
		&fakeChannel{name: "bad:pv", connectAfter: time.Millisecond, readErr: errors.New("circuit gone")},
	}
	orch := testOrchestrator(rb)

	if _, err := orch.FetchSync(context.Background(), channels, 2*time.Second); err == nil {
		t.Fatal("expected the batch to fail")
	}
	if n := rb.count(bus.TopicFetchRecord); n != 0 {
		t.Fatalf("voided batch must leave no published records, got %d", n)
	}
}

func TestFetchSyncSuccessfulBatchPublishesEveryRecord(t *testing.T) {
	rb := newRecordingBus()
	channels := []Channel{
		&fakeChannel{name: "a:pv", connectAfter: time.Millisecond, value: 1},
		&fakeChannel{name: "b:pv", connectAfter: time.Millisecond, value: 2},
	}
	orch := testOrchestrator(rb)

	records, err := orch.FetchSync(context.Background(), channels, 2*time.Second)
	if err != nil {
		t.Fatalf("FetchSync: %v", err)
	}
	if n := rb.count(bus.TopicFetchRecord); n != len(records) {
		t.Fatalf("expected %d published records, got %d", len(records), n)
	}
}

type fakeOpener struct {
	bad map[string]error
}

func (o fakeOpener) NewChannel(name string) (Channel, error) {
	if err, found := o.bad[name]; found {
		return nil, err
	}
	return &fakeChannel{name: name, connectAfter: time.Millisecond}, nil
}

func TestOpenReportsPerNameFailures(t *testing.T) {
	opener := fakeOpener{bad: map[string]error{
		"bogus:pv": fmt.Errorf("invalid pv name %q", "bogus:pv"),
	}}
	orch := testOrchestrator(nil)

	channels, failures := orch.Open(opener, []string{"a:pv", "bogus:pv", "b:pv"})
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if channels[0].Name() != "a:pv" || channels[1].Name() != "b:pv" {
		t.Fatalf("channels out of order: %q, %q", channels[0].Name(), channels[1].Name())
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
}
