package history

import (
	"context"
	"time"

	"github.com/rcardenes/epics-tools/internal/bus"
	"github.com/rcardenes/epics-tools/internal/pv"
)

// StartHistorySync subscribes to fetched records and appends them to the
// history through the writer queue. Every row of one invocation shares the
// same batch ID. The returned func blocks until the subscription has fully
// drained, which happens once the bus shuts down or ctx is canceled.
func StartHistorySync(ctx context.Context, b bus.MessageBus, writer *WriterQueue, repo *FetchRepo, batchID string) (wait func()) {
	sub := b.Subscribe(bus.TopicFetchRecord)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				// Process teardown path; the bus is about to shut down
				// anyway, so skip the unsubscribe round trip.
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				rec, ok := raw.(pv.Record)
				if !ok {
					continue
				}
				row := Fetch{
					BatchID:    batchID,
					PVName:     rec.Name,
					FieldType:  fieldTypeOf(rec).String(),
					Elements:   rec.Elements,
					ValueText:  pv.FormatValue(rec),
					ServerTime: rec.Value.Stamp().Time(),
					FetchedAt:  time.Now(),
				}
				writer.Enqueue("append fetch", func(ctx context.Context) error {
					return repo.Append(ctx, row)
				})
			}
		}
	}()

	return func() { <-done }
}

// fieldTypeOf recovers the field type from the value variant. The record does
// not carry it separately; the variant is authoritative anyway.
func fieldTypeOf(rec pv.Record) pv.FieldType {
	switch rec.Value.(type) {
	case pv.CharValue:
		return pv.FieldChar
	case pv.ShortValue, pv.ShortArrayValue:
		return pv.FieldShort
	case pv.EnumValue:
		return pv.FieldEnum
	case pv.LongValue, pv.LongArrayValue:
		return pv.FieldLong
	case pv.FloatValue, pv.FloatArrayValue:
		return pv.FieldFloat
	case pv.DoubleValue, pv.DoubleArrayValue:
		return pv.FieldDouble
	default:
		return pv.FieldString
	}
}
