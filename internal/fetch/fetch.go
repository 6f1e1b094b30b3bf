package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rcardenes/epics-tools/internal/bus"
	"github.com/rcardenes/epics-tools/internal/ca"
	"github.com/rcardenes/epics-tools/internal/config"
	"github.com/rcardenes/epics-tools/internal/pv"
)

// Channel is the handle surface the orchestrator needs. *ca.Channel
// implements it; tests substitute fakes with controlled latencies.
type Channel interface {
	pv.Source
	Connected(ctx context.Context) error
}

// Dropped is published on bus.TopicFetchDropped for every best-effort unit
// that produced no record.
type Dropped struct {
	Name string
	Err  error
}

// Orchestrator connects batches of channels under a shared deadline and
// decodes the ones that make it.
type Orchestrator struct {
	logger *slog.Logger
	bus    bus.MessageBus
}

func New(logger *slog.Logger, b bus.MessageBus) *Orchestrator {
	return &Orchestrator{logger: logger, bus: b}
}

// Opener hands out channel handles by PV name.
type Opener interface {
	NewChannel(name string) (Channel, error)
}

type caOpener struct {
	cctx *ca.Context
}

func (o caOpener) NewChannel(name string) (Channel, error) {
	ch, err := o.cctx.NewChannel(name)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// OpenerFor adapts a CA context to the Opener interface.
func OpenerFor(cctx *ca.Context) Opener {
	return caOpener{cctx: cctx}
}

// Open attempts to open one channel per name. Failures are per-name: the
// returned slice keeps input order with failed names dropped, and every
// failure is reported in the error slice rather than swallowed.
func (o *Orchestrator) Open(opener Opener, names []string) ([]Channel, []error) {
	channels := make([]Channel, 0, len(names))
	var failures []error
	for _, name := range names {
		ch, err := opener.NewChannel(name)
		if err != nil {
			o.logger.Warn("open channel failed", "pv", name, "error", err)
			failures = append(failures, err)
			continue
		}
		channels = append(channels, ch)
	}
	return channels, failures
}

// Fetch runs the policy selected by cfg. The record slice is in input order
// for the synchronous policy and completion order for the asynchronous one.
// Dropped errors are only produced by the asynchronous policy.
func (o *Orchestrator) Fetch(ctx context.Context, channels []Channel, cfg config.DisplayConfig) ([]pv.Record, []error, error) {
	if cfg.Asynchronous {
		records, dropped := o.FetchAsync(ctx, channels, cfg.WaitTime)
		return records, dropped, nil
	}
	records, err := o.FetchSync(ctx, channels, cfg.WaitTime)
	return records, nil, err
}

// FetchSync is the all-or-nothing policy: every channel must connect before
// the shared deadline, then reads proceed sequentially in input order. A
// timeout or any read failure yields zero records.
func (o *Orchestrator) FetchSync(ctx context.Context, channels []Channel, wait time.Duration) ([]pv.Record, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	connectErrs := make(chan error, len(channels))
	for _, ch := range channels {
		go func(ch Channel) {
			connectErrs <- ch.Connected(waitCtx)
		}(ch)
	}
	for range channels {
		if err := <-connectErrs; err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ConnectTimeoutError{Wait: wait}
		}
	}

	records := make([]pv.Record, 0, len(channels))
	for _, ch := range channels {
		rec, err := pv.Decode(ctx, ch)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	// Publish only once the whole batch is in; a voided batch must leave no
	// partial trace behind.
	for _, rec := range records {
		o.publishRecord(rec)
	}
	return records, nil
}

// FetchAsync is the best-effort policy: one unit per channel races its
// connected signal against the shared deadline. Units that lose produce no
// record and do not disturb their siblings; each loss is logged and published
// on the dropped topic so the caller can tell records went missing.
func (o *Orchestrator) FetchAsync(ctx context.Context, channels []Channel, wait time.Duration) ([]pv.Record, []error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	type outcome struct {
		rec pv.Record
		err error
	}
	results := make(chan outcome, len(channels))
	for _, ch := range channels {
		go func(ch Channel) {
			if err := ch.Connected(waitCtx); err != nil {
				if ctx.Err() != nil {
					results <- outcome{err: ctx.Err()}
					return
				}
				results <- outcome{err: &ConnectTimeoutError{Name: ch.Name(), Wait: wait}}
				return
			}
			rec, err := pv.Decode(ctx, ch)
			results <- outcome{rec: rec, err: err}
		}(ch)
	}

	records := make([]pv.Record, 0, len(channels))
	var dropped []error
	for range channels {
		out := <-results
		if out.err != nil {
			o.logger.Warn("pv dropped from batch", "error", out.err)
			o.publishDropped(out.err)
			dropped = append(dropped, out.err)
			continue
		}
		o.publishRecord(out.rec)
		records = append(records, out.rec)
	}
	return records, dropped
}

func (o *Orchestrator) publishRecord(rec pv.Record) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(bus.TopicFetchRecord, rec)
}

func (o *Orchestrator) publishDropped(err error) {
	if o.bus == nil {
		return
	}
	name := ""
	var timeout *ConnectTimeoutError
	if errors.As(err, &timeout) {
		name = timeout.Name
	}
	o.bus.Publish(bus.TopicFetchDropped, Dropped{Name: name, Err: err})
}
