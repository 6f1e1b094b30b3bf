package ca

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rcardenes/epics-tools/internal/pv"
)

// searchRetryInterval paces repeated name lookups for a PV no server has
// claimed yet. The PV may appear later; the caller's deadline bounds the wait.
const searchRetryInterval = time.Second

// searchReplyTimeout bounds one search round trip on one circuit.
const searchReplyTimeout = 500 * time.Millisecond

// Channel is a client handle bound to one PV name. Its field type and element
// count are fixed once the server acknowledges channel creation; callers must
// not use them before Connected returns.
type Channel struct {
	name string
	cctx *Context
	cid  uint32

	connected chan struct{}

	mu        sync.Mutex
	circ      *circuit
	sid       uint32
	fieldType pv.FieldType
	count     int
}

func newChannel(cctx *Context, name string) (*Channel, error) {
	if strings.ContainsRune(name, 0) {
		return nil, &NameError{Name: name, Reason: "embedded NUL byte"}
	}
	if name == "" {
		return nil, &NameError{Name: name, Reason: "empty name"}
	}

	ch := &Channel{
		name:      name,
		cctx:      cctx,
		cid:       cctx.nextID(),
		connected: make(chan struct{}),
	}
	go ch.resolve()

	return ch, nil
}

func (ch *Channel) Name() string { return ch.name }

// Connected suspends until the channel is established or ctx is done. There
// is no failure signal from the protocol side; only the caller's deadline
// ends the wait.
func (ch *Channel) Connected(ctx context.Context) error {
	select {
	case <-ch.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ElementCount reports the negotiated element count. Valid once connected.
func (ch *Channel) ElementCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.count
}

// FieldType reports the negotiated native type. Valid once connected.
func (ch *Channel) FieldType() pv.FieldType {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.fieldType
}

// resolve looks the PV up on every circuit until one claims it, then creates
// the channel there. Runs until success or context shutdown. A lost race with
// a caller deadline does not stop the attempt; the handle is simply dropped.
func (ch *Channel) resolve() {
	for {
		for _, circ := range ch.cctx.circuits {
			if circ.lastErr() != nil {
				continue
			}
			if !ch.searchOn(circ) {
				continue
			}
			if ch.createOn(circ) {
				return
			}
		}

		select {
		case <-ch.cctx.closed:
			return
		case <-time.After(searchRetryInterval):
		}
	}
}

func (ch *Channel) searchOn(circ *circuit) bool {
	id := ch.cctx.nextID()
	reply := make(chan searchOutcome, 1)
	if err := circ.registerSearch(id, reply); err != nil {
		return false
	}
	err := circ.send(frame{
		Command:  cmdSearch,
		DataType: searchDoReply,
		Count:    minorVersion,
		Param1:   id,
		Param2:   id,
		Payload:  namePayload(ch.name),
	})
	if err != nil {
		circ.dropSearch(id)
		return false
	}

	select {
	case out := <-reply:
		return out.found
	case <-time.After(searchReplyTimeout):
		circ.dropSearch(id)
		return false
	case <-ch.cctx.closed:
		circ.dropSearch(id)
		return false
	}
}

func (ch *Channel) createOn(circ *circuit) bool {
	reply := make(chan createOutcome, 1)
	if err := circ.registerCreate(ch.cid, reply); err != nil {
		return false
	}
	err := circ.send(frame{
		Command: cmdCreateChan,
		Param1:  ch.cid,
		Param2:  minorVersion,
		Payload: namePayload(ch.name),
	})
	if err != nil {
		circ.dropCreate(ch.cid)
		return false
	}

	select {
	case out := <-reply:
		if out.failed {
			return false
		}
		ch.mu.Lock()
		ch.circ = circ
		ch.sid = out.sid
		ch.fieldType = pv.FieldType(out.dataType)
		ch.count = out.dataCount
		ch.mu.Unlock()
		close(ch.connected)
		return true
	case <-ch.cctx.closed:
		circ.dropCreate(ch.cid)
		return false
	}
}

// Read issues one typed read for the DBR_TIME variant of the native type and
// returns the raw payload. Fails with ProtocolError if the circuit drops or
// the server reports a non-ok status.
func (ch *Channel) Read(ctx context.Context) (pv.ReadResult, error) {
	ch.mu.Lock()
	circ := ch.circ
	sid := ch.sid
	fieldType := ch.fieldType
	count := ch.count
	ch.mu.Unlock()

	if circ == nil {
		return pv.ReadResult{}, &ProtocolError{Name: ch.name, Op: "read", Reason: "channel is not connected"}
	}

	ioid := ch.cctx.nextID()
	reply := make(chan readOutcome, 1)
	if err := circ.registerRead(ioid, reply); err != nil {
		return pv.ReadResult{}, &ProtocolError{Name: ch.name, Op: "read", Reason: "circuit lost", Err: err}
	}
	err := circ.send(frame{
		Command:  cmdReadNotify,
		DataType: fieldType.TimeVariant(),
		Count:    uint16(count),
		Param1:   sid,
		Param2:   ioid,
	})
	if err != nil {
		circ.dropRead(ioid)
		return pv.ReadResult{}, &ProtocolError{Name: ch.name, Op: "read", Reason: "send failed", Err: err}
	}

	select {
	case out, ok := <-reply:
		if !ok {
			return pv.ReadResult{}, &ProtocolError{Name: ch.name, Op: "read", Reason: "circuit lost", Err: circ.lastErr()}
		}
		if out.status != ecaNormal {
			return pv.ReadResult{}, &ProtocolError{Name: ch.name, Op: "read", Reason: "server status", Err: ecaStatusError(out.status)}
		}
		return pv.ReadResult{DataType: out.dataType, Count: out.count, Data: out.payload}, nil
	case <-ctx.Done():
		circ.dropRead(ioid)
		return pv.ReadResult{}, &ProtocolError{Name: ch.name, Op: "read", Reason: "canceled", Err: ctx.Err()}
	}
}

// Close releases the server-side channel. Safe to call on a handle that never
// connected.
func (ch *Channel) Close() {
	ch.mu.Lock()
	circ := ch.circ
	sid := ch.sid
	ch.mu.Unlock()
	if circ == nil {
		return
	}
	_ = circ.send(frame{Command: cmdClearChannel, Param1: sid, Param2: ch.cid})
}
