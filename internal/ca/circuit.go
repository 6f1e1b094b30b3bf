package ca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"sync"
	"time"
)

const dialTimeout = 6 * time.Second

type searchOutcome struct {
	found bool
}

type createOutcome struct {
	failed    bool
	sid       uint32
	dataType  uint16
	dataCount int
}

type readOutcome struct {
	status   uint32
	dataType uint16
	count    int
	payload  []byte
}

// circuit is one TCP virtual circuit to a CA server. A reader goroutine
// dispatches inbound frames to whichever operation is waiting on them.
type circuit struct {
	addr   string
	logger *slog.Logger

	conn    net.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	searches map[uint32]chan searchOutcome
	creates  map[uint32]chan createOutcome
	reads    map[uint32]chan readOutcome
	err      error
	closed   chan struct{}
}

func dialCircuit(ctx context.Context, addr string, logger *slog.Logger) (*circuit, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}

	c := &circuit{
		addr:     addr,
		logger:   logger.With("server", addr),
		conn:     conn,
		searches: make(map[uint32]chan searchOutcome),
		creates:  make(map[uint32]chan createOutcome),
		reads:    make(map[uint32]chan readOutcome),
		closed:   make(chan struct{}),
	}
	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go c.readLoop()
	c.logger.Debug("circuit established")

	return c, nil
}

// handshake announces the protocol revision and identifies the client. The
// server's version frame arrives asynchronously and is absorbed by readLoop.
func (c *circuit) handshake() error {
	if err := c.send(frame{Command: cmdVersion, Count: minorVersion}); err != nil {
		return fmt.Errorf("send version: %w", err)
	}
	if err := c.send(frame{Command: cmdClientName, Payload: namePayload(clientUserName())}); err != nil {
		return fmt.Errorf("send client name: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	if err := c.send(frame{Command: cmdHostName, Payload: namePayload(host)}); err != nil {
		return fmt.Errorf("send host name: %w", err)
	}
	return nil
}

func (c *circuit) send(f frame) error {
	raw, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *circuit) readLoop() {
	for {
		f, err := readFrame(c.conn)
		if err != nil {
			c.fail(err)
			return
		}
		c.dispatch(f)
	}
}

func (c *circuit) dispatch(f frame) {
	switch f.Command {
	case cmdVersion:
		c.logger.Debug("server version", "minor", f.Count)
	case cmdSearch:
		c.deliverSearch(f.Param2, searchOutcome{found: true})
	case cmdNotFound:
		c.deliverSearch(f.Param2, searchOutcome{found: false})
	case cmdCreateChan:
		c.deliverCreate(f.Param1, createOutcome{
			sid:       f.Param2,
			dataType:  f.DataType,
			dataCount: int(f.Count),
		})
	case cmdCreateChFail:
		c.deliverCreate(f.Param1, createOutcome{failed: true})
	case cmdAccessRights:
		c.logger.Debug("access rights", "cid", f.Param1, "rights", f.Param2)
	case cmdReadNotify:
		c.deliverRead(f.Param2, readOutcome{
			status:   f.Param1,
			dataType: f.DataType,
			count:    int(f.Count),
			payload:  f.Payload,
		})
	case cmdError:
		c.logger.Warn("server error frame", "cid", f.Param1, "status", f.Param2)
	default:
		c.logger.Debug("unhandled frame", "command", f.Command)
	}
}

// The register helpers refuse on a dead circuit. A waiter added after fail()
// has run would never be delivered to or closed, so the caller must get the
// circuit error instead of a channel to block on.
func (c *circuit) registerSearch(id uint32, ch chan searchOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.searches[id] = ch
	return nil
}

func (c *circuit) registerCreate(cid uint32, ch chan createOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.creates[cid] = ch
	return nil
}

func (c *circuit) registerRead(ioid uint32, ch chan readOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.reads[ioid] = ch
	return nil
}

func (c *circuit) dropSearch(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.searches, id)
}

func (c *circuit) dropCreate(cid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creates, cid)
}

func (c *circuit) dropRead(ioid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reads, ioid)
}

func (c *circuit) deliverSearch(id uint32, out searchOutcome) {
	c.mu.Lock()
	ch, ok := c.searches[id]
	delete(c.searches, id)
	c.mu.Unlock()
	if ok {
		ch <- out
	}
}

func (c *circuit) deliverCreate(cid uint32, out createOutcome) {
	c.mu.Lock()
	ch, ok := c.creates[cid]
	delete(c.creates, cid)
	c.mu.Unlock()
	if ok {
		ch <- out
	}
}

func (c *circuit) deliverRead(ioid uint32, out readOutcome) {
	c.mu.Lock()
	ch, ok := c.reads[ioid]
	delete(c.reads, ioid)
	c.mu.Unlock()
	if ok {
		ch <- out
	}
}

// fail marks the circuit dead and wakes every pending operation. Channels
// bound to it simply never connect; the caller's deadline decides.
func (c *circuit) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		close(c.closed)
	}
	searches := c.searches
	creates := c.creates
	reads := c.reads
	c.searches = make(map[uint32]chan searchOutcome)
	c.creates = make(map[uint32]chan createOutcome)
	c.reads = make(map[uint32]chan readOutcome)
	c.mu.Unlock()

	if !errors.Is(err, net.ErrClosed) {
		c.logger.Warn("circuit lost", "error", err)
	}
	for _, ch := range searches {
		ch <- searchOutcome{found: false}
	}
	for _, ch := range creates {
		ch <- createOutcome{failed: true}
	}
	for _, ch := range reads {
		close(ch)
	}
}

func (c *circuit) close() {
	_ = c.conn.Close()
}

func (c *circuit) lastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func clientUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
