package ca

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// Context owns the TCP circuits to the configured servers and hands out
// channel handles. It is safe for concurrent channel creation; the circuits
// do their own synchronization.
type Context struct {
	logger   *slog.Logger
	circuits []*circuit

	ids       atomic.Uint32
	closeOnce sync.Once
	closed    chan struct{}
}

// NewContext dials every configured server address. Addresses without an
// explicit port get defaultPort. At least one circuit must come up.
func NewContext(ctx context.Context, logger *slog.Logger, addrs []string, defaultPort int) (*Context, error) {
	if len(addrs) == 0 {
		return nil, &ContextError{Reason: "no server addresses configured"}
	}

	cctx := &Context{
		logger: logger,
		closed: make(chan struct{}),
	}
	var firstErr error
	for _, addr := range addrs {
		full := withDefaultPort(addr, defaultPort)
		circ, err := dialCircuit(ctx, full, logger)
		if err != nil {
			logger.Warn("server unreachable", "server", full, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cctx.circuits = append(cctx.circuits, circ)
	}
	if len(cctx.circuits) == 0 {
		return nil, &ContextError{Reason: "no server reachable", Err: firstErr}
	}

	return cctx, nil
}

// NewChannel opens a handle for one PV name. A name the transport cannot
// represent fails immediately with NameError; resolution and connection
// proceed in the background.
func (c *Context) NewChannel(name string) (*Channel, error) {
	select {
	case <-c.closed:
		return nil, &ContextError{Reason: "context is closed"}
	default:
	}
	return newChannel(c, name)
}

func (c *Context) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, circ := range c.circuits {
			circ.close()
		}
	})
}

// nextID produces identifiers for channels, searches and read operations.
// IDs only need to be unique within this context's lifetime.
func (c *Context) nextID() uint32 {
	return c.ids.Add(1)
}

func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

func ecaStatusError(status uint32) error {
	return fmt.Errorf("eca status %d", status)
}
