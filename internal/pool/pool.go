// Package pool maintains a fixed-size set of socket connections to the
// daemon's local endpoint with an all-or-nothing readiness barrier: one
// readiness event when every connection is up, one exhaustion event when the
// last one drops. There is no reconnect; a pool only ever moves toward
// exhaustion.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/codefionn/botschafter/internal/logger"
)

// ConnError reports a failure of one pooled connection, identified by its
// index. Index -1 means the failure happened before any connection existed.
type ConnError struct {
	Index    int
	Endpoint string
	Err      error
}

func (e *ConnError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("pool %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("pool conn %d to %s: %v", e.Index, e.Endpoint, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// Pool owns exactly size connections to one endpoint. All counter mutations
// flow through a single mutex, regardless of which connection goroutine
// reports; the barrier events fire at the crossing points and never twice.
type Pool struct {
	log      *logger.Logger
	endpoint string
	size     int

	mu        sync.Mutex
	conns     []*Conn
	connected int

	readyOnce   sync.Once
	exhaustOnce sync.Once

	onReady     func()
	onExhausted func()
	onConnError func(*ConnError)

	opened atomic.Bool
	closed atomic.Bool
}

// New creates a pool of the given size for the daemon's socket endpoint.
func New(log *logger.Logger, endpoint string, size int) *Pool {
	if log == nil {
		log = logger.Global().WithPrefix("pool")
	}
	return &Pool{
		log:      log,
		endpoint: endpoint,
		size:     size,
		conns:    make([]*Conn, size),
	}
}

// SetOnReady registers the single-shot readiness callback. Set before Open.
func (p *Pool) SetOnReady(fn func()) {
	p.onReady = fn
}

// SetOnExhausted registers the single-shot exhaustion callback. Set before Open.
func (p *Pool) SetOnExhausted(fn func()) {
	p.onExhausted = fn
}

// SetOnConnError registers the dial-failure callback. Set before Open.
func (p *Pool) SetOnConnError(fn func(*ConnError)) {
	p.onConnError = fn
}

// Open waits for the daemon's socket to appear, then issues all dials
// concurrently. Connection results arrive through the callbacks; Open itself
// only fails when it cannot start dialing at all.
func (p *Pool) Open(ctx context.Context) error {
	if p.size < 1 {
		return &ConnError{Index: -1, Endpoint: p.endpoint, Err: fmt.Errorf("pool size %d", p.size)}
	}
	if !p.opened.CompareAndSwap(false, true) {
		return &ConnError{Index: -1, Endpoint: p.endpoint, Err: fmt.Errorf("pool already opened")}
	}

	if err := WaitForSocket(ctx, p.endpoint); err != nil {
		return &ConnError{Index: -1, Endpoint: p.endpoint, Err: fmt.Errorf("waiting for socket: %w", err)}
	}

	p.log.Info("opening %d connections to %s", p.size, p.endpoint)

	p.mu.Lock()
	for i := 0; i < p.size; i++ {
		c := newConn(i, p.endpoint, p.log, p)
		p.conns[i] = c
		go c.connect()
	}
	p.mu.Unlock()

	return nil
}

// reportConnected serializes a connect signal. The readiness barrier fires
// the instant the count crosses size-1 to size, whichever connection gets
// there last.
func (p *Pool) reportConnected(c *Conn) {
	p.mu.Lock()
	p.connected++
	count := p.connected
	p.mu.Unlock()

	p.log.Debug("conn %d connected (%d/%d)", c.index, count, p.size)

	if count == p.size {
		p.readyOnce.Do(func() {
			p.log.Info("pool ready (%d/%d)", count, p.size)
			if p.onReady != nil {
				p.onReady()
			}
		})
	}
}

// reportDisconnected serializes a disconnect signal. Exhaustion fires the
// instant the count returns to zero after having been positive.
func (p *Pool) reportDisconnected(c *Conn) {
	p.mu.Lock()
	p.connected--
	count := p.connected
	p.mu.Unlock()

	p.log.Debug("conn %d disconnected (%d/%d)", c.index, count, p.size)

	if count == 0 {
		p.exhaustOnce.Do(func() {
			p.log.Info("pool exhausted")
			if p.onExhausted != nil {
				p.onExhausted()
			}
		})
	}
}

// reportDialError surfaces a failed dial to the owner instead of leaving the
// readiness barrier forever unmet.
func (p *Pool) reportDialError(c *Conn, err error) {
	connErr := &ConnError{Index: c.index, Endpoint: p.endpoint, Err: err}
	p.log.Error("dial failed: %v", connErr)
	if p.onConnError != nil {
		p.onConnError(connErr)
	}
}

// Size returns the configured pool size.
func (p *Pool) Size() int {
	return p.size
}

// ConnectedCount returns the number of currently connected connections.
func (p *Pool) ConnectedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Get returns a live connection, preferring lower indices.
func (p *Pool) Get() (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.conns {
		if c != nil && c.State() == StateConnected {
			return c, nil
		}
	}
	return nil, &ConnError{Index: -1, Endpoint: p.endpoint, Err: fmt.Errorf("no live connection")}
}

// Call performs a request/response round-trip on any live connection.
func (p *Pool) Call(ctx context.Context, command string, args map[string]interface{}) (map[string]interface{}, error) {
	c, err := p.Get()
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, command, args)
}

// Close tears down every connection. Idempotent. The exhaustion callback
// still fires once the last previously-connected connection reports in.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	conns := make([]*Conn, len(p.conns))
	copy(conns, p.conns)
	p.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}
