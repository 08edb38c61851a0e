package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/codefionn/botschafter/internal/logger"
)

// ConnState represents the state of one pooled connection.
type ConnState int32

const (
	// StateConnecting means the dial is still in flight
	StateConnecting ConnState = iota
	// StateConnected means the connection is live and pumping
	StateConnected
	// StateDisconnected means the connection is gone for good
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is one pooled socket connection to the daemon. It is owned
// exclusively by its Pool and reports its own connect/disconnect
// transitions back to it.
type Conn struct {
	index    int
	endpoint string
	log      *logger.Logger
	pool     *Pool

	sockMu sync.RWMutex
	sock   net.Conn

	state atomic.Int32

	outgoing chan []byte

	pendingMu sync.Mutex
	pending   map[string]chan map[string]interface{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(index int, endpoint string, log *logger.Logger, p *Pool) *Conn {
	c := &Conn{
		index:    index,
		endpoint: endpoint,
		log:      log.WithPrefix(fmt.Sprintf("conn%d", index)),
		pool:     p,
		outgoing: make(chan []byte, 64),
		pending:  make(map[string]chan map[string]interface{}),
		closed:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// connect dials the endpoint, starts the pumps, and reports the result to
// the pool. Runs in its own goroutine, one per pooled connection.
func (c *Conn) connect() {
	sock, err := net.Dial("unix", c.endpoint)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.pool.reportDialError(c, err)
		return
	}

	select {
	case <-c.closed:
		// Pool was torn down while the dial was in flight
		sock.Close()
		return
	default:
	}

	c.sockMu.Lock()
	c.sock = sock
	c.sockMu.Unlock()
	c.state.Store(int32(StateConnected))

	go c.readPump(sock)
	go c.writePump(sock)

	c.pool.reportConnected(c)
}

// Index returns the connection's position in the pool.
func (c *Conn) Index() int {
	return c.index
}

// State returns the connection's current state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// readPump owns reads from the socket. Replies are matched to pending calls
// by correlation id; anything else on the socket is daemon chatter and
// dropped. A read error of any kind ends the connection.
func (c *Conn) readPump(sock net.Conn) {
	reader := bufio.NewReader(sock)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			c.teardown(err)
			return
		}
		c.route(line)
	}
}

func (c *Conn) route(line string) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var reply map[string]interface{}
	if err := dec.Decode(&reply); err != nil {
		c.log.Debug("dropped undecodable socket line: %q", line)
		return
	}

	id, _ := reply["id"].(string)
	if id == "" {
		c.log.Debug("dropped socket line without correlation id")
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.log.Debug("dropped reply for unknown request %s", id)
		return
	}
	ch <- reply
}

// writePump owns writes to the socket.
func (c *Conn) writePump(sock net.Conn) {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.outgoing:
			if _, err := sock.Write(append(data, '\n')); err != nil {
				c.teardown(err)
				return
			}
		}
	}
}

// Call sends a command to the daemon over this connection and waits for the
// matching reply. It returns the reply's result object, or an error when the
// daemon reports one.
func (c *Conn) Call(ctx context.Context, command string, args map[string]interface{}) (map[string]interface{}, error) {
	if c.State() != StateConnected {
		return nil, &ConnError{Index: c.index, Endpoint: c.endpoint, Err: fmt.Errorf("not connected")}
	}

	id := uuid.NewString()
	req := map[string]interface{}{
		"id":      id,
		"command": command,
	}
	if len(args) > 0 {
		req["args"] = args
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan map[string]interface{}, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	select {
	case c.outgoing <- data:
	case <-c.closed:
		return nil, &ConnError{Index: c.index, Endpoint: c.endpoint, Err: fmt.Errorf("connection closed")}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-ch:
		if reply == nil {
			// Channel closed by teardown
			return nil, &ConnError{Index: c.index, Endpoint: c.endpoint, Err: fmt.Errorf("connection closed")}
		}
		if errMsg, ok := reply["error"].(string); ok && errMsg != "" {
			return nil, fmt.Errorf("daemon: %s", errMsg)
		}
		if result, ok := reply["result"].(map[string]interface{}); ok {
			return result, nil
		}
		return map[string]interface{}{}, nil
	case <-c.closed:
		return nil, &ConnError{Index: c.index, Endpoint: c.endpoint, Err: fmt.Errorf("connection closed")}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() {
	c.teardown(nil)
}

// teardown closes the socket, fails all pending calls, and reports the
// disconnect to the pool, exactly once. Only a connection that actually
// reached Connected counts against the pool's barrier.
func (c *Conn) teardown(cause error) {
	c.closeOnce.Do(func() {
		wasConnected := c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected))
		c.state.Store(int32(StateDisconnected))

		close(c.closed)

		c.sockMu.Lock()
		if c.sock != nil {
			c.sock.Close()
		}
		c.sockMu.Unlock()

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		if cause != nil {
			c.log.Debug("connection lost: %v", cause)
		}
		if wasConnected {
			c.pool.reportDisconnected(c)
		}
	})
}
