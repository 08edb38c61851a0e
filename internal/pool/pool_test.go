package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/botschafter/internal/logger"
)

func testLogger() *logger.Logger {
	l, _ := logger.New(logger.LevelNone, "", "")
	return l
}

// fakeDaemon is an in-process unix socket server speaking the daemon's
// line-JSON command protocol.
type fakeDaemon struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func startFakeDaemon(t *testing.T, path string) *fakeDaemon {
	t.Helper()

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	fd := &fakeDaemon{ln: ln}
	go fd.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return fd
}

func (f *fakeDaemon) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		go f.serve(conn)
	}
}

func (f *fakeDaemon) serve(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		var req map[string]interface{}
		if json.Unmarshal([]byte(line), &req) != nil {
			continue
		}
		id, _ := req["id"].(string)
		command, _ := req["command"].(string)

		var reply map[string]interface{}
		switch command {
		case "user_info":
			reply = map[string]interface{}{
				"id": id,
				"result": map[string]interface{}{
					"user": map[string]interface{}{"peer_id": 7, "first_name": "Self"},
				},
			}
		case "boom":
			reply = map[string]interface{}{"id": id, "error": "boom failed"}
		default:
			reply = map[string]interface{}{
				"id":     id,
				"result": map[string]interface{}{"echo": command},
			}
		}

		data, _ := json.Marshal(reply)
		if _, err := conn.Write(append(data, '\n')); err != nil {
			return
		}
	}
}

// closeConns drops every accepted connection, daemon side.
func (f *fakeDaemon) closeConns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func sockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "msgd.sock")
}

func openReadyPool(t *testing.T, path string, size int) (*Pool, chan struct{}, *atomic.Int32) {
	t.Helper()

	var exhausted atomic.Int32
	ready := make(chan struct{})

	p := New(testLogger(), path, size)
	p.SetOnReady(func() { close(ready) })
	p.SetOnExhausted(func() { exhausted.Add(1) })
	require.NoError(t, p.Open(context.Background()))
	t.Cleanup(p.Close)

	return p, ready, &exhausted
}

func TestPoolReadyFiresOnceAtFullSize(t *testing.T) {
	path := sockPath(t)
	startFakeDaemon(t, path)

	var readyCount atomic.Int32
	ready := make(chan struct{}, 8)

	p := New(testLogger(), path, 4)
	p.SetOnReady(func() {
		readyCount.Add(1)
		ready <- struct{}{}
	})
	require.NoError(t, p.Open(context.Background()))
	defer p.Close()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("pool never became ready")
	}

	assert.Equal(t, 4, p.ConnectedCount())

	// No second readiness event sneaks in
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), readyCount.Load())
}

func TestBarrierUnderShuffledSignalOrder(t *testing.T) {
	// Drive the counter directly with concurrent signals; whichever order
	// the scheduler picks, the crossings must fire exactly once.
	for trial := 0; trial < 20; trial++ {
		var ready, exhausted atomic.Int32

		p := New(testLogger(), "unused.sock", 5)
		p.SetOnReady(func() { ready.Add(1) })
		p.SetOnExhausted(func() { exhausted.Add(1) })

		conns := make([]*Conn, 5)
		for i := range conns {
			conns[i] = &Conn{index: i}
		}

		var wg sync.WaitGroup
		for _, c := range conns {
			wg.Add(1)
			go func(c *Conn) {
				defer wg.Done()
				p.reportConnected(c)
			}(c)
		}
		wg.Wait()

		require.Equal(t, int32(1), ready.Load())
		require.Equal(t, 5, p.ConnectedCount())

		for _, c := range conns {
			wg.Add(1)
			go func(c *Conn) {
				defer wg.Done()
				p.reportDisconnected(c)
			}(c)
		}
		wg.Wait()

		require.Equal(t, int32(1), exhausted.Load())
		require.Equal(t, int32(1), ready.Load())
		require.Equal(t, 0, p.ConnectedCount())
	}
}

func TestPoolExhaustionFiresOnceWhenDaemonDropsAll(t *testing.T) {
	path := sockPath(t)
	fd := startFakeDaemon(t, path)

	_, ready, exhausted := openReadyPool(t, path, 3)

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("pool never became ready")
	}

	fd.closeConns()

	assert.Eventually(t, func() bool {
		return exhausted.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Still exactly one after things settle
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), exhausted.Load())
}

func TestPoolExhaustionFiresOnceOnClose(t *testing.T) {
	path := sockPath(t)
	startFakeDaemon(t, path)

	p, ready, exhausted := openReadyPool(t, path, 2)

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("pool never became ready")
	}

	p.Close()
	p.Close()

	assert.Eventually(t, func() bool {
		return exhausted.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.ConnectedCount())
}

func TestPoolDialErrorSurfaced(t *testing.T) {
	path := sockPath(t)

	// Leave the socket file behind with nobody accepting
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())

	connErrs := make(chan *ConnError, 4)

	p := New(testLogger(), path, 2)
	p.SetOnConnError(func(e *ConnError) { connErrs <- e })
	require.NoError(t, p.Open(context.Background()))
	defer p.Close()

	select {
	case e := <-connErrs:
		assert.GreaterOrEqual(t, e.Index, 0)
		assert.Less(t, e.Index, 2)
		assert.Equal(t, path, e.Endpoint)
		assert.Error(t, e.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("dial failure never surfaced")
	}
}

func TestPoolOpenTwice(t *testing.T) {
	path := sockPath(t)
	startFakeDaemon(t, path)

	p, ready, _ := openReadyPool(t, path, 1)
	<-ready

	err := p.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already opened")
}

func TestConnCallRoundTrip(t *testing.T) {
	path := sockPath(t)
	startFakeDaemon(t, path)

	p, ready, _ := openReadyPool(t, path, 1)
	<-ready

	result, err := p.Call(context.Background(), "user_info", nil)
	require.NoError(t, err)

	user, ok := result["user"].(map[string]interface{})
	require.True(t, ok)

	peerID, err := user["peer_id"].(json.Number).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), peerID)
}

func TestConnCallDaemonError(t *testing.T) {
	path := sockPath(t)
	startFakeDaemon(t, path)

	p, ready, _ := openReadyPool(t, path, 1)
	<-ready

	_, err := p.Call(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom failed")
}

func TestConnConcurrentCallsCorrelate(t *testing.T) {
	path := sockPath(t)
	startFakeDaemon(t, path)

	p, ready, _ := openReadyPool(t, path, 2)
	<-ready

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			command := fmt.Sprintf("echo_%d", i)
			result, err := p.Call(context.Background(), command, nil)
			assert.NoError(t, err)
			assert.Equal(t, command, result["echo"])
		}(i)
	}
	wg.Wait()
}

func TestPoolCallAfterClose(t *testing.T) {
	path := sockPath(t)
	startFakeDaemon(t, path)

	p, ready, _ := openReadyPool(t, path, 1)
	<-ready
	p.Close()

	assert.Eventually(t, func() bool {
		return p.ConnectedCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err := p.Call(context.Background(), "user_info", nil)
	require.Error(t, err)

	var connErr *ConnError
	assert.True(t, errors.As(err, &connErr))
}

func TestConnCallContextCancelled(t *testing.T) {
	path := sockPath(t)

	// A daemon that accepts but never replies
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				// Swallow input forever
				buf := make([]byte, 1024)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	p, ready, _ := openReadyPool(t, path, 1)
	<-ready

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = p.Call(ctx, "user_info", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
