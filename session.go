// Package botschafter brokers a messenger-cli style daemon for an embedding
// application: it spawns and supervises the daemon process, gates startup on
// its login handshake, maintains a pool of unix socket connections behind an
// all-or-nothing readiness barrier, and turns the daemon's output lines into
// classified events dispatched strictly in order.
package botschafter

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/codefionn/botschafter/internal/authgate"
	"github.com/codefionn/botschafter/internal/config"
	"github.com/codefionn/botschafter/internal/ingest"
	"github.com/codefionn/botschafter/internal/logger"
	"github.com/codefionn/botschafter/internal/pool"
	"github.com/codefionn/botschafter/internal/profile"
	"github.com/codefionn/botschafter/internal/securemem"
	"github.com/codefionn/botschafter/internal/supervisor"
)

// State is the session's lifecycle state.
type State int32

const (
	// StateIdle is the state before Connect
	StateIdle State = iota
	// StateSpawning means the daemon process is being started
	StateSpawning
	// StateAuthorizing means the login handshake is in progress
	StateAuthorizing
	// StatePoolConnecting means socket dials are in flight
	StatePoolConnecting
	// StateReady means all connections are up and events flow
	StateReady
	// StateDisconnecting means the session is tearing down
	StateDisconnecting
	// StateFailed means a spawn/auth/connection failure ended the session
	StateFailed
	// StateClosed is terminal; a session is never reused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateAuthorizing:
		return "authorizing"
	case StatePoolConnecting:
		return "pool-connecting"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler consumes one dispatched event. A returned error is logged together
// with the payload; it never stops dispatch.
type Handler func(*Event) error

// Profile supplies the session's own identity for classification. Refresh is
// invoked once, on readiness.
type Profile interface {
	Refresh(ctx context.Context) error
	CurrentUserID() int64
}

// Observer sees every classified event after the registered handler ran.
// Observers run on the dispatcher goroutine; a faulting observer is isolated
// the same way a faulting handler is.
type Observer interface {
	ObserveEvent(evt *Event)
}

// Session owns one daemon lifecycle end to end. Sessions are single-use:
// once Failed or Closed they are done, there is no retry or reconnect.
type Session struct {
	log *logger.Logger
	cfg config.DaemonConfig

	supervisor *supervisor.Supervisor
	gate       *authgate.Gate
	pool       *pool.Pool
	queue      *ingest.Queue
	ingester   *ingest.Ingester

	authProps *authgate.Properties
	profile   Profile

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	handlersMu sync.RWMutex
	handlers   map[EventType]Handler

	observers []Observer

	onReady      func()
	onDisconnect func()
	onFailure    func(error)

	procMu sync.Mutex
	proc   *supervisor.Process

	// reader is the one buffered view of the daemon's stdout, shared by the
	// gate and the ingester. Assigned in Connect before any pool goroutine
	// exists, read only from handlePoolReady.
	reader *bufio.Reader

	failOnce     sync.Once
	closeOnce    sync.Once
	dispatchDone chan struct{}
}

// DaemonConfig aliases the daemon launch configuration so embedders outside
// this module can construct one without reaching into internal packages.
type DaemonConfig = config.DaemonConfig

// AuthProperties aliases the credential set the auth gate consumes.
type AuthProperties = authgate.Properties

// NewSecret copies s into locked memory for wiring into AuthProperties. An
// empty s yields nil, which the gate treats as not configured.
func NewSecret(s string) *securemem.String {
	if s == "" {
		return nil
	}
	return securemem.NewString(s)
}

// NewSession creates a session for the given daemon configuration. Handlers,
// observers, auth properties, and callbacks are wired before Connect.
func NewSession(cfg config.DaemonConfig, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		log:          log.WithPrefix("session"),
		cfg:          cfg,
		gate:         authgate.New(log.WithPrefix("authgate")),
		pool:         pool.New(log.WithPrefix("pool"), cfg.GetSocketPath(), cfg.PoolSize),
		queue:        ingest.NewQueue(),
		ctx:          ctx,
		cancel:       cancel,
		handlers:     make(map[EventType]Handler),
		dispatchDone: make(chan struct{}),
	}

	s.supervisor = supervisor.New(log.WithPrefix("supervisor"), func(err error) {
		s.fail(err)
	})
	s.ingester = ingest.New(log.WithPrefix("ingest"), s.queue)
	s.profile = profile.New(s.pool, log.WithPrefix("profile"))

	s.pool.SetOnReady(s.handlePoolReady)
	s.pool.SetOnExhausted(s.handlePoolExhausted)
	s.pool.SetOnConnError(func(err *pool.ConnError) {
		s.fail(err)
	})

	return s
}

// SetAuthProperties configures login credentials. Without them the gate only
// skips the daemon's banner line. Set before Connect.
func (s *Session) SetAuthProperties(props *authgate.Properties) {
	s.authProps = props
}

// SetProfile replaces the default profile collaborator. Set before Connect.
func (s *Session) SetProfile(p Profile) {
	if p != nil {
		s.profile = p
	}
}

// SetDaemonPidfilePath makes the supervisor record the daemon's PID there.
func (s *Session) SetDaemonPidfilePath(path string) {
	s.supervisor.SetPidfilePath(path)
}

// RegisterHandler installs the single handler for an event type, replacing
// any previous one. Register before Connect; events for types without a
// handler are skipped silently.
func (s *Session) RegisterHandler(t EventType, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[t] = h
}

// AddObserver attaches an event observer. Attach before Connect.
func (s *Session) AddObserver(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// SetOnDisconnect registers the callback fired once when a ready session
// loses its last pooled connection. It does not fire on Close.
func (s *Session) SetOnDisconnect(fn func()) {
	s.onDisconnect = fn
}

// SetOnExecutionFailure registers the callback fired at most once, for the
// first spawn, authorization, or connection failure.
func (s *Session) SetOnExecutionFailure(fn func(error)) {
	s.onFailure = fn
}

// IsConnected reports whether the session is in the Ready state.
func (s *Session) IsConnected() bool {
	return s.State() == StateReady
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Connect spawns the daemon, drives the login handshake, and starts the
// connection pool. It returns once dialing is underway; onReady fires when
// every pooled connection is up. Failures reported here also reach the
// execution-failure callback.
func (s *Session) Connect(onReady func()) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateSpawning)) {
		return fmt.Errorf("connect from state %s", s.State())
	}
	s.onReady = onReady

	s.log.Info("spawning daemon: %s", s.cfg.Command)
	proc, err := s.supervisor.Start(s.cfg.Command)
	if err != nil {
		s.fail(err)
		return err
	}
	s.procMu.Lock()
	s.proc = proc
	s.procMu.Unlock()

	s.state.Store(int32(StateAuthorizing))

	// One buffered reader for the whole session: the gate consumes the
	// handshake from it, then the ingester owns the rest of the stream.
	s.reader = bufio.NewReader(proc.Stdout())
	if err := s.gate.Run(s.reader, proc.Stdin(), s.authProps); err != nil {
		s.fail(err)
		return err
	}

	s.state.Store(int32(StatePoolConnecting))

	if err := s.pool.Open(s.ctx); err != nil {
		s.fail(err)
		return err
	}

	return nil
}

// handlePoolReady runs on the connection goroutine that completed the
// barrier: refresh the profile, fire the caller's ready callback, then start
// ingestion and dispatch. A daemon that died in the meantime has already
// moved the session to Failed and the swap below keeps this a no-op.
func (s *Session) handlePoolReady() {
	if !s.state.CompareAndSwap(int32(StatePoolConnecting), int32(StateReady)) {
		return
	}

	if err := s.profile.Refresh(s.ctx); err != nil {
		// Classification degrades (everything looks received) but the
		// session stays usable.
		s.log.Warn("profile refresh failed: %v", err)
	}

	if s.onReady != nil {
		s.onReady()
	}

	go s.dispatchLoop()
	go s.ingester.Run(s.reader)
}

// handlePoolExhausted fires when the last pooled connection drops out from
// under a ready session. A teardown the embedder asked for comes through
// Close instead and does not reach the disconnect callback.
func (s *Session) handlePoolExhausted() {
	if !s.state.CompareAndSwap(int32(StateReady), int32(StateDisconnecting)) {
		return
	}

	s.log.Info("all pooled connections lost, disconnecting")
	s.queue.Close()

	if s.onDisconnect != nil {
		s.onDisconnect()
	}

	s.releaseProcess()
	s.cancel()
	s.state.Store(int32(StateClosed))
}

// fail moves the session to Failed exactly once, reports through the
// execution-failure callback, and releases everything. Terminal.
func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.state.Store(int32(StateFailed))
		s.log.Error("session failed: %v", err)

		if s.onFailure != nil {
			s.onFailure(err)
		}

		s.queue.Close()
		s.pool.Close()
		s.releaseProcess()
		s.cancel()
		s.state.Store(int32(StateClosed))
	})
}

// Close shuts the session down on the embedder's request: interrupt the
// daemon, drop the pool, drain dispatch. Idempotent. The disconnect and
// failure callbacks do not fire for a requested close.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		st := s.State()
		if st == StateClosed || st == StateFailed {
			return
		}
		s.state.Store(int32(StateDisconnecting))

		s.queue.Close()
		s.pool.Close()
		s.releaseProcess()
		s.cancel()

		s.state.Store(int32(StateClosed))
	})
}

// releaseProcess interrupts the daemon's process group if it is running.
func (s *Session) releaseProcess() {
	s.procMu.Lock()
	proc := s.proc
	s.procMu.Unlock()

	if proc != nil {
		if err := proc.Interrupt(); err != nil {
			s.log.Warn("daemon interrupt failed: %v", err)
		}
	}
}

// Call performs a command round-trip against the daemon on any live pooled
// connection. Only valid while connected.
func (s *Session) Call(ctx context.Context, command string, args map[string]interface{}) (map[string]interface{}, error) {
	return s.pool.Call(ctx, command, args)
}

// Profile returns the session's profile collaborator.
func (s *Session) Profile() Profile {
	return s.profile
}
