// Package supervisor owns the messenger daemon's lifecycle: it spawns the
// process in its own process group, exposes its stdio streams, reports the
// first unexpected exit, and tears the process down with a graceful interrupt
// rather than a kill.
package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/shlex"

	"github.com/codefionn/botschafter/internal/logger"
	"github.com/codefionn/botschafter/internal/pidfile"
)

// SpawnError reports that the daemon failed to start or exited unexpectedly.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("daemon %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitHandler receives the first unexpected exit of the supervised daemon.
// err is the daemon's wait error (nil when it exited cleanly on its own).
type ExitHandler func(err error)

// Process is a running daemon under supervision.
type Process struct {
	command string
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stdin   io.WriteCloser
	pgid    int

	interruptOnce sync.Once
	interrupted   atomic.Bool

	waitDone chan struct{}
	waitErr  error
}

// Supervisor spawns and monitors one daemon at a time.
type Supervisor struct {
	log     *logger.Logger
	pidPath string

	exitOnce sync.Once
	onExit   ExitHandler
}

// New creates a supervisor. The exit handler fires at most once, and only for
// exits the broker did not request.
func New(log *logger.Logger, onExit ExitHandler) *Supervisor {
	if log == nil {
		log = logger.Global().WithPrefix("supervisor")
	}
	return &Supervisor{
		log:    log,
		onExit: onExit,
	}
}

// SetPidfilePath makes Start record the daemon's PID at the given path.
func (s *Supervisor) SetPidfilePath(path string) {
	s.pidPath = path
}

// Start launches the daemon described by the opaque command string. The
// command is split shell-style; rendering arguments into it is the
// embedder's concern.
func (s *Supervisor) Start(command string) (*Process, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, &SpawnError{Command: command, Err: fmt.Errorf("parse command: %w", err)}
	}
	if len(argv) == 0 {
		return nil, &SpawnError{Command: command, Err: fmt.Errorf("empty command")}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	proc := &Process{
		command:  command,
		cmd:      cmd,
		stdout:   stdout,
		stdin:    stdin,
		pgid:     getProcessGroupID(cmd),
		waitDone: make(chan struct{}),
	}

	s.log.Info("spawned daemon pid=%d pgid=%d", cmd.Process.Pid, proc.pgid)

	if s.pidPath != "" {
		if err := pidfile.New(s.pidPath).WriteFor(cmd.Process.Pid); err != nil {
			s.log.Warn("failed to write daemon pidfile: %v", err)
		}
	}

	go s.drainStderr(stderr)
	go s.monitorExit(proc)

	return proc, nil
}

// drainStderr keeps the daemon's stderr from filling its pipe; lines surface
// at debug level only.
func (s *Supervisor) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.log.Debug("daemon stderr: %s", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// monitorExit is the sole caller of cmd.Wait. It closes waitDone for anyone
// waiting on teardown and reports unrequested exits exactly once.
func (s *Supervisor) monitorExit(proc *Process) {
	err := proc.cmd.Wait()
	proc.waitErr = err
	close(proc.waitDone)

	if s.pidPath != "" {
		if rmErr := pidfile.New(s.pidPath).Remove(); rmErr != nil {
			s.log.Warn("failed to remove daemon pidfile: %v", rmErr)
		}
	}

	if proc.interrupted.Load() {
		s.log.Info("daemon exited after interrupt: %v", err)
		return
	}

	s.log.Error("daemon exited unexpectedly: %v", err)
	s.reportExit(&SpawnError{Command: proc.command, Err: fmt.Errorf("unexpected exit: %w", normalizeExitErr(err))})
}

func (s *Supervisor) reportExit(err error) {
	s.exitOnce.Do(func() {
		if s.onExit != nil {
			s.onExit(err)
		}
	})
}

func normalizeExitErr(err error) error {
	if err == nil {
		return fmt.Errorf("clean exit")
	}
	return err
}

// Stdout returns the daemon's stdout stream. The authorization gate consumes
// it first, then the ingester owns it for the rest of the session.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stdin returns the daemon's stdin, used by the authorization gate to answer
// login challenges.
func (p *Process) Stdin() io.Writer {
	return p.stdin
}

// PID returns the daemon's process id.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Interrupt asks the daemon's process group to shut down gracefully. It is
// idempotent; only the first call delivers the signal.
func (p *Process) Interrupt() error {
	var err error
	p.interruptOnce.Do(func() {
		p.interrupted.Store(true)
		if p.pgid > 0 {
			err = interruptProcessGroup(p.pgid)
			return
		}
		if p.cmd != nil && p.cmd.Process != nil {
			err = p.cmd.Process.Signal(os.Interrupt)
		}
	})
	return err
}

// Done is closed once the daemon has fully exited.
func (p *Process) Done() <-chan struct{} {
	return p.waitDone
}

// ExitErr returns the daemon's wait error. Valid after Done is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.waitDone:
		return p.waitErr
	default:
		return nil
	}
}
