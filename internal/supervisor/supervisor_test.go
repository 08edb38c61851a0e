//go:build !windows

package supervisor

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strconv"
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

func TestStartBogusCommand(t *testing.T) {
	s := New(testLogger(), nil)

	_, err := s.Start("/definitely/not/a/real/binary-12345")
	require.Error(t, err)

	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
}

func TestStartEmptyCommand(t *testing.T) {
	s := New(testLogger(), nil)

	_, err := s.Start("   ")
	require.Error(t, err)

	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
}

func TestUnexpectedExitFiresHandlerOnce(t *testing.T) {
	var fired atomic.Int32
	done := make(chan struct{})

	s := New(testLogger(), func(err error) {
		fired.Add(1)
		close(done)
	})

	proc, err := s.Start("sh -c 'exit 3'")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("exit handler never fired")
	}

	<-proc.Done()
	assert.Equal(t, int32(1), fired.Load())
	assert.Error(t, proc.ExitErr())
}

func TestInterruptSuppressesHandler(t *testing.T) {
	var fired atomic.Int32

	s := New(testLogger(), func(err error) {
		fired.Add(1)
	})

	proc, err := s.Start("sleep 30")
	require.NoError(t, err)

	require.NoError(t, proc.Interrupt())
	// Second interrupt is a no-op
	require.NoError(t, proc.Interrupt())

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after interrupt")
	}

	// Give a potential stray callback a moment to fire
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "requested shutdown must not fire the failure handler")
}

func TestStdoutStream(t *testing.T) {
	s := New(testLogger(), nil)

	proc, err := s.Start(`sh -c 'echo hello; echo world'`)
	require.NoError(t, err)

	reader := bufio.NewReader(proc.Stdout())
	line1, err := reader.ReadString('\n')
	require.NoError(t, err)
	line2, err := reader.ReadString('\n')
	require.NoError(t, err)

	assert.Equal(t, "hello\n", line1)
	assert.Equal(t, "world\n", line2)

	<-proc.Done()
}

func TestStdinReachesDaemon(t *testing.T) {
	s := New(testLogger(), nil)

	proc, err := s.Start("cat")
	require.NoError(t, err)

	_, err = proc.Stdin().Write([]byte("ping\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(proc.Stdout())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	require.NoError(t, proc.Interrupt())
	<-proc.Done()
}

func TestPidfileWrittenAndRemoved(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "daemon.pid")

	s := New(testLogger(), nil)
	s.SetPidfilePath(pidPath)

	proc, err := s.Start("sleep 30")
	require.NoError(t, err)

	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, proc.PID(), pid)

	require.NoError(t, proc.Interrupt())
	<-proc.Done()

	// monitorExit removes the pidfile after the daemon is gone
	assert.Eventually(t, func() bool {
		_, statErr := os.Stat(pidPath)
		return os.IsNotExist(statErr)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQuotedCommandSplitting(t *testing.T) {
	s := New(testLogger(), nil)

	proc, err := s.Start(`sh -c 'echo "one two"'`)
	require.NoError(t, err)

	reader := bufio.NewReader(proc.Stdout())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "one two\n", line)

	<-proc.Done()
}
