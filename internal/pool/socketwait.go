package pool

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/botschafter/internal/logger"
)

// IsSocket reports whether path exists and is a unix socket.
func IsSocket(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSocket != 0
}

// Probe checks that a daemon is actually accepting on the socket. Used by
// the status command, not by the connection path.
func Probe(path string) error {
	if !IsSocket(path) {
		return fmt.Errorf("%s is not a unix socket", path)
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return fmt.Errorf("socket exists but refuses connections: %w", err)
	}
	return conn.Close()
}

// WaitForSocket blocks until the daemon's socket file exists. The daemon
// creates it at its own pace after authorization, so the pool watches the
// parent directory for the create event, with a periodic stat in case the
// creation raced watcher setup. No timeout; cancellation comes from ctx.
func WaitForSocket(ctx context.Context, path string) error {
	if IsSocket(path) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Global().Warn("failed to create socket watcher, polling instead: %v", err)
		return pollForSocket(ctx, path)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		// Parent directory may not exist yet
		return pollForSocket(ctx, path)
	}

	// The socket may have appeared between the first stat and watcher setup
	if IsSocket(path) {
		return nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return pollForSocket(ctx, path)
			}
			if event.Name == path && event.Op&fsnotify.Create != 0 && IsSocket(path) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return pollForSocket(ctx, path)
			}
			logger.Global().Warn("socket watcher error: %v", err)
		case <-ticker.C:
			if IsSocket(path) {
				return nil
			}
		}
	}
}

func pollForSocket(ctx context.Context, path string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if IsSocket(path) {
				return nil
			}
		}
	}
}
