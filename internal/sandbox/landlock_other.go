//go:build !linux

package sandbox

import (
	"path/filepath"

	"github.com/codefionn/botschafter/internal/logger"
)

// Sandbox is a no-op implementation for non-Linux systems.
type Sandbox struct {
	grants []DirectoryPermission
}

// New creates a new sandbox (no-op on non-Linux).
func New(cfg *SandboxConfig) *Sandbox {
	logger.Debug("Landlock sandboxing not available on this platform (non-Linux)")
	return &Sandbox{}
}

// Grant records a path (no-op on non-Linux).
func (s *Sandbox) Grant(path string, access AccessLevel) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	s.grants = append(s.grants, DirectoryPermission{Path: absPath, Access: access})
}

// IsEnabled always returns false on non-Linux.
func (s *Sandbox) IsEnabled() bool {
	return false
}

// Disable is a no-op on non-Linux.
func (s *Sandbox) Disable() {}

// AllowedPaths returns the recorded paths.
func (s *Sandbox) AllowedPaths() []DirectoryPermission {
	result := make([]DirectoryPermission, len(s.grants))
	copy(result, s.grants)
	return result
}

// Restrict is a no-op on non-Linux.
func (s *Sandbox) Restrict() error {
	return nil
}
