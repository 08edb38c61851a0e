// Package sandbox confines the broker process with Linux Landlock. The
// broker needs very little of the filesystem: its configuration read-only,
// its state directory and the daemon socket directory read-write, and the
// system paths required to exec the daemon. On non-Linux systems or when
// Landlock is unavailable, the broker runs unconfined.
package sandbox

// AccessLevel represents the type of filesystem access granted to a path.
type AccessLevel int

const (
	// AccessReadOnly grants read-only access (read files, list directories)
	AccessReadOnly AccessLevel = iota
	// AccessReadWrite grants read and write access
	AccessReadWrite
)

// DirectoryPermission represents a path with its access level.
type DirectoryPermission struct {
	Path   string
	Access AccessLevel
}

// SandboxConfig holds configuration for additional sandbox paths.
// This is a mirror of config.SandboxConfig to avoid import cycles.
type SandboxConfig struct {
	AdditionalReadOnlyPaths  []string
	AdditionalReadWritePaths []string
	DisableSandbox           bool
	BestEffort               bool
}

// ForBroker builds the confinement set for a broker run: configuration
// read-only, the state and socket directories read-write. A daemon binary
// outside the standard system paths needs an entry in
// AdditionalReadOnlyPaths.
func ForBroker(cfg *SandboxConfig, configDir, stateDir, socketDir string) *Sandbox {
	s := New(cfg)
	s.Grant(configDir, AccessReadOnly)
	s.Grant(stateDir, AccessReadWrite)
	s.Grant(socketDir, AccessReadWrite)
	return s
}
