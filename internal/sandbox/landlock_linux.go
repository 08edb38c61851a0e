//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	landlock "github.com/landlock-lsm/go-landlock/landlock"

	"github.com/codefionn/botschafter/internal/logger"
)

// Sandbox applies Landlock restrictions to the broker process.
type Sandbox struct {
	grants        []DirectoryPermission
	systemPaths   []DirectoryPermission
	customROPaths []string
	customRWPaths []string
	enabled       bool
	available     bool
	bestEffort    bool
	disabled      bool
}

// New creates a sandbox with the system default paths. Broker-specific
// grants are added with Grant before Restrict is called.
func New(cfg *SandboxConfig) *Sandbox {
	s := &Sandbox{
		systemPaths:   defaultSystemPaths(),
		bestEffort:    true,
		customROPaths: []string{},
		customRWPaths: []string{},
	}

	if cfg != nil {
		if cfg.DisableSandbox {
			s.disabled = true
			logger.Info("Landlock sandbox explicitly disabled via config")
			return s
		}
		s.customROPaths = cfg.AdditionalReadOnlyPaths
		s.customRWPaths = cfg.AdditionalReadWritePaths
		if cfg.BestEffort {
			s.bestEffort = true
		}
	}

	// Whether the kernel actually supports Landlock surfaces in Restrict
	s.available = true
	s.enabled = true
	return s
}

// Grant adds a path to the allowed set. Missing paths are skipped so a
// first run without a state directory does not brick the rule set.
func (s *Sandbox) Grant(path string, access AccessLevel) {
	if path == "" {
		return
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); err != nil {
		logger.Debug("sandbox: skipping missing path %s", absPath)
		return
	}
	s.grants = append(s.grants, DirectoryPermission{Path: absPath, Access: access})
}

// defaultSystemPaths returns the read-only system paths needed to exec the
// daemon plus the device files and temp directories most programs expect.
func defaultSystemPaths() []DirectoryPermission {
	var paths []DirectoryPermission
	added := make(map[string]bool)

	addIfExists := func(p string, access AccessLevel) {
		p = filepath.Clean(p)
		if added[p] {
			return
		}
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, DirectoryPermission{Path: p, Access: access})
			added[p] = true
		}
	}

	readOnly := []string{
		"/usr",
		"/bin",
		"/sbin",
		"/lib",
		"/lib64",
		"/etc",
		"/usr/local/bin",
		"/usr/local/lib",
		"/run/current-system/sw", // NixOS
		"/nix/store",
	}
	for _, p := range readOnly {
		addIfExists(p, AccessReadOnly)
	}

	devFiles := []string{
		"/dev/null",
		"/dev/zero",
		"/dev/random",
		"/dev/urandom",
		"/dev/stdin",
		"/dev/stdout",
		"/dev/stderr",
	}
	for _, p := range devFiles {
		addIfExists(p, AccessReadWrite)
	}

	addIfExists(os.TempDir(), AccessReadWrite)
	addIfExists("/tmp", AccessReadWrite)

	return paths
}

// IsEnabled returns whether sandboxing is currently enabled.
func (s *Sandbox) IsEnabled() bool {
	return s.enabled && s.available && !s.disabled
}

// Disable disables the sandbox.
func (s *Sandbox) Disable() {
	s.enabled = false
}

// AllowedPaths returns the current allowed paths, grants first.
func (s *Sandbox) AllowedPaths() []DirectoryPermission {
	result := make([]DirectoryPermission, 0, len(s.grants)+len(s.systemPaths))
	result = append(result, s.grants...)
	result = append(result, s.systemPaths...)
	return result
}

// Restrict applies Landlock restrictions to the current process. Call it
// after configuration is resolved and before the daemon is spawned; the
// spawned daemon inherits the restrictions.
func (s *Sandbox) Restrict() error {
	if !s.IsEnabled() {
		return nil
	}

	var roPaths []string
	var rwPaths []string

	for _, perm := range s.AllowedPaths() {
		switch perm.Access {
		case AccessReadOnly:
			roPaths = append(roPaths, perm.Path)
		case AccessReadWrite:
			rwPaths = append(rwPaths, perm.Path)
		}
	}

	for _, path := range s.customROPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		if _, err := os.Stat(absPath); err == nil {
			roPaths = append(roPaths, absPath)
			logger.Debug("Added custom read-only path: %s", absPath)
		}
	}
	for _, path := range s.customRWPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		if _, err := os.Stat(absPath); err == nil {
			rwPaths = append(rwPaths, absPath)
			logger.Debug("Added custom read-write path: %s", absPath)
		}
	}

	// Use RODirs/RWDirs for directories and ROFiles/RWFiles for regular
	// files, because Landlock rejects directory access rights on files.
	rules := make([]landlock.Rule, 0, len(roPaths)+len(rwPaths))
	for _, path := range roPaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			rules = append(rules, landlock.ROFiles(path))
		} else {
			rules = append(rules, landlock.RODirs(path))
		}
	}
	for _, path := range rwPaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			rules = append(rules, landlock.RWFiles(path))
		} else {
			rules = append(rules, landlock.RWDirs(path))
		}
	}

	var err error
	if s.bestEffort {
		err = landlock.V6.BestEffort().RestrictPaths(rules...)
	} else {
		err = landlock.V6.RestrictPaths(rules...)
	}

	if err != nil {
		logger.Warn("Landlock restriction failed: %v, proceeding without sandbox", err)
		s.available = false
		s.enabled = false
		return fmt.Errorf("landlock restriction failed: %w", err)
	}

	logger.Debug("Landlock restrictions applied: %d RO paths, %d RW paths", len(roPaths), len(rwPaths))
	return nil
}
