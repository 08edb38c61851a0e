package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DaemonConfig describes the supervised messenger daemon. The launch command
// is treated as opaque; rendering arguments into it is the embedder's concern.
type DaemonConfig struct {
	Command    string `json:"command"`
	SocketPath string `json:"socket_path"`
	PoolSize   int    `json:"pool_size"`
}

// GetSocketPath returns the daemon socket path with ~ expanded.
func (d *DaemonConfig) GetSocketPath() string {
	path := d.SocketPath
	if len(path) > 0 && path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(homeDir, path[1:])
	}
	return path
}

// AuthConfig controls the login gate. When Enabled is false the daemon is
// assumed to hold a valid session already and only the banner line is skipped.
type AuthConfig struct {
	Enabled     bool   `json:"enabled"`
	Phone       string `json:"phone,omitempty"`
	SecretsPath string `json:"secrets_path,omitempty"`
}

// JournalConfig controls the sqlite event journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// RelayConfig controls the local observer relay server. An empty Token means
// a random one is generated for each run.
type RelayConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

// PprofConfig controls the runtime profiling HTTP server. Profile files are
// run-scoped and selected by flags only.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// SandboxConfig controls Landlock confinement of the broker process.
type SandboxConfig struct {
	DisableSandbox           bool     `json:"disable_sandbox,omitempty"`
	BestEffort               bool     `json:"best_effort"`
	AdditionalReadOnlyPaths  []string `json:"additional_read_only_paths,omitempty"`
	AdditionalReadWritePaths []string `json:"additional_read_write_paths,omitempty"`
}

// Config represents application configuration
type Config struct {
	Daemon   DaemonConfig  `json:"daemon"`
	Auth     AuthConfig    `json:"auth"`
	Journal  JournalConfig `json:"journal"`
	Relay    RelayConfig   `json:"relay"`
	Pprof    PprofConfig   `json:"pprof"`
	Sandbox  SandboxConfig `json:"sandbox"`
	LogLevel string        `json:"log_level"` // debug, info, warn, error, none
	LogPath  string        `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "botschafter")
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "botschafter")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "botschafter")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "botschafter")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "botschafter")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "botschafter")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "botschafter")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "botschafter")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "botschafter")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		Daemon: DaemonConfig{
			Command:    "",
			SocketPath: filepath.Join(stateDir, "daemon.sock"),
			PoolSize:   2,
		},
		Auth: AuthConfig{
			Enabled:     false,
			SecretsPath: filepath.Join(stateDir, "credentials.enc"),
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    filepath.Join(stateDir, "journal.db"),
		},
		Relay: RelayConfig{
			Enabled: false,
			Addr:    "localhost:8937",
		},
		Pprof: PprofConfig{
			Enabled: false,
			Addr:    "localhost:6060",
		},
		Sandbox: SandboxConfig{
			BestEffort: true,
		},
		LogLevel: "info",
		LogPath:  filepath.Join(stateDir, "botschafter.log"),
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	// Ensure critical fields have defaults if still empty
	stateDir := defaultStateDir()
	if config.Daemon.SocketPath == "" {
		config.Daemon.SocketPath = filepath.Join(stateDir, "daemon.sock")
	}
	if config.Daemon.PoolSize <= 0 {
		config.Daemon.PoolSize = 2
	}
	if config.Auth.SecretsPath == "" {
		config.Auth.SecretsPath = filepath.Join(stateDir, "credentials.enc")
	}
	if config.Journal.Path == "" {
		config.Journal.Path = filepath.Join(stateDir, "journal.db")
	}
	if config.Relay.Addr == "" {
		config.Relay.Addr = "localhost:8937"
	}
	if config.Pprof.Addr == "" {
		config.Pprof.Addr = "localhost:6060"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(stateDir, "botschafter.log")
	}

	return config, nil
}

// Validate checks that the configuration can drive a session.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Daemon.Command) == "" {
		return fmt.Errorf("daemon.command is required")
	}
	if strings.TrimSpace(c.Daemon.SocketPath) == "" {
		return fmt.Errorf("daemon.socket_path is required")
	}
	if c.Daemon.PoolSize < 1 {
		return fmt.Errorf("daemon.pool_size must be at least 1, got %d", c.Daemon.PoolSize)
	}
	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// GetStateDir returns the per-user state directory (logs, lockfile, journal).
func GetStateDir() string {
	return defaultStateDir()
}
