package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/codefionn/botschafter"
	"github.com/codefionn/botschafter/internal/authgate"
	"github.com/codefionn/botschafter/internal/config"
	"github.com/codefionn/botschafter/internal/htmltext"
	"github.com/codefionn/botschafter/internal/journal"
	"github.com/codefionn/botschafter/internal/lockfile"
	"github.com/codefionn/botschafter/internal/logger"
	"github.com/codefionn/botschafter/internal/pidfile"
	"github.com/codefionn/botschafter/internal/pool"
	"github.com/codefionn/botschafter/internal/pprof"
	"github.com/codefionn/botschafter/internal/relay"
	"github.com/codefionn/botschafter/internal/sandbox"
	"github.com/codefionn/botschafter/internal/secrets"
	"github.com/codefionn/botschafter/internal/securemem"
	"github.com/codefionn/botschafter/internal/tui"
)

const maxPassphraseAttempts = 3

type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	*s = append(*s, value)
	return nil
}

type options struct {
	verb       string
	configPath string
	useTUI     bool

	daemonCommand string
	socketPath    string
	poolSize      int

	relayAddr string
	noRelay   bool
	noJournal bool
	noSandbox bool
	sandboxRO stringSlice
	sandboxRW stringSlice

	logLevel string

	pprofAddr        string
	cpuProfile       string
	heapProfile      string
	goroutineProfile string
	traceProfile     string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, parseErr := parseArgs(os.Args[1:])
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return nil
		}
		return parseErr
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = config.GetConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(cfg, opts)

	var loggerInitialized bool
	defer func() {
		if !loggerInitialized {
			return
		}
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	loggerInitialized = true

	logger.Info("botschafter starting")

	securemem.Init()
	defer securemem.Cleanup()

	switch opts.verb {
	case "login":
		return runLogin(cfg, cfgPath)
	case "status":
		return runStatus(cfg)
	default:
		return runBroker(cfg, opts)
	}
}

func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("botschafter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &options{}

	fs.StringVar(&opts.configPath, "config", "", "Path to the config file")
	fs.BoolVar(&opts.useTUI, "tui", false, "Show events in the interactive viewer instead of plain lines")
	fs.StringVar(&opts.daemonCommand, "daemon", "", "Daemon command line (overrides config)")
	fs.StringVar(&opts.socketPath, "socket", "", "Daemon unix socket path (overrides config)")
	fs.IntVar(&opts.poolSize, "pool", 0, "Connection pool size (overrides config)")
	fs.StringVar(&opts.relayAddr, "relay-addr", "", "Relay listen address (overrides config)")
	fs.BoolVar(&opts.noRelay, "no-relay", false, "Disable the observer relay")
	fs.BoolVar(&opts.noJournal, "no-journal", false, "Disable the event journal")
	fs.BoolVar(&opts.noSandbox, "no-sandbox", false, "Disable Landlock confinement")
	fs.Var(&opts.sandboxRO, "sandbox-ro", "Additional read-only path for the sandbox (repeatable)")
	fs.Var(&opts.sandboxRW, "sandbox-rw", "Additional read-write path for the sandbox (repeatable)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	fs.StringVar(&opts.pprofAddr, "pprof-addr", "", "Serve runtime profiles over HTTP on this address")
	fs.StringVar(&opts.cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	fs.StringVar(&opts.heapProfile, "heapprofile", "", "Write a heap profile to this file on shutdown")
	fs.StringVar(&opts.goroutineProfile, "goroutineprofile", "", "Write a goroutine profile to this file on shutdown")
	fs.StringVar(&opts.traceProfile, "traceprofile", "", "Write an execution trace to this file")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options] [login|status]\n\n", os.Args[0])
		fmt.Fprintln(fs.Output(), "Without a verb, spawns the daemon and streams its events.")
		fmt.Fprintln(fs.Output(), "  login   Capture and seal the daemon login credentials")
		fmt.Fprintln(fs.Output(), "  status  Probe the daemon socket and report broker state")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch remaining := fs.Args(); len(remaining) {
	case 0:
	case 1:
		switch remaining[0] {
		case "login", "status":
			opts.verb = remaining[0]
		default:
			return nil, fmt.Errorf("unknown verb %q", remaining[0])
		}
	default:
		return nil, fmt.Errorf("too many arguments: %s", strings.Join(remaining, " "))
	}

	return opts, nil
}

// applyOverrides layers environment and flag values over the loaded config.
func applyOverrides(cfg *config.Config, opts *options) {
	if envLevel := strings.TrimSpace(os.Getenv("BOTSCHAFTER_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv("BOTSCHAFTER_LOG_PATH")); envPath != "" {
		cfg.LogPath = envPath
	}

	if opts.daemonCommand != "" {
		cfg.Daemon.Command = opts.daemonCommand
	}
	if opts.socketPath != "" {
		cfg.Daemon.SocketPath = opts.socketPath
	}
	if opts.poolSize > 0 {
		cfg.Daemon.PoolSize = opts.poolSize
	}
	if opts.relayAddr != "" {
		cfg.Relay.Enabled = true
		cfg.Relay.Addr = opts.relayAddr
	}
	if opts.noRelay {
		cfg.Relay.Enabled = false
	}
	if opts.noJournal {
		cfg.Journal.Enabled = false
	}
	if opts.noSandbox {
		cfg.Sandbox.DisableSandbox = true
	}
	cfg.Sandbox.AdditionalReadOnlyPaths = append(cfg.Sandbox.AdditionalReadOnlyPaths, opts.sandboxRO...)
	cfg.Sandbox.AdditionalReadWritePaths = append(cfg.Sandbox.AdditionalReadWritePaths, opts.sandboxRW...)
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.pprofAddr != "" {
		cfg.Pprof.Enabled = true
		cfg.Pprof.Addr = opts.pprofAddr
	}
}

func runBroker(cfg *config.Config, opts *options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	stateDir := config.GetStateDir()
	lock := lockfile.ForStateDir(stateDir)
	if err := lock.TryAcquire(); err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			logger.Warn("failed to release lock: %v", releaseErr)
		}
	}()

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		jnl, err = journal.Open(cfg.Journal.Path, logger.Global())
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() {
			if closeErr := jnl.Close(); closeErr != nil {
				logger.Warn("failed to close journal: %v", closeErr)
			}
		}()
	}

	var relaySrv *relay.Server
	if cfg.Relay.Enabled {
		relaySrv = relay.NewServer(cfg.Relay.Addr, cfg.Relay.Token, jnl, logger.Global())
		if err := relaySrv.Start(); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
		defer func() {
			if stopErr := relaySrv.Stop(); stopErr != nil {
				logger.Warn("failed to stop relay: %v", stopErr)
			}
		}()
		logger.Info("relay listening on %s", relaySrv.Addr())
		if cfg.Relay.Token == "" {
			// Without the generated token no client can connect, so it has
			// to be surfaced somewhere.
			logger.Info("relay token: %s", relaySrv.Token())
		}
	}

	pprofCfg := pprof.Config{
		CPUProfile:       opts.cpuProfile,
		HeapProfile:      opts.heapProfile,
		GoroutineProfile: opts.goroutineProfile,
		TraceProfile:     opts.traceProfile,
	}
	if cfg.Pprof.Enabled {
		pprofCfg.HTTPAddr = cfg.Pprof.Addr
	}
	profiler := pprof.NewHandler(pprofCfg, logger.Global())
	if profiler.Enabled() {
		if err := profiler.Start(); err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
		defer func() {
			if stopErr := profiler.Stop(); stopErr != nil {
				logger.Warn("failed to stop profiling: %v", stopErr)
			}
		}()
	}

	// Confine before the daemon is spawned so the child inherits the ruleset.
	// Already-open files (log, journal, profiles) keep working regardless.
	applySandbox(cfg, stateDir)

	sess := botschafter.NewSession(cfg.Daemon, logger.Global())
	sess.SetDaemonPidfilePath(filepath.Join(stateDir, "daemon.pid"))
	if jnl != nil {
		sess.AddObserver(jnl)
	}
	if relaySrv != nil {
		sess.AddObserver(relaySrv)
	}

	if opts.useTUI {
		return runViewer(cfg, sess)
	}
	return runPlain(cfg, sess)
}

func applySandbox(cfg *config.Config, stateDir string) {
	sb := sandbox.ForBroker(&sandbox.SandboxConfig{
		DisableSandbox:           cfg.Sandbox.DisableSandbox,
		BestEffort:               cfg.Sandbox.BestEffort,
		AdditionalReadOnlyPaths:  cfg.Sandbox.AdditionalReadOnlyPaths,
		AdditionalReadWritePaths: cfg.Sandbox.AdditionalReadWritePaths,
	}, filepath.Dir(config.GetConfigPath()), stateDir, filepath.Dir(cfg.Daemon.GetSocketPath()))

	if !sb.IsEnabled() {
		logger.Debug("sandbox not active")
		return
	}
	if err := sb.Restrict(); err != nil {
		logger.Warn("sandbox not applied: %v", err)
		return
	}
	logger.Info("sandbox applied: broker confined to config, state and socket dirs")
}

// runPlain connects and streams classified events as plain lines on stdout
// until the daemon disconnects, fails, or a signal arrives.
func runPlain(cfg *config.Config, sess *botschafter.Session) error {
	sess.RegisterHandler(botschafter.EventReceiveMessage, printEvent("<-"))
	sess.RegisterHandler(botschafter.EventSendMessage, printEvent("->"))
	sess.RegisterHandler(botschafter.EventUndefined, func(evt *botschafter.Event) error {
		if name, ok := evt.Payload["event"].(string); ok {
			logger.Debug("unclassified daemon event: %s", name)
		}
		return nil
	})

	if cfg.Auth.Enabled {
		props, err := loadAuthProperties(cfg, func() (string, error) {
			return promptLine("Login code: ")
		})
		if err != nil {
			return err
		}
		sess.SetAuthProperties(props)
	}

	done := make(chan error, 1)
	report := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	sess.SetOnExecutionFailure(func(err error) {
		report(fmt.Errorf("session failed: %w", err))
	})
	sess.SetOnDisconnect(func() {
		report(errors.New("daemon connection lost"))
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := sess.Connect(func() {
		logger.Info("session ready, streaming events")
		fmt.Fprintln(os.Stderr, "Connected. Streaming events; Ctrl-C to stop.")
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		sess.Close()
		return err
	case sig := <-sigCh:
		logger.Info("received %v, shutting down", sig)
		sess.Close()
		return nil
	}
}

func printEvent(arrow string) botschafter.Handler {
	return func(evt *botschafter.Event) error {
		var sb strings.Builder
		sb.WriteString(arrow)
		if peer, ok := evt.SenderPeerID(); ok {
			fmt.Fprintf(&sb, " peer %d", peer)
		}
		if evt.Action != botschafter.ActionNone {
			fmt.Fprintf(&sb, " [%s]", evt.Action)
		}
		if text, ok := evt.Payload["text"].(string); ok && text != "" {
			sb.WriteString(": ")
			sb.WriteString(htmltext.Preview(text, 120))
		}
		fmt.Println(sb.String())
		return nil
	}
}

// runViewer connects in the background and drives the interactive viewer.
func runViewer(cfg *config.Config, sess *botschafter.Session) error {
	model := tui.New()
	feed := tui.NewFeed()
	sess.AddObserver(feed)

	program := tea.NewProgram(model, tea.WithAltScreen())
	feed.Attach(program)

	if cfg.Auth.Enabled {
		props, err := loadAuthProperties(cfg, func() (string, error) {
			// Hand the terminal back for the prompt, then resume the viewer.
			if err := program.ReleaseTerminal(); err != nil {
				return "", err
			}
			defer func() {
				if restoreErr := program.RestoreTerminal(); restoreErr != nil {
					logger.Warn("failed to restore terminal: %v", restoreErr)
				}
			}()
			return promptLine("Login code: ")
		})
		if err != nil {
			return err
		}
		sess.SetAuthProperties(props)
	}

	sess.SetOnExecutionFailure(func(err error) {
		feed.NotifyError(err)
		feed.NotifyState("failed")
	})
	sess.SetOnDisconnect(func() {
		feed.NotifyError(errors.New("daemon connection lost"))
		feed.NotifyState("closed")
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		program.Quit()
	}()

	go func() {
		feed.NotifyState(botschafter.StateSpawning.String())
		if err := sess.Connect(func() {
			feed.NotifyState(botschafter.StateReady.String())
		}); err != nil {
			// The failure callback has already surfaced it in the viewer.
			return
		}
		feed.NotifyState(sess.State().String())
	}()

	_, runErr := program.Run()
	sess.Close()
	if runErr != nil {
		return fmt.Errorf("viewer error: %w", runErr)
	}
	return nil
}

// runLogin captures the credential set interactively and seals it under the
// state directory for the authorization gate to use at connect time.
func runLogin(cfg *config.Config, cfgPath string) error {
	phone := strings.TrimSpace(cfg.Auth.Phone)
	if phone == "" {
		var err error
		phone, err = promptLine("Phone number (international format): ")
		if err != nil {
			return err
		}
		if phone == "" {
			return errors.New("phone number is required")
		}
	} else {
		fmt.Fprintf(os.Stderr, "Phone number (from config): %s\n", phone)
	}

	password, err := promptForPassword("Cloud password (empty if the account has none): ")
	if err != nil {
		return err
	}

	passphrase, err := promptForPassword("Passphrase for the credential store: ")
	if err != nil {
		return err
	}
	confirm, err := promptForPassword("Repeat passphrase: ")
	if err != nil {
		return err
	}
	if passphrase != confirm {
		return errors.New("passphrases do not match")
	}

	creds := &secrets.Credentials{Phone: phone, Password: password}
	if err := secrets.SealCredentials(creds, passphrase, cfg.Auth.SecretsPath); err != nil {
		return err
	}

	if !cfg.Auth.Enabled {
		cfg.Auth.Enabled = true
		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("credentials sealed but enabling auth in config failed: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "Credentials sealed to %s\n", cfg.Auth.SecretsPath)
	return nil
}

// runStatus reports on the daemon socket, the recorded daemon PID, and the
// journal without touching the running broker.
func runStatus(cfg *config.Config) error {
	stateDir := config.GetStateDir()
	socketPath := cfg.Daemon.GetSocketPath()

	var probeErr error
	if err := pool.Probe(socketPath); err != nil {
		probeErr = err
		fmt.Printf("socket:  %s (%v)\n", socketPath, err)
	} else {
		fmt.Printf("socket:  %s (accepting connections)\n", socketPath)
	}

	pf := pidfile.New(filepath.Join(stateDir, "daemon.pid"))
	if pid, err := pf.Read(); err == nil {
		running, why := lockfile.ProcessRunning(pid)
		if running {
			fmt.Printf("daemon:  pid %d (running)\n", pid)
		} else {
			fmt.Printf("daemon:  pid %d (%s)\n", pid, why)
		}
	} else {
		fmt.Println("daemon:  no recorded pid")
	}

	if cfg.Journal.Enabled {
		jnl, err := journal.Open(cfg.Journal.Path, logger.Global())
		if err != nil {
			fmt.Printf("journal: %s (cannot open: %v)\n", cfg.Journal.Path, err)
		} else {
			defer jnl.Close()
			if count, err := jnl.Count(); err == nil {
				fmt.Printf("journal: %d events at %s\n", count, cfg.Journal.Path)
			} else {
				fmt.Printf("journal: %s (cannot count: %v)\n", cfg.Journal.Path, err)
			}
		}
	} else {
		fmt.Println("journal: disabled")
	}

	return probeErr
}

// loadAuthProperties unseals the credential store and builds the gate's
// credential set. Empty fields stay nil so the gate can tell "not configured"
// from "configured empty".
func loadAuthProperties(cfg *config.Config, codePrompt func() (string, error)) (*authgate.Properties, error) {
	creds, err := unsealCredentials(cfg.Auth.SecretsPath)
	if err != nil {
		return nil, err
	}

	props := &authgate.Properties{CodePrompt: codePrompt}
	phone := creds.Phone
	if phone == "" {
		phone = cfg.Auth.Phone
	}
	if phone != "" {
		props.Phone = securemem.NewString(phone)
	}
	if creds.Password != "" {
		props.Password = securemem.NewString(creds.Password)
	}
	return props, nil
}

func unsealCredentials(path string) (*secrets.Credentials, error) {
	for attempt := 0; attempt < maxPassphraseAttempts; attempt++ {
		passphrase, err := promptForPassword("Credential store passphrase: ")
		if err != nil {
			return nil, err
		}
		creds, err := secrets.OpenCredentials(path, passphrase)
		if err == nil {
			return creds, nil
		}
		if errors.Is(err, secrets.ErrNoCredentials) {
			return nil, fmt.Errorf("no sealed credentials at %s; run `botschafter login` first", path)
		}
		if errors.Is(err, secrets.ErrInvalidPassword) {
			fmt.Fprintln(os.Stderr, "Invalid passphrase, try again.")
			continue
		}
		return nil, err
	}
	return nil, errors.New("too many invalid passphrase attempts")
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	return readLine()
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	return readLine()
}

func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
