// Package pprof exposes the broker's runtime profiles, either over a local
// HTTP server or as files written on shutdown. Useful when the dispatcher
// stalls or the pool leaks goroutines.
package pprof

import (
	"context"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"time"

	"github.com/codefionn/botschafter/internal/logger"
)

// Config selects what to profile. All fields are optional; an empty config
// makes Start and Stop no-ops.
type Config struct {
	// HTTPAddr serves the full /debug/pprof tree when set, e.g. "localhost:6060".
	HTTPAddr string

	// File paths written between Start and Stop.
	CPUProfile       string
	HeapProfile      string
	GoroutineProfile string
	TraceProfile     string
}

// Handler manages profiling for one broker run.
type Handler struct {
	config    Config
	log       *logger.Logger
	server    *http.Server
	listener  net.Listener
	cpuFile   *os.File
	traceFile *os.File

	mu       sync.Mutex
	stopping bool
}

// NewHandler creates a pprof handler with the given configuration.
func NewHandler(config Config, log *logger.Logger) *Handler {
	return &Handler{config: config, log: log}
}

// Enabled reports whether the configuration asks for any profiling.
func (h *Handler) Enabled() bool {
	c := h.config
	return c.HTTPAddr != "" || c.CPUProfile != "" || c.HeapProfile != "" ||
		c.GoroutineProfile != "" || c.TraceProfile != ""
}

// Addr returns the bound HTTP address, empty when no server runs.
func (h *Handler) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Start begins profiling based on the configuration.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config.CPUProfile != "" {
		f, err := createProfileFile(h.config.CPUProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.TraceProfile != "" {
		f, err := createProfileFile(h.config.TraceProfile)
		if err != nil {
			return err
		}
		if err := trace.Start(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start execution tracing: %w", err)
		}
		h.traceFile = f
	}

	if h.config.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", netpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)

		ln, err := net.Listen("tcp", h.config.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to bind pprof HTTP server: %w", err)
		}

		h.listener = ln
		h.server = &http.Server{Handler: mux}

		go func() {
			h.log.Info("pprof listening on %s", ln.Addr())
			if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				h.log.Error("pprof server error: %v", err)
			}
		}()
	}

	return nil
}

// Stop stops profiling and writes the configured profile files.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopping {
		return nil
	}
	h.stopping = true

	var errs []error

	if h.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := h.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile: %w", err))
		}
		h.cpuFile = nil
	}

	if h.traceFile != nil {
		trace.Stop()
		if err := h.traceFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close trace profile: %w", err))
		}
		h.traceFile = nil
	}

	if h.config.HeapProfile != "" {
		f, err := createProfileFile(h.config.HeapProfile)
		if err != nil {
			errs = append(errs, err)
		} else {
			if err := pprof.WriteHeapProfile(f); err != nil {
				errs = append(errs, fmt.Errorf("failed to write heap profile: %w", err))
			}
			f.Close()
		}
	}

	if h.config.GoroutineProfile != "" {
		f, err := createProfileFile(h.config.GoroutineProfile)
		if err != nil {
			errs = append(errs, err)
		} else {
			if err := pprof.Lookup("goroutine").WriteTo(f, 0); err != nil {
				errs = append(errs, fmt.Errorf("failed to write goroutine profile: %w", err))
			}
			f.Close()
		}
	}

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown pprof server: %w", err))
		}
		h.server = nil
		h.listener = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred: %v", errs)
	}
	return nil
}

func createProfileFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	return f, nil
}
