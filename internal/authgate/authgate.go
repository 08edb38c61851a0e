// Package authgate holds back session startup until the daemon has finished
// its login handshake. Event ingestion must not see a single byte of the
// output stream before the gate resolves.
package authgate

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/codefionn/botschafter/internal/logger"
)

// AuthError reports a failed login handshake. It travels the same failure
// path as a spawn error and ends the session.
type AuthError struct {
	Stage string
	Err   error
}

func (e *AuthError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("authorization failed: %v", e.Err)
	}
	return fmt.Sprintf("authorization failed at %s: %v", e.Stage, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Gate drives the startup handshake over the daemon's stdio.
type Gate struct {
	log *logger.Logger
}

// New creates a gate.
func New(log *logger.Logger) *Gate {
	if log == nil {
		log = logger.Global().WithPrefix("authgate")
	}
	return &Gate{log: log}
}

// Run consumes the daemon's startup output from r, answering challenges on w.
// Without configured credentials (props == nil) it consumes exactly one
// banner line and returns. With credentials it drives the login grammar via
// the properties' responder until the daemon reports success or failure.
//
// r must be the same buffered reader later handed to the ingester, otherwise
// bytes buffered here would be lost to it.
func (g *Gate) Run(r *bufio.Reader, w io.Writer, props *Properties) error {
	if props == nil {
		return g.skipBanner(r)
	}
	return g.RunWith(r, w, props.responder())
}

// RunWith drives the handshake with a custom responder. Embedders whose
// daemon speaks a different login grammar plug in here.
func (g *Gate) RunWith(r *bufio.Reader, w io.Writer, resp Responder) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return &AuthError{Stage: "handshake", Err: fmt.Errorf("daemon output ended: %w", err)}
		}

		challenge := strings.TrimSpace(line)
		reply, done, err := resp.Respond(challenge)
		if err != nil {
			return &AuthError{Stage: challenge, Err: err}
		}

		if reply != "" {
			if _, err := io.WriteString(w, reply+"\n"); err != nil {
				return &AuthError{Stage: challenge, Err: fmt.Errorf("write reply: %w", err)}
			}
		}

		if done {
			g.log.Info("authorization complete")
			return nil
		}
	}
}

func (g *Gate) skipBanner(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return &AuthError{Stage: "banner", Err: fmt.Errorf("daemon output ended: %w", err)}
	}
	g.log.Debug("skipped banner: %q", strings.TrimSpace(line))
	return nil
}
