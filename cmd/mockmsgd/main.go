// Command mockmsgd is a stand-in messenger daemon for exercising botschafter
// without a real msgd install. It speaks the complete broker-facing surface:
// a startup banner (or the login grammar with -auth) on stdio, line-oriented
// JSON commands on a unix socket, and a stream of synthetic message events on
// stdout. The source doubles as a reference for the wire protocol.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

type options struct {
	socketPath string

	auth     bool
	phone    string
	code     string
	password string
	failWith string

	selfID   int64
	interval time.Duration
	count    int
	chatter  bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	// The handshake resolves before the socket exists; the broker waits for
	// the socket file only after its auth gate has passed.
	if err := runHandshake(os.Stdout, bufio.NewReader(os.Stdin), opts); err != nil {
		return err
	}

	srv := newServer(opts)
	if err := srv.start(); err != nil {
		return err
	}
	defer srv.stop()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	return emitEvents(os.Stdout, opts, srv.self, srv.contacts, stop)
}

func parseArgs(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("mockmsgd", flag.ContinueOnError)
	fs.StringVar(&opts.socketPath, "socket", "mockmsgd.sock", "unix socket path to listen on")
	fs.BoolVar(&opts.auth, "auth", false, "drive the login grammar instead of printing a banner")
	fs.StringVar(&opts.phone, "phone", "", "expected phone number (empty accepts any)")
	fs.StringVar(&opts.code, "code", "12345", "expected login code")
	fs.StringVar(&opts.password, "password", "", "expected cloud password (empty skips the challenge)")
	fs.StringVar(&opts.failWith, "fail", "", "reject the login with this reason")
	fs.Int64Var(&opts.selfID, "self", 7, "peer id of the mock's own user")
	fs.DurationVar(&opts.interval, "interval", 2*time.Second, "delay between synthetic events (0 disables them)")
	fs.IntVar(&opts.count, "count", 0, "stop emitting after this many events (0 means unlimited)")
	fs.BoolVar(&opts.chatter, "chatter", true, "interleave non-protocol chatter lines")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(fs.Output(), "Stand-in messenger daemon for exercising botschafter end to end.")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.failWith != "" && !opts.auth {
		return opts, fmt.Errorf("-fail requires -auth")
	}
	return opts, nil
}

// runHandshake performs the stdio side of startup. Without -auth it prints
// the single banner line the broker skips. With -auth it emits one challenge
// per line and reads the reply for each, exactly the grammar the broker's
// auth gate answers:
//
//	auth phone_number      expects the phone on the next stdin line
//	auth code              expects the login code
//	auth password          expects the cloud password
//	auth ok                handshake finished
//	auth failed <reason>   handshake rejected
func runHandshake(out io.Writer, in *bufio.Reader, opts options) error {
	if !opts.auth {
		fmt.Fprintln(out, "mockmsgd ready")
		return nil
	}

	// Real daemons chat before the first challenge; the broker must skip it.
	fmt.Fprintln(out, "mockmsgd: loading session state")

	if opts.failWith != "" {
		fmt.Fprintf(out, "auth failed %s\n", opts.failWith)
		return fmt.Errorf("login rejected: %s", opts.failWith)
	}

	phone, err := challenge(out, in, "phone_number")
	if err != nil {
		return err
	}
	if opts.phone != "" && phone != opts.phone {
		fmt.Fprintln(out, "auth failed unknown phone number")
		return fmt.Errorf("login rejected: unknown phone number %q", phone)
	}

	code, err := challenge(out, in, "code")
	if err != nil {
		return err
	}
	if code != opts.code {
		fmt.Fprintln(out, "auth failed wrong login code")
		return fmt.Errorf("login rejected: wrong login code")
	}

	if opts.password != "" {
		password, err := challenge(out, in, "password")
		if err != nil {
			return err
		}
		if password != opts.password {
			fmt.Fprintln(out, "auth failed wrong password")
			return fmt.Errorf("login rejected: wrong password")
		}
	}

	fmt.Fprintln(out, "auth ok")
	return nil
}

func challenge(out io.Writer, in *bufio.Reader, what string) (string, error) {
	fmt.Fprintf(out, "auth %s\n", what)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading %s reply: %w", what, err)
	}
	return strings.TrimSpace(line), nil
}

// person is one user object as it appears on the wire.
type person struct {
	PeerID    int64  `json:"peer_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// dialog is one chat entry in a dialog_list reply.
type dialog struct {
	PeerID int64  `json:"peer_id"`
	Title  string `json:"title"`
}

type request struct {
	ID      string                 `json:"id"`
	Command string                 `json:"command"`
	Args    map[string]interface{} `json:"args"`
}

// server answers command requests on the unix socket. One goroutine per
// connection; replies are correlated to requests by their id field.
type server struct {
	socketPath string
	self       person
	contacts   []person
	dialogs    []dialog

	listener net.Listener
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

func newServer(opts options) *server {
	return &server{
		socketPath: opts.socketPath,
		self:       person{PeerID: opts.selfID, FirstName: "Mock", Username: "mockself"},
		contacts: []person{
			{PeerID: opts.selfID + 2, FirstName: "Alice", Username: "alice"},
			{PeerID: opts.selfID + 3, FirstName: "Bob", LastName: "Builder", Username: "bob"},
		},
		dialogs: []dialog{
			{PeerID: opts.selfID + 100, Title: "mock lounge"},
		},
		stopChan: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

func (s *server) start() error {
	absPath, err := prepareSocketPath(s.socketPath)
	if err != nil {
		return err
	}
	s.socketPath = absPath

	// A previous run may have left its socket file behind.
	if _, err := os.Stat(absPath); err == nil {
		os.Remove(absPath)
	}

	listener, err := net.Listen("unix", absPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", absPath, err)
	}
	if err := os.Chmod(absPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func prepareSocketPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve socket path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return "", fmt.Errorf("create socket directory: %w", err)
	}
	return absPath, nil
}

func (s *server) acceptLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		// Accept deadline so the loop can notice stopChan between accepts.
		s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(1 * time.Second))

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			fmt.Fprintf(os.Stderr, "mockmsgd: accept: %v\n", err)
			continue
		}

		s.trackConn(conn)
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil || req.ID == "" {
			continue
		}

		if err := writeLine(conn, s.reply(req)); err != nil {
			return
		}
	}
}

func (s *server) reply(req request) map[string]interface{} {
	switch req.Command {
	case "user_info":
		return result(req.ID, map[string]interface{}{"user": s.self})
	case "contact_list":
		return result(req.ID, map[string]interface{}{"contacts": s.contacts})
	case "dialog_list":
		return result(req.ID, map[string]interface{}{"dialogs": s.dialogs})
	case "echo":
		args := req.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		return result(req.ID, args)
	default:
		return map[string]interface{}{
			"id":    req.ID,
			"error": fmt.Sprintf("unknown command %q", req.Command),
		}
	}
}

func result(id string, payload map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"id": id, "result": payload}
}

func writeLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func (s *server) stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}
		s.connsMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()
	})
	s.wg.Wait()
	os.Remove(s.socketPath)
}

// emitEvents writes synthetic events to out until stop closes. Message
// direction alternates so the broker sees both sends and receives, and every
// fifth event is a service action instead of a message. After -count events
// the stream falls silent but the socket keeps serving.
func emitEvents(out io.Writer, opts options, self person, peers []person, stop <-chan struct{}) error {
	if opts.interval <= 0 {
		<-stop
		return nil
	}

	texts := []string{
		"hello from the mock daemon",
		"the pool should be ready by now",
		"lorem ipsum dolor sit amet",
		"did you get my last message?",
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
		}

		seq++
		if err := writeLine(out, buildEvent(seq, texts, self, peers)); err != nil {
			return err
		}
		if opts.chatter && seq%3 == 0 {
			fmt.Fprintln(out, "mockmsgd: flushing message queue")
		}

		if opts.count > 0 && seq >= opts.count {
			<-stop
			return nil
		}
	}
}

// buildEvent produces the payload for the seq-th synthetic event.
func buildEvent(seq int, texts []string, self person, peers []person) map[string]interface{} {
	peer := peers[seq%len(peers)]

	if seq%5 == 0 {
		return map[string]interface{}{
			"event":  "service",
			"id":     seq,
			"date":   time.Now().Unix(),
			"from":   peer,
			"action": "chat_add_user",
		}
	}

	from, to := peer, self
	if seq%4 == 0 {
		from, to = self, peer
	}
	return map[string]interface{}{
		"event": "message",
		"id":    seq,
		"date":  time.Now().Unix(),
		"from":  from,
		"to":    to,
		"text":  fmt.Sprintf("%s (#%d)", texts[seq%len(texts)], seq),
	}
}
