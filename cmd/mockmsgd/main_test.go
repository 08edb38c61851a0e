package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"
)

func TestHandshakeBannerMode(t *testing.T) {
	out := &bytes.Buffer{}
	in := bufio.NewReader(strings.NewReader(""))

	if err := runHandshake(out, in, options{}); err != nil {
		t.Fatalf("banner handshake failed: %v", err)
	}
	if got := out.String(); got != "mockmsgd ready\n" {
		t.Fatalf("unexpected banner output %q", got)
	}
}

func TestHandshakeAuthSuccess(t *testing.T) {
	out := &bytes.Buffer{}
	in := bufio.NewReader(strings.NewReader("+15551234\n99\nhunter2\n"))
	opts := options{auth: true, phone: "+15551234", code: "99", password: "hunter2"}

	if err := runHandshake(out, in, opts); err != nil {
		t.Fatalf("auth handshake failed: %v", err)
	}

	got := out.String()
	offset := 0
	for _, want := range []string{"auth phone_number", "auth code", "auth password", "auth ok"} {
		idx := strings.Index(got[offset:], want)
		if idx < 0 {
			t.Fatalf("challenge %q missing or out of order in output:\n%s", want, got)
		}
		offset += idx + len(want)
	}
}

func TestHandshakeSkipsPasswordWhenUnset(t *testing.T) {
	out := &bytes.Buffer{}
	in := bufio.NewReader(strings.NewReader("+15551234\n12345\n"))
	opts := options{auth: true, code: "12345"}

	if err := runHandshake(out, in, opts); err != nil {
		t.Fatalf("auth handshake failed: %v", err)
	}
	if strings.Contains(out.String(), "auth password") {
		t.Fatalf("password challenge emitted without a configured password:\n%s", out.String())
	}
}

func TestHandshakeWrongCode(t *testing.T) {
	out := &bytes.Buffer{}
	in := bufio.NewReader(strings.NewReader("+15551234\n00000\n"))
	opts := options{auth: true, code: "12345"}

	err := runHandshake(out, in, opts)
	if err == nil {
		t.Fatal("expected an error for a wrong login code")
	}
	if !strings.Contains(out.String(), "auth failed wrong login code") {
		t.Fatalf("rejection line missing from output:\n%s", out.String())
	}
}

func TestHandshakeForcedFailure(t *testing.T) {
	out := &bytes.Buffer{}
	in := bufio.NewReader(strings.NewReader(""))
	opts := options{auth: true, failWith: "flood wait"}

	err := runHandshake(out, in, opts)
	if err == nil {
		t.Fatal("expected an error for a forced failure")
	}
	if !strings.Contains(out.String(), "auth failed flood wait") {
		t.Fatalf("rejection line missing from output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "auth phone_number") {
		t.Fatalf("forced failure should not challenge first:\n%s", out.String())
	}
}

func TestReplyShapes(t *testing.T) {
	srv := newServer(options{socketPath: "unused.sock", selfID: 7})

	reply := srv.reply(request{ID: "a", Command: "user_info"})
	if reply["id"] != "a" {
		t.Fatalf("reply id = %v, want a", reply["id"])
	}
	user, ok := reply["result"].(map[string]interface{})["user"].(person)
	if !ok || user.PeerID != 7 {
		t.Fatalf("user_info reply carries %+v", reply["result"])
	}

	reply = srv.reply(request{ID: "b", Command: "teleport"})
	errMsg, ok := reply["error"].(string)
	if !ok || !strings.Contains(errMsg, "teleport") {
		t.Fatalf("unknown command reply = %+v", reply)
	}

	reply = srv.reply(request{ID: "c", Command: "echo", Args: map[string]interface{}{"x": "y"}})
	if reply["result"].(map[string]interface{})["x"] != "y" {
		t.Fatalf("echo reply = %+v", reply)
	}
}

func TestServeConnRoundTrip(t *testing.T) {
	srv := newServer(options{socketPath: "unused.sock", selfID: 7})
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	srv.wg.Add(1)
	go srv.serveConn(serverSide)

	if _, err := clientSide.Write([]byte(`{"id":"req-1","command":"user_info"}` + "\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reader := bufio.NewReader(clientSide)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	var reply map[string]interface{}
	if err := json.Unmarshal([]byte(line), &reply); err != nil {
		t.Fatalf("decode reply %q: %v", line, err)
	}
	if reply["id"] != "req-1" {
		t.Fatalf("reply id = %v, want req-1", reply["id"])
	}
	user, ok := reply["result"].(map[string]interface{})["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("reply has no user object: %q", line)
	}
	if user["peer_id"].(float64) != 7 {
		t.Fatalf("user peer_id = %v, want 7", user["peer_id"])
	}
}

func TestServeConnIgnoresGarbage(t *testing.T) {
	srv := newServer(options{socketPath: "unused.sock", selfID: 7})
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	srv.wg.Add(1)
	go srv.serveConn(serverSide)

	payload := "not json at all\n" + `{"command":"user_info"}` + "\n" + `{"id":"ok-1","command":"echo"}` + "\n"
	if _, err := clientSide.Write([]byte(payload)); err != nil {
		t.Fatalf("write requests: %v", err)
	}

	line, err := bufio.NewReader(clientSide).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.Contains(line, `"ok-1"`) {
		t.Fatalf("first reply should answer the first well-formed request, got %q", line)
	}
}

func TestBuildEventDirections(t *testing.T) {
	self := person{PeerID: 7, FirstName: "Mock"}
	peers := []person{{PeerID: 9, FirstName: "Alice"}, {PeerID: 10, FirstName: "Bob"}}
	texts := []string{"one", "two"}

	evt := buildEvent(1, texts, self, peers)
	if evt["event"] != "message" {
		t.Fatalf("seq 1 event = %v, want message", evt["event"])
	}
	if evt["from"].(person).PeerID == self.PeerID {
		t.Fatal("seq 1 should be an incoming message")
	}

	evt = buildEvent(4, texts, self, peers)
	if evt["from"].(person).PeerID != self.PeerID {
		t.Fatal("seq 4 should be sent from the mock's own user")
	}

	evt = buildEvent(5, texts, self, peers)
	if evt["event"] != "service" || evt["action"] != "chat_add_user" {
		t.Fatalf("seq 5 event = %+v, want a chat_add_user service event", evt)
	}
	if _, present := evt["text"]; present {
		t.Fatal("service events should carry no text")
	}

	data, err := json.Marshal(buildEvent(3, texts, self, peers))
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	for _, want := range []string{`"peer_id":9`, `"#3"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("marshalled event missing %s: %s", want, data)
		}
	}
}

func TestEmitEventsHonorsCount(t *testing.T) {
	out := &bytes.Buffer{}
	stop := make(chan struct{})
	done := make(chan error, 1)

	opts := options{interval: time.Millisecond, count: 3, chatter: false}
	self := person{PeerID: 7}
	peers := []person{{PeerID: 9}}

	go func() {
		done <- emitEvents(out, opts, self, peers, stop)
	}()

	time.Sleep(100 * time.Millisecond)
	close(stop)
	if err := <-done; err != nil {
		t.Fatalf("emitEvents: %v", err)
	}

	lines := strings.Count(out.String(), "\n")
	if lines != 3 {
		t.Fatalf("emitted %d lines, want 3:\n%s", lines, out.String())
	}
}

func TestParseArgsRejectsFailWithoutAuth(t *testing.T) {
	if _, err := parseArgs([]string{"-fail", "flood wait"}); err == nil {
		t.Fatal("expected an error for -fail without -auth")
	}
	if _, err := parseArgs([]string{"-auth", "-fail", "flood wait"}); err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
}
