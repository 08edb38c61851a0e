// Package relay exposes the broker's event stream to local tooling: a small
// HTTP API over the journal plus a WebSocket feed of live events. It attaches
// to a session as an observer, so a session runs fine without it.
package relay

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/botschafter"
	"github.com/codefionn/botschafter/internal/journal"
	"github.com/codefionn/botschafter/internal/logger"
)

// Frame is one WebSocket message sent to relay clients.
type Frame struct {
	Type  string      `json:"type"`
	Event *EventFrame `json:"event,omitempty"`
}

// EventFrame is the wire form of a dispatched event.
type EventFrame struct {
	ReceivedAt time.Time              `json:"received_at"`
	EventType  string                 `json:"event_type"`
	Action     string                 `json:"action"`
	Payload    map[string]interface{} `json:"payload"`
}

// Server serves the relay API.
type Server struct {
	log     *logger.Logger
	addr    string
	token   string
	journal *journal.Journal
	hub     *Hub
	router  *httprouter.Router
	server  *http.Server
	ln      net.Listener
}

// NewServer creates a relay server. An empty token generates a random one
// for the run; Token returns the effective value. The journal may be nil;
// the history endpoints then report the feature as disabled.
func NewServer(addr, token string, j *journal.Journal, log *logger.Logger) *Server {
	if token == "" {
		token = newToken()
	}

	s := &Server{
		log:     log,
		addr:    addr,
		token:   token,
		journal: j,
		hub:     NewHub(log),
		router:  httprouter.New(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes. Everything except the liveness
// probe requires the client token.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/events/recent", s.requireToken(s.handleRecent))
	s.router.GET("/events/stats", s.requireToken(s.handleStats))
	s.router.GET("/peers/:peer_id/events", s.requireToken(s.handlePeerEvents))
	s.router.GET("/ws", s.requireToken(s.handleWebSocket))
}

func newToken() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Token returns the token clients must present.
func (s *Server) Token() string {
	return s.token
}

func (s *Server) requireToken(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !s.authorized(r) {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		h(w, r, ps)
	}
}

// authorized accepts the token as a bearer header or, for WebSocket clients
// that cannot set headers, as a query parameter.
func (s *Server) authorized(r *http.Request) bool {
	presented := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	} else {
		presented = r.URL.Query().Get("token")
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) == 1
}

// Handler returns the HTTP handler behind the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.server = &http.Server{Handler: s.router}

	go s.hub.Run()
	go func() {
		s.log.Info("relay listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("relay server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	s.hub.Stop()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// ObserveEvent implements botschafter.Observer by forwarding every
// dispatched event to the connected WebSocket clients.
func (s *Server) ObserveEvent(evt *botschafter.Event) {
	s.hub.Broadcast(&Frame{
		Type: "event",
		Event: &EventFrame{
			ReceivedAt: time.Now().UTC(),
			EventType:  evt.Type.String(),
			Action:     evt.Action.String(),
			Payload:    evt.Payload,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := queryLimit(r, 50)
	records, err := s.journal.Recent(limit)
	if err != nil {
		s.log.Error("relay: recent query failed: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.journal.Stats()
	if err != nil {
		s.log.Error("relay: stats query failed: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	total, err := s.journal.Count()
	if err != nil {
		s.log.Error("relay: count query failed: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total":   total,
		"by_type": stats,
	})
}

func (s *Server) handlePeerEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}

	peerID, err := strconv.ParseInt(ps.ByName("peer_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid peer id", http.StatusBadRequest)
		return
	}

	records, err := s.journal.PeerHistory(peerID, queryLimit(r, 50))
	if err != nil {
		s.log.Error("relay: peer history query failed: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // local tooling connects from anywhere
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade websocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn, s.log)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
