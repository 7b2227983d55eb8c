// Package surface exposes the session over HTTP and WebSocket: a start
// entry point, a state snapshot accessor, a live state stream for the
// rendering layer, and the camera-frame push endpoint.
package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/gazeprobe/internal/bus"
	"github.com/normanking/gazeprobe/internal/detect"
	"github.com/normanking/gazeprobe/internal/logging"
	"github.com/normanking/gazeprobe/internal/probe"
	"github.com/rs/zerolog"
)

// logHistoryReplay is how many recent log entries a newly connected
// client receives before the live stream starts
const logHistoryReplay = 100

// stateEvents are the bus events that should trigger a push to
// connected rendering clients
var stateEvents = []bus.EventType{
	bus.EventTypeSessionStarted,
	bus.EventTypeCountdownTick,
	bus.EventTypePointerMoved,
	bus.EventTypeSessionFinished,
	bus.EventTypeSessionStopped,
}

// WSInboundMessage is what a capture/render client may send us
type WSInboundMessage struct {
	Type   string `json:"type"`            // frame, start
	Data   string `json:"data,omitempty"`  // base64 JPEG for frame
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// WSStateMessage carries a session snapshot to rendering clients
type WSStateMessage struct {
	Type  string         `json:"type"`
	State probe.Snapshot `json:"state"`
}

// WSLogMessage streams one log entry to connected clients
type WSLogMessage struct {
	Type  string        `json:"type"`
	Entry logging.Entry `json:"entry"`
}

// WSLogHistoryMessage replays recent log entries to a new client
type WSLogHistoryMessage struct {
	Type    string          `json:"type"`
	Entries []logging.Entry `json:"entries"`
}

// Server is the control and rendering surface
type Server struct {
	controller *probe.Controller
	frames     *detect.Frames
	eventBus   *bus.EventBus
	logger     zerolog.Logger
	syslog     *logging.Logger
	upgrader   websocket.Upgrader
	httpSrv    *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client is one connected WebSocket peer with serialized writes
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewServer creates the surface server
func NewServer(host string, port int, controller *probe.Controller, frames *detect.Frames, eventBus *bus.EventBus, logger zerolog.Logger) *Server {
	s := &Server{
		controller: controller,
		frames:     frames,
		eventBus:   eventBus,
		logger:     logger.With().Str("component", "surface").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 4096,
			// Capture page is served from the same host during development
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session/start", s.handleStart)
	mux.HandleFunc("/api/v1/session", s.handleSession)
	mux.HandleFunc("/api/v1/session/ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// AttachLogStream streams log entries to connected clients: recent
// history is replayed on connect, then every new entry is pushed as it
// is written. Call before Start.
func (s *Server) AttachLogStream(syslog *logging.Logger) {
	s.syslog = syslog
	syslog.SetOnLog(func(entry logging.Entry) {
		s.broadcastLog(entry)
	})
}

// Start subscribes to state events and begins serving
func (s *Server) Start() error {
	if s.eventBus != nil {
		s.eventBus.SubscribeMultiple(stateEvents, func(bus.Event) {
			s.broadcast(s.controller.Snapshot())
		})
	}

	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("Surface server listening")

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Surface server failed")
		}
	}()

	return nil
}

// Shutdown stops the server and closes all client connections
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.controller.Start()
	s.writeSnapshot(w)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeSnapshot(w)
}

func (s *Server) writeSnapshot(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.controller.Snapshot()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write snapshot")
	}
}

// handleWS upgrades the connection and serves the two-way stream:
// frames and start commands in, state snapshots out.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", count).Msg("Surface client connected")

	// Current state first so a late joiner renders immediately
	if err := c.writeJSON(WSStateMessage{Type: "state", State: s.controller.Snapshot()}); err != nil {
		s.drop(c)
		return
	}

	if s.syslog != nil {
		history := s.syslog.History(logHistoryReplay)
		if err := c.writeJSON(WSLogHistoryMessage{Type: "log_history", Entries: history}); err != nil {
			s.drop(c)
			return
		}
	}

	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.drop(c)

	for {
		var msg WSInboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Surface client read error")
			}
			return
		}

		switch msg.Type {
		case "frame":
			if s.frames != nil {
				if err := s.frames.Push(msg.Data, msg.Width, msg.Height); err != nil {
					s.logger.Warn().Err(err).Msg("Frame push rejected")
				}
			}
		case "start":
			s.controller.Start()
		default:
			s.logger.Debug().Str("type", msg.Type).Msg("Unknown surface message type")
		}
	}
}

// broadcast pushes a snapshot to every connected client
func (s *Server) broadcast(snap probe.Snapshot) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	msg := WSStateMessage{Type: "state", State: snap}
	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			s.drop(c)
		}
	}
}

// broadcastLog pushes one log entry to every connected client
func (s *Server) broadcastLog(entry logging.Entry) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	msg := WSLogMessage{Type: "log", Entry: entry}
	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			s.drop(c)
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
	}
	count := len(s.clients)
	s.mu.Unlock()

	if ok {
		c.conn.Close()
		s.logger.Info().Int("clients", count).Msg("Surface client disconnected")
	}
}
