// Package signal streams switch decisions to websocket clients.
package signal

import (
	"net/http"
	"sync"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MessageSnapshot = "snapshot"
	MessageDecision = "decision"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ClientGauge receives the number of connected clients.
type ClientGauge interface {
	SetWebsocketClients(n int)
}

type WebSocketServer struct {
	monitor ports.MonitorService
	gauge   ClientGauge

	mu             sync.Mutex
	clients        int
	maxConnections int

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

// DecisionMessage is what clients receive. A snapshot carries the last
// tick on connect; a decision carries one new evaluation.
type DecisionMessage struct {
	Type        string              `json:"type"`
	Evaluation  *domain.Evaluation  `json:"evaluation,omitempty"`
	Evaluations []domain.Evaluation `json:"evaluations,omitempty"`
}

func NewWebSocketServer(monitor ports.MonitorService, gauge ClientGauge, maxConnections int, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		monitor:        monitor,
		gauge:          gauge,
		maxConnections: maxConnections,
		pingInterval:   30 * time.Second,
		readTimeout:    60 * time.Second,
		writeTimeout:   10 * time.Second,
		logger:         logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// HandleWebSocket upgrades the request and streams evaluations until the
// client goes away. The optional "server" query parameter filters by entry
// name.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		http.Error(w, "too many websocket connections", http.StatusServiceUnavailable)
		return
	}
	defer s.release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	server := r.URL.Query().Get("server")
	keep := func(e domain.Evaluation) bool {
		return server == "" || e.Server == server
	}

	evaluations, unsubscribe := s.monitor.Subscribe()
	defer unsubscribe()

	s.logger.Infow("decision subscriber connected", "remote_addr", r.RemoteAddr, "server", server)

	snapshot := DecisionMessage{Type: MessageSnapshot, Evaluations: []domain.Evaluation{}}
	for _, e := range s.monitor.Latest() {
		if keep(e) {
			snapshot.Evaluations = append(snapshot.Evaluations, e)
		}
	}
	if err := s.write(conn, snapshot); err != nil {
		s.logger.Infow("error sending snapshot", "error", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	// Clients send nothing; reading keeps pong and close frames flowing.
	errorChan := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errorChan <- err
				return
			}
		}
	}()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case e, ok := <-evaluations:
			if !ok {
				return
			}
			if !keep(e) {
				continue
			}
			if err := s.write(conn, DecisionMessage{Type: MessageDecision, Evaluation: &e}); err != nil {
				s.logger.Infow("error sending decision", "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from subscriber", "error", err)
			}
			s.logger.Infow("decision subscriber disconnected", "remote_addr", r.RemoteAddr)
			return
		}
	}
}

func (s *WebSocketServer) write(conn *websocket.Conn, msg DecisionMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(msg)
}

func (s *WebSocketServer) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxConnections > 0 && s.clients >= s.maxConnections {
		return false
	}
	s.clients++
	s.reportClients()
	return true
}

func (s *WebSocketServer) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients--
	s.reportClients()
}

func (s *WebSocketServer) reportClients() {
	if s.gauge != nil {
		s.gauge.SetWebsocketClients(s.clients)
	}
}

// ConnectedClients returns the number of open subscriptions.
func (s *WebSocketServer) ConnectedClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}
