// Package dashboard provides the real-time WebSocket feed over the expense
// queue.
//
// The server broadcasts queue changes, sync completions and periodic queue
// statistics to connected clients. This is the reactive subscription the UI
// layer uses to keep its pending-expense list current without polling.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeQueueUpdate indicates rows were enqueued or removed.
	MessageTypeQueueUpdate MessageType = "queue_update"

	// MessageTypeSyncComplete indicates a sync cycle finished.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats carries periodic queue statistics.
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// QueueUpdateData describes an enqueue or removal.
type QueueUpdateData struct {
	Action   string `json:"action"` // enqueued, removed, cleared
	UniqueID string `json:"unique_id,omitempty"`
	Count    int    `json:"count"`
}

// SyncCompleteData describes a finished sync cycle.
type SyncCompleteData struct {
	Submitted int           `json:"submitted"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// StatsData carries queue statistics.
type StatsData struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	TotalAttempts int            `json:"total_attempts"`
	OldestPending *time.Time     `json:"oldest_pending,omitempty"`
}

// Server manages WebSocket connections and broadcasts queue messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// StatsFunc, if set, is polled on StatsInterval and its result broadcast
	// as a stats message.
	statsFunc     func(ctx context.Context) (*StatsData, error)
	statsInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8390).
	Port int

	// StatsFunc supplies the periodic statistics broadcast. Optional.
	StatsFunc func(ctx context.Context) (*StatsData, error)

	// StatsInterval is how often StatsFunc is polled (default: 5s).
	StatsInterval time.Duration

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:          8390,
		StatsInterval: 5 * time.Second,
		Logger:        log.Default(),
	}
}

// NewServer creates a new dashboard WebSocket server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:          fmt.Sprintf(":%d", config.Port),
		clients:       make(map[*websocket.Conn]bool),
		broadcast:     make(chan Message, 100),
		statsFunc:     config.StatsFunc,
		statsInterval: config.StatsInterval,
		ctx:           ctx,
		cancel:        cancel,
		logger:        config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	if s.statsFunc != nil {
		s.wg.Add(1)
		go s.statsLoop()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastQueueUpdate is a convenience wrapper for queue change messages.
func (s *Server) BroadcastQueueUpdate(data QueueUpdateData) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeQueueUpdate, Data: payload})
}

// BroadcastSyncComplete is a convenience wrapper for sync result messages.
func (s *Server) BroadcastSyncComplete(data SyncCompleteData) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncComplete, Data: payload})
}

// broadcastLoop handles message delivery to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// statsLoop periodically polls StatsFunc and broadcasts the result.
func (s *Server) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			stats, err := s.statsFunc(s.ctx)
			if err != nil {
				s.logger.Printf("Failed to collect stats: %v", err)
				continue
			}
			payload, err := json.Marshal(stats)
			if err != nil {
				continue
			}
			s.Broadcast(Message{Type: MessageTypeStats, Data: payload})
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // local tooling, any origin
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Push current stats immediately so new clients don't wait a tick.
	if s.statsFunc != nil {
		if stats, err := s.statsFunc(r.Context()); err == nil {
			if payload, err := json.Marshal(stats); err == nil {
				msg := Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: payload}
				if data, err := json.Marshal(msg); err == nil {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					_ = conn.Write(ctx, websocket.MessageText, data)
					cancel()
				}
			}
		}
	}

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed, the feed is one-way.
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleRoot returns basic server information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Expense Queue</title>
</head>
<body>
    <h1>Expense Queue Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to follow queue and sync activity.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
