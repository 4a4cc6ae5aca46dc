package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/observability"
)

const maxWSConnections = 200

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is delegated to the CORS layer.
		return true
	},
}

// MetricsHub broadcasts the dashboard snapshot to every WebSocket client
// once per second. A single broadcaster loop serves all clients.
type MetricsHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	dashboard  *DashboardService
	logger     *zap.Logger
}

// NewMetricsHub builds the hub; Run must be started separately.
func NewMetricsHub(dashboard *DashboardService, logger *zap.Logger) *MetricsHub {
	return &MetricsHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		dashboard:  dashboard,
		logger:     logger,
	}
}

// Run is the hub's main loop.
func (h *MetricsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				h.logger.Warn("dashboard connection rejected",
					zap.Int("max_connections", maxWSConnections))
				continue
			}
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(total))
			h.logger.Info("dashboard client connected", zap.Int("total", total))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(total))
			h.logger.Info("dashboard client disconnected", zap.Int("total", total))

		case <-ticker.C:
			h.broadcastAll(ctx)
		}
	}
}

func (h *MetricsHub) broadcastAll(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	metrics, err := h.dashboard.GetDashboardMetrics(ctx)
	if err != nil {
		h.logger.Warn("dashboard snapshot failed", zap.Error(err))
		return
	}

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(metrics); err != nil {
			h.logger.Warn("dashboard write failed", zap.Error(err))
			go h.Unregister(conn)
		}
	}
}

func (h *MetricsHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	observability.WSClients.Set(0)
}

// Register adds a client connection.
func (h *MetricsHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *MetricsHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *MetricsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleDashboardStream upgrades to WebSocket and registers with the hub.
func (a *API) handleDashboardStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	a.wsHub.Register(conn)
	defer a.wsHub.Unregister(conn)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Read pump exists only to detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				a.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}
