package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/internal/heuristics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS middleware
	},
}

// Event types pushed to dashboards
const (
	EventAnalysisComplete = "analysis_complete"
	EventHighRiskRing     = "high_risk_ring"
)

// Event is the envelope of every message sent on /stream
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub maintains the set of active websocket clients and broadcasts messages.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		logger:    logger,
	}
}

// Run fans queued messages out to every client until Stop is called
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// a stuck client must not hang the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("websocket write failed", zap.Error(err))
				_ = client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Stop ends Run. The hub must not be used afterwards.
func (h *Hub) Stop() {
	close(h.broadcast)
}

// ClientCount returns the number of connected dashboards
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("websocket client connected", zap.Int("clients", total))

	// We only push, but reading is how disconnects are noticed
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			_ = conn.Close()
			h.logger.Info("websocket client disconnected", zap.Int("clients", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read failed", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Broadcast queues raw bytes for every client. When the queue is full the
// message is dropped rather than blocking the caller.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket queue full, dropping message", zap.Int("bytes", len(data)))
	}
}

// Publish encodes and broadcasts a typed event
func (h *Hub) Publish(eventType string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Warn("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.Broadcast(data)
}

// BroadcastRingAlert pushes high-risk ring alerts to dashboards.
// It is wired as the AlertManager's broadcast callback.
func BroadcastRingAlert(wsHub *Hub) func(heuristics.Alert) {
	return func(alert heuristics.Alert) {
		wsHub.Publish(EventHighRiskRing, alert)
	}
}
