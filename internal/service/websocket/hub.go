package websocket

import (
	"context"
	"sync"
	"time"

	"crowdwatch/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	broadcastQueue = 64
	writeWait      = 5 * time.Second
)

type message struct {
	vehicleID string
	payload   []byte
}

// HubService fans crowd updates out to connected viewers.
// A viewer subscribed with an empty vehicle id receives every update.
type HubService struct {
	clients    map[*websocket.Conn]string
	broadcast  chan message
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

type subscription struct {
	conn      *websocket.Conn
	vehicleID string
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan message, broadcastQueue),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes all viewers.
// Register and Unregister stop blocking once Run has returned.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case sub := <-h.register:
			h.mutex.Lock()
			h.clients[sub.conn] = sub.vehicleID
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", count)

		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

func (h *HubService) send(msg message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client, vehicleID := range h.clients {
		if vehicleID != "" && vehicleID != msg.vehicleID {
			continue
		}
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
			h.logger.Error("Error sending message: %v", err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

// Register subscribes a viewer to updates of vehicleID, or all vehicles when empty.
func (h *HubService) Register(client *websocket.Conn, vehicleID string) {
	select {
	case h.register <- subscription{conn: client, vehicleID: vehicleID}:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues payload for viewers of vehicleID. It never blocks; a full queue drops the message.
func (h *HubService) Broadcast(payload []byte, vehicleID string) {
	select {
	case h.broadcast <- message{vehicleID: vehicleID, payload: payload}:
	default:
		h.logger.Warning("Broadcast queue full, dropping update for vehicle %s", vehicleID)
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
