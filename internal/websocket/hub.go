// Package websocket pushes task progress to subscribed clients. One
// subscription follows one task id.
package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"

	"github.com/topicreel/api/internal/model"
)

type subscription struct {
	taskID string
	conn   *websocket.Conn
}

type broadcast struct {
	taskID  string
	payload []byte
}

// Hub fans task events out to all connections subscribed to the task.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*websocket.Conn]bool
	register   chan subscription
	unregister chan subscription
	events     chan broadcast
}

// NewHub creates a hub; call Run in a goroutine before use.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*websocket.Conn]bool),
		register:   make(chan subscription),
		unregister: make(chan subscription),
		events:     make(chan broadcast, 64),
	}
}

// Run processes subscription and broadcast events until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if h.clients[sub.taskID] == nil {
				h.clients[sub.taskID] = make(map[*websocket.Conn]bool)
			}
			h.clients[sub.taskID][sub.conn] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if conns := h.clients[sub.taskID]; conns != nil {
				delete(conns, sub.conn)
				if len(conns) == 0 {
					delete(h.clients, sub.taskID)
				}
			}
			h.mu.Unlock()

		case ev := <-h.events:
			h.mu.RLock()
			for conn := range h.clients[ev.taskID] {
				if err := conn.WriteMessage(websocket.TextMessage, ev.payload); err != nil {
					log.Printf("WebSocket write failed for task %s: %v", ev.taskID, err)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleConnection subscribes a connection to a task and blocks until the
// client disconnects. Ping messages are answered with pongs.
func (h *Hub) HandleConnection(conn *websocket.Conn, taskID string) {
	h.register <- subscription{taskID: taskID, conn: conn}
	defer func() {
		h.unregister <- subscription{taskID: taskID, conn: conn}
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m model.WSMessage
		if json.Unmarshal(msg, &m) == nil && m.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}
		}
	}
}

// BroadcastProgress pushes a progress update for a task.
func (h *Hub) BroadcastProgress(taskID string, state model.TaskState, progress int, stage model.Stage) {
	h.send(taskID, model.WSProgressMessage{
		Type:            model.WSMessageTypeProgress,
		TaskID:          taskID,
		State:           state,
		ProgressPercent: progress,
		CurrentStage:    stage,
	})
}

// BroadcastComplete pushes the final result of a completed task.
func (h *Hub) BroadcastComplete(taskID string, result interface{}) {
	h.send(taskID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		TaskID: taskID,
		Result: result,
	})
}

// BroadcastError pushes a terminal failure for a task.
func (h *Hub) BroadcastError(taskID, code, message string) {
	h.send(taskID, model.WSErrorMessage{
		Type:   model.WSMessageTypeError,
		TaskID: taskID,
		Error:  model.WSError{Code: code, Message: message},
	})
}

func (h *Hub) send(taskID string, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal WebSocket message: %v", err)
		return
	}
	select {
	case h.events <- broadcast{taskID: taskID, payload: payload}:
	default:
		// Drop the event rather than block the pipeline on slow readers.
	}
}
