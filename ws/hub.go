package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"

	"escrowd/room"
)

type session struct {
	conn   *websocket.Conn
	userID string
}

// Hub tracks the live connections per room and fans committed results out to
// them. Writes are fire-and-forget: a session that cannot accept a frame
// within the write timeout is closed and dropped, never blocking the rest of
// the room.
type Hub struct {
	mu           sync.Mutex
	rooms        map[string]map[*session]struct{}
	writeTimeout time.Duration
	logger       *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		rooms:        map[string]map[*session]struct{}{},
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

func (h *Hub) add(phrase string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[phrase] == nil {
		h.rooms[phrase] = map[*session]struct{}{}
	}
	h.rooms[phrase][s] = struct{}{}
}

func (h *Hub) remove(phrase string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[phrase], s)
	if len(h.rooms[phrase]) == 0 {
		delete(h.rooms, phrase)
	}
}

func (h *Hub) sessions(phrase string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[phrase])
}

// Broadcast sends one frame to every session in the room.
func (h *Hub) Broadcast(phrase string, env Outbound) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Printf("ws: marshal broadcast: %v", err)
		return
	}

	h.mu.Lock()
	targets := make([]*session, 0, len(h.rooms[phrase]))
	for s := range h.rooms[phrase] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := s.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Printf("ws: dropping session %s in room %q: %v", s.userID, phrase, err)
			s.conn.Close(websocket.StatusInternalError, "write failed")
			h.remove(phrase, s)
		}
	}
}

// Publish fans out a committed room result: the fresh snapshot when state
// changed, plus every chat or admin line the transition produced.
func (h *Hub) Publish(phrase string, res room.Result) {
	if res.StateChanged {
		snapshot := res.Snapshot
		h.Broadcast(phrase, Outbound{Type: TypeStateUpdate, Room: &snapshot})
	}
	for _, msg := range res.Broadcast {
		h.Broadcast(phrase, messageFrame(msg))
	}
}
