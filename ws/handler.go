package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"escrowd/room"
)

// RoomService is the slice of the room service the handler drives.
type RoomService interface {
	Join(ctx context.Context, phrase, userID string) (room.Result, error)
	Handle(ctx context.Context, intent room.Intent) (room.Result, error)
}

// Handler upgrades connections, enforces the join policy, and pumps client
// intents into the room service.
type Handler struct {
	hub      *Hub
	rooms    RoomService
	escalate func(phrase string)
	logger   *log.Logger
}

func NewHandler(hub *Hub, rooms RoomService, escalate func(string), logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	if escalate == nil {
		escalate = func(string) {}
	}
	return &Handler{hub: hub, rooms: rooms, escalate: escalate, logger: logger}
}

// Serve handles GET /api/ws/{room_phrase}/{user_id}.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	phrase := chi.URLParam(r, "room_phrase")
	userID := chi.URLParam(r, "user_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Printf("ws: accept: %v", err)
		return
	}

	joinCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	res, err := h.rooms.Join(joinCtx, phrase, userID)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, room.ErrNotFound):
			conn.Close(websocket.StatusPolicyViolation, "unknown room")
		case errors.Is(err, room.ErrUnauthorizedParty), errors.Is(err, room.ErrInvalidTransition):
			conn.Close(websocket.StatusPolicyViolation, "room is not open to you")
		default:
			h.logger.Printf("ws: join room %q: %v", phrase, err)
			conn.Close(websocket.StatusInternalError, "join failed")
		}
		return
	}

	s := &session{conn: conn, userID: userID}
	h.hub.add(phrase, s)
	defer func() {
		h.hub.remove(phrase, s)
		left := room.Message{Type: TypeAdminMessage, Message: fmt.Sprintf("%s disconnected.", userID), Timestamp: time.Now().UTC()}
		h.hub.Broadcast(phrase, messageFrame(left))
	}()

	snapshot := res.Snapshot
	if err := h.write(conn, Outbound{Type: TypeConnected, Room: &snapshot}); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	h.hub.Publish(phrase, res)

	h.readLoop(r.Context(), conn, phrase, userID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, phrase, userID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Normal closure or a gone peer ends the loop quietly.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			conn.Close(websocket.StatusProtocolError, "malformed frame")
			return
		}

		if in.Type == TypePing {
			if err := h.write(conn, Outbound{Type: TypePong}); err != nil {
				return
			}
			continue
		}

		intent := room.Intent{
			RoomPhrase:    phrase,
			ActorID:       userID,
			Type:          in.Type,
			Description:   in.Description,
			Message:       in.Message,
			SignedMessage: in.SignedMessage,
		}

		res, err := h.rooms.Handle(ctx, intent)
		if err != nil {
			// A rejected intent is answered on this session only; the
			// room state is untouched. An intent type outside the protocol
			// gets a warning rather than an error.
			frame := Outbound{Type: TypeError, Error: err.Error()}
			if errors.Is(err, room.ErrUnknownIntent) {
				frame.Type = TypeWarning
			}
			if writeErr := h.write(conn, frame); writeErr != nil {
				return
			}
			continue
		}

		h.hub.Publish(phrase, res)
		if res.EscalateDispute {
			go h.escalate(phrase)
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, env Outbound) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
