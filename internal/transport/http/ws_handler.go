package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quizroom/internal/app"
	"quizroom/internal/domain"
)

// WSHandler streams room events to a connected player or spectator and
// accepts answers and buzzes on the same socket.
type WSHandler struct {
	rooms    *app.RoomService
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(rooms *app.RoomService, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		rooms:  rooms,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	AnswerIndex   int    `json:"answerIndex"`
	Digest        string `json:"digest"`
}

type buzzPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type joinPayload struct {
	DisplayName string `json:"displayName"`
}

type snapshotPayload struct {
	Room        domain.Room             `json:"room"`
	Leaderboard domain.Leaderboard      `json:"leaderboard"`
	Question    *domain.CurrentQuestion `json:"question,omitempty"`
}

type accepted struct {
	ID string `json:"id"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// Serve upgrades the request, sends a snapshot, then forwards every room
// event until either side goes away.
func (h *WSHandler) Serve(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("id")
	userID := callerID(c)

	room, err := h.rooms.Room(ctx, roomID)
	if err != nil {
		abortWithError(c, statusFor(err), err.Error())
		return
	}
	updates, cancel, err := h.rooms.Subscribe(ctx, roomID)
	if err != nil {
		abortWithError(c, statusFor(err), err.Error())
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("room", roomID), slog.Any("err", err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer: gorilla connections do not support concurrent writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", slog.String("room", roomID), slog.Any("err", err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	lb, err := h.rooms.Leaderboard(ctx, roomID)
	if err != nil {
		send <- errorMessage(err)
	} else {
		snap := snapshotPayload{Room: room, Leaderboard: lb}
		if q, err := h.rooms.CurrentQuestion(ctx, roomID); err == nil {
			snap.Question = &q
		}
		send <- outboundMessage{Type: "snapshot", Payload: snap}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		send <- h.handle(c, roomID, userID, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(c *gin.Context, roomID, userID string, inbound inboundMessage) outboundMessage {
	ctx := c.Request.Context()
	switch inbound.Type {
	case "join":
		var payload joinPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid join payload"}}
		}
		player, err := h.rooms.Join(ctx, roomID, userID, payload.DisplayName)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage{Type: "joined", Payload: player}
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
		}
		sub, err := h.rooms.SubmitAnswer(ctx, roomID, userID, payload.QuestionIndex, payload.AnswerIndex, payload.Digest)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage{Type: "answerAccepted", Payload: accepted{ID: sub.ID}}
	case "buzz":
		var payload buzzPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid buzz payload"}}
		}
		buzz, err := h.rooms.Buzz(ctx, roomID, userID, payload.Timestamp)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage{Type: "buzzAccepted", Payload: accepted{ID: buzz.ID}}
	default:
		return outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}
