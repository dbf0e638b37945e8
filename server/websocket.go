package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/model"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

type wsMessage struct {
	Type string `json:"type"`
}

type BoardMessage struct {
	Type    string       `json:"type"`
	Payload BoardPayload `json:"payload"`
}

type BoardPayload struct {
	Station     model.Station           `json:"station"`
	Northbound  []model.MergedDeparture `json:"northbound"`
	Southbound  []model.MergedDeparture `json:"southbound"`
	LastRefresh *time.Time              `json:"lastRefresh,omitempty"`
	ServerTime  time.Time               `json:"serverTime"`
}

func boardMessage(engine *caltrain.Engine, stationID string, now time.Time, limit int) ([]byte, error) {
	dir, err := engine.Directory()
	if err != nil {
		return nil, err
	}
	station, found := dir.Station(stationID)
	if !found {
		return nil, caltrain.ErrNoStation
	}

	merged, err := engine.UpcomingDepartures(stationID, now)
	if err != nil {
		return nil, err
	}
	board := caltrain.NewBoard(merged, limit)

	msg := BoardMessage{
		Type: "board",
		Payload: BoardPayload{
			Station:    station,
			Northbound: board.Northbound,
			Southbound: board.Southbound,
			ServerTime: now,
		},
	}
	if last, found := engine.Gate.LastRefresh(); found {
		msg.Payload.LastRefresh = &last
	}

	return json.Marshal(msg)
}

type WSHandler struct {
	engine     *caltrain.Engine
	hub        *Hub
	boardLimit int
	logger     *slog.Logger
}

func NewWSHandler(engine *caltrain.Engine, hub *Hub, boardLimit int, logger *slog.Logger) *WSHandler {
	return &WSHandler{engine: engine, hub: hub, boardLimit: boardLimit, logger: logger}
}

// Streams a station's board. The current board is sent on connect,
// then whatever the poller broadcasts.
func (h *WSHandler) ServeLive(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")

	snapshot, err := boardMessage(h.engine, stationID, h.engine.TimeNow(), h.boardLimit)
	if err != nil {
		if errors.Is(err, caltrain.ErrNoStation) {
			respondError(w, http.StatusNotFound, "station not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := NewClient(uuid.New().String(), stationID, 16)
	client.TrySend(snapshot)

	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		if msg.Type == "ping" {
			pong, _ := json.Marshal(wsMessage{Type: "pong"})
			client.TrySend(pong)
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
