package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"tripplan/internal/domain"
	"tripplan/internal/hub"
	"tripplan/internal/panel"
	"tripplan/internal/session"
	"tripplan/internal/store"
)

type WSHandler struct {
	hub    *hub.Hub
	store  *store.Store
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, s *store.Store, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, store: s, logger: logger.With("component", "ws")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type LoadPayload struct {
	Hash string `json:"hash"`
}

type PlanPayload struct {
	Form panel.FormState `json:"form"`
}

type SearchPayload struct {
	Field domain.Field `json:"field"`
	Name  string       `json:"name"`
}

type NearestPayload struct {
	Field     domain.Field `json:"field"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(r.URL.Query().Get("session"))
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := hub.NewClient(uuid.NewString(), sess.ID, 256)
	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client, sess)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client, sess *session.Session) {
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

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "load":
			var payload LoadPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			sess.LoadFragment(payload.Hash)

		case "plan":
			var payload PlanPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				h.logger.Debug("invalid plan payload", "client_id", client.ID, "error", err)
				continue
			}
			sess.PlanFromPanel(payload.Form)

		case "search":
			var payload SearchPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if err := sess.Search(payload.Field, payload.Name); err != nil {
				h.logger.Debug("search rejected", "client_id", client.ID, "error", err)
			}

		case "nearest":
			var payload NearestPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if err := sess.Nearest(payload.Field, payload.Latitude, payload.Longitude); err != nil {
				h.logger.Debug("nearest rejected", "client_id", client.ID, "error", err)
			}

		case "ping":
			h.hub.SendTo(client, hub.Message{Type: "pong"})
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				// Unregistered, or dropped by the hub for falling behind.
				conn.Close(websocket.StatusTryAgainLater, "send buffer overflow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
