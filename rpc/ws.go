package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/ka1ii/developer-challenge/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// EventMessage is the websocket frame carrying one committed ledger event.
type EventMessage struct {
	Cursor     string            `json:"cursor"`
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Readers never send; CloseRead surfaces client disconnects as ctx cancel.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog := s.node.Events().Subscribe(ctx, cursor)
	defer cancel()

	for _, update := range backlog {
		if err := writeEventUpdate(ctx, conn, update); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func eventMessageFrom(update events.StreamUpdate) EventMessage {
	msg := EventMessage{
		Cursor:    update.Cursor,
		Sequence:  update.Sequence,
		Timestamp: update.Timestamp,
	}
	if update.Event != nil {
		msg.Type = update.Event.Type
		msg.Attributes = update.Event.Attributes
	}
	return msg
}

func writeEventUpdate(ctx context.Context, conn *websocket.Conn, update events.StreamUpdate) error {
	data, err := json.Marshal(eventMessageFrom(update))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
