package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
	"github.com/MikeSquared-Agency/floatctl/internal/records"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// socketError is sent in place of records when a frame cannot be captured.
type socketError struct {
	Type  string `json:"type"`
	Frame int    `json:"frame"`
	Error string `json:"error"`
}

// captureSocket handles GET /api/v1/capture/ws. Each text frame carries one
// conversation object. The reply is its records, one frame per record, or a
// single error frame. A bad frame does not close the connection.
func (s *Server) captureSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(int64(s.maxLineBytes))
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	source := captureSource(r) + ":ws"
	ctx := r.Context()
	for frame := 0; ; frame++ {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("capture socket closed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			if !s.sendSocket(conn, socketError{Type: "error", Frame: frame, Error: "expected a text frame"}) {
				return
			}
			continue
		}

		conv, err := conversation.Normalize(data)
		if err == nil {
			err = s.proc.Process(ctx, conv, source)
		}
		if err != nil {
			if !s.sendSocket(conn, socketError{Type: "error", Frame: frame, Error: err.Error()}) {
				return
			}
			continue
		}

		for _, rec := range records.Flatten(conv) {
			if !s.sendSocket(conn, rec) {
				return
			}
		}
	}
}

func (s *Server) sendSocket(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Warn("capture socket write failed", "error", err)
		return false
	}
	return true
}
