package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"logviewer/internal/files"
	"logviewer/internal/logging"
)

const (
	tailPingInterval = 30 * time.Second
	tailWriteWait    = 10 * time.Second
)

// tailMessage is sent to tail clients as JSON text frames.
type tailMessage struct {
	Type   string   `json:"type"` // ready, lines, truncated, error
	Path   string   `json:"path,omitempty"`
	Lines  []string `json:"lines,omitempty"`
	Offset int64    `json:"offset"`
	Error  string   `json:"error,omitempty"`
}

// handleTail streams lines appended to a file. The path is checked before
// the upgrade so failures get a normal JSON error response.
func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resolved, _, err := s.files.Stat(q.Get("path"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	fromStart := q.Get("from") == "start"
	tailer, err := files.NewTailer(resolved, fromStart)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.ComponentWarn(logging.ComponentTail, "websocket upgrade failed", zap.Error(err))
		return
	}

	files.TailSessionOpened()
	defer files.TailSessionClosed()
	s.logger.ComponentInfo(logging.ComponentTail, "tail session opened",
		zap.String("path", resolved), zap.Bool("from_start", fromStart))
	defer s.logger.ComponentInfo(logging.ComponentTail, "tail session closed", zap.String("path", resolved))

	ctx, cancel := context.WithCancel(s.sessions)
	defer cancel()

	// The reader only notices the client going away; clients send nothing
	// we act on.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.ComponentDebug(logging.ComponentTail, "tail read error", zap.Error(err))
				}
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-readerDone
	}()

	send := func(m tailMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(tailWriteWait))
		return conn.WriteJSON(m)
	}
	poll := func() error {
		upd, err := tailer.Poll()
		if err != nil {
			_ = send(tailMessage{Type: "error", Error: err.Error(), Offset: tailer.Offset()})
			return err
		}
		if upd.Truncated {
			if err := send(tailMessage{Type: "truncated", Offset: upd.Offset}); err != nil {
				return err
			}
		}
		if len(upd.Lines) > 0 {
			return send(tailMessage{Type: "lines", Lines: upd.Lines, Offset: upd.Offset})
		}
		return nil
	}

	if err := send(tailMessage{Type: "ready", Path: resolved, Offset: tailer.Offset()}); err != nil {
		return
	}
	if fromStart {
		if err := poll(); err != nil {
			return
		}
	}

	interval := s.cfg.Tail.PollInterval
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ping := time.NewTicker(tailPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.sessions.Err() != nil {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
			}
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-ticker.C:
			if err := poll(); err != nil {
				return
			}
		}
	}
}
