package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tickechain/core"
	"tickechain/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsCatchUpPage  = 256
)

// LogStreamHandler streams committed log records over a websocket. The
// optional cursor query parameter selects the first sequence to deliver.
func (s *Server) LogStreamHandler() http.Handler {
	return http.HandlerFunc(s.handleLogStreamWS)
}

func (s *Server) handleLogStreamWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if _, err := core.ParseCursor(cursor); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Readers only receive; CloseRead handles control frames and cancels the
	// context once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamLogs(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("log stream aborted", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamLogs(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.node.SubscribeLogs(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	next, _ := core.ParseCursor(cursor)
	send := func(record events.Committed) error {
		if err := writeLogRecord(ctx, conn, record); err != nil {
			return err
		}
		next = record.Sequence + 1
		return nil
	}
	// deliver keeps the stream gap free: records missing between the last
	// one sent and record (a truncated backlog or a drop while the buffer
	// was full) are read back from the durable log first.
	deliver := func(record events.Committed) error {
		if record.Sequence < next {
			return nil
		}
		for next < record.Sequence {
			missed, err := s.node.LogRange(ctx, next, wsCatchUpPage)
			if err != nil {
				return err
			}
			progressed := false
			for _, m := range missed {
				if m.Sequence >= record.Sequence {
					break
				}
				if m.Sequence < next {
					continue
				}
				if err := send(m); err != nil {
					return err
				}
				progressed = true
			}
			if !progressed {
				break
			}
		}
		return send(record)
	}

	for _, record := range backlog {
		if err := deliver(record); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if err := deliver(record); err != nil {
				return err
			}
		}
	}
}

func writeLogRecord(ctx context.Context, conn *websocket.Conn, record events.Committed) error {
	data, err := json.Marshal(LogRecord(record))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
