package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanig/hani-replica/internal/agent"
	"github.com/hanig/hani-replica/internal/bot"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 * 1024

	// eventBuffer is the per-socket bus subscription buffer. Slower
	// clients miss events.
	eventBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16 * 1024,
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) control(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(messageType, data, time.Now().Add(wsWriteWait))
}

func (c *wsConn) close(code int, text string) {
	_ = c.control(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	_ = c.conn.Close()
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*wsConn, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return nil, false
	}
	conn.SetReadLimit(wsReadLimit)
	return &wsConn{conn: conn}, true
}

// handleStream reads one inbound message, writes every agent event as
// JSON and closes after the done event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	var in bot.Inbound
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	if err := c.conn.ReadJSON(&in); err != nil || in.UserID == "" {
		s.logger.Debug("invalid stream request", "error", err)
		c.close(websocket.CloseUnsupportedData, "expected {user_id, channel_id, text}")
		return
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// A read error means the client went away.
	go func() {
		for {
			if _, _, err := c.conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	var events <-chan agent.Event
	if s.cfg.Streaming {
		events = s.cfg.Pipeline.HandleStream(ctx, in)
	} else {
		reply := s.cfg.Pipeline.Handle(ctx, in)
		ch := make(chan agent.Event, 1)
		ch <- agent.Event{Kind: agent.EventDone, AgentType: reply.AgentType, Text: reply.Text, Final: reply.Result()}
		close(ch)
		events = ch
	}

	for ev := range events {
		if err := c.writeJSON(ev); err != nil {
			s.logger.Debug("stream write failed", "user_id", in.UserID, "error", err)
			cancel()
			// Drain so the producer can finish its bookkeeping.
			for range events {
			}
			return
		}
	}
	c.close(websocket.CloseNormalClosure, "done")
}

// handleEvents forwards event-bus events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	c, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer c.conn.Close()

	sub := s.cfg.Events.Subscribe(eventBuffer)
	defer s.cfg.Events.Unsubscribe(sub)

	gone := make(chan struct{})
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	s.logger.Debug("event subscriber connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-ping.C:
			if err := c.control(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := c.writeJSON(ev); err != nil {
				s.logger.Debug("event write failed", "error", err)
				return
			}
		}
	}
}
